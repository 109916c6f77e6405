package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/frahmantamala/adride-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/adride-payments/internal/notifier"
	"github.com/frahmantamala/adride-payments/internal/realtime"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Real-time event commands",
	Long:  `Publish test status updates to advertiser channels`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a test payment.status.updated message",
	Long:  `Publish a synthetic payment status update to one advertiser's channel through redis, for checking browser subscriptions end to end`,
	Run: func(cmd *cobra.Command, args []string) {
		publishTestEvent()
	},
}

var (
	eventAdvertiserID int64
	eventStatus       string
	eventMessage      string
)

func publishTestEvent() {
	cfg, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	lg := setupLogger(cfg)

	if cfg.Realtime.RedisURL == "" {
		fmt.Fprintln(os.Stderr, "realtime.redis_url is required to reach running API instances")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb, err := realtime.NewRedisClient(ctx, cfg.Realtime.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to redis: %v\n", err)
		os.Exit(1)
	}
	defer rdb.Close()

	now := time.Now().UTC()
	p := &payment.Payment{
		AdvertiserID:    eventAdvertiserID,
		Reference:       "ADTEST" + now.Format("150405"),
		Amount:          decimal.NewFromInt(1),
		Currency:        cfg.Payment.Currency,
		PaymentMethod:   payment.MethodMpesa,
		Status:          payment.Status(eventStatus),
		STKPushAttempts: 1,
		LastSTKPushAt:   &now,
	}

	n := notifier.New(paymentConfig(cfg), realtime.NewRedisPublisher(rdb), cfg.Realtime.ChannelPrefix, lg)
	n.Notify(ctx, p, eventMessage)

	lg.Info("test status update published",
		"channel", notifier.Channel(cfg.Realtime.ChannelPrefix, eventAdvertiserID),
		"status", eventStatus)
}

func init() {
	publishEventCmd.Flags().Int64Var(&eventAdvertiserID, "advertiser", 1, "Advertiser id whose channel receives the update")
	publishEventCmd.Flags().StringVar(&eventStatus, "status", string(payment.StatusCompleted), "Payment status to announce")
	publishEventCmd.Flags().StringVar(&eventMessage, "message", "Test status update", "Human readable message")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}
