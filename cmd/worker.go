package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/frahmantamala/adride-payments/internal/reconcile"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers: payment reconciliation and the payment event consumer.`,
}

var reconcileWorkerCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Start the payment reconciliation worker",
	Long:  `Periodically query M-Pesa for pending payments whose callback never arrived`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconcileWorker()
	},
}

var eventWorkerCmd = &cobra.Command{
	Use:   "events",
	Short: "Start the payment event consumer",
	Long:  `Consume the payment lifecycle topic from Kafka and write each event to the audit log`,
	Run: func(cmd *cobra.Command, args []string) {
		startEventWorker()
	},
}

var (
	maxWorkers   int
	jobQueueSize int
	batchSize    int
	groupID      string
)

func startReconcileWorker() {
	cfg, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := buildCore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer core.Close()

	rcfg := reconcile.Config{
		Interval:     cfg.Reconcile.Interval,
		StaleAfter:   cfg.Reconcile.StaleAfter,
		MaxAge:       cfg.Reconcile.MaxAge,
		BatchSize:    getIntFlag(batchSize, cfg.Reconcile.BatchSize),
		Workers:      getIntFlag(maxWorkers, cfg.Reconcile.Workers),
		QueueSize:    getIntFlag(jobQueueSize, cfg.Reconcile.QueueSize),
		QueryTimeout: cfg.Mpesa.Timeout,
	}

	core.Logger.Info("starting reconcile worker",
		"interval", rcfg.Interval,
		"stale_after", rcfg.StaleAfter,
		"max_age", rcfg.MaxAge,
		"batch_size", rcfg.BatchSize,
		"workers", rcfg.Workers,
		"queue_size", rcfg.QueueSize)

	reconciler := reconcile.New(rcfg, reconcile.NewSQLFinder(core.DB), core.Payments, core.Logger)
	if err := reconciler.Run(ctx); err != nil {
		core.Logger.Error("reconcile worker stopped", "error", err)
	}

	core.Logger.Info("reconcile worker shutdown complete")
}

func startEventWorker() {
	cfg, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	lg := setupLogger(cfg)
	if len(cfg.Kafka.Brokers) == 0 {
		fmt.Fprintln(os.Stderr, "kafka.brokers is not configured")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: groupID,
	})
	defer reader.Close()

	lg.Info("payment event consumer started", "topic", cfg.Kafka.Topic, "group_id", groupID)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			lg.Error("failed to read payment event", "error", err)
			continue
		}

		var event map[string]interface{}
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			lg.Warn("skipping malformed payment event", "offset", msg.Offset, "error", err)
			continue
		}

		lg.Info("payment event",
			"key", string(msg.Key),
			"partition", msg.Partition,
			"offset", msg.Offset,
			"event", event)
	}

	lg.Info("payment event consumer shutdown complete")
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	reconcileWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Number of query workers (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&jobQueueSize, "job-queue-size", 0, "Job queue buffer size (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Payments examined per sweep (overrides config)")
	eventWorkerCmd.Flags().StringVar(&groupID, "group-id", "adride-payments-audit", "Kafka consumer group")

	workerCmd.AddCommand(reconcileWorkerCmd)
	workerCmd.AddCommand(eventWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
