package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/frahmantamala/adride-payments/internal/auth"
	"github.com/frahmantamala/adride-payments/internal/core/datamodel/campaign"
	"github.com/frahmantamala/adride-payments/internal/user"
	userpg "github.com/frahmantamala/adride-payments/internal/user/postgres"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed an advertiser, a finance approver, a payments manager and a campaign awaiting payment.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		gdb, err := initGorm(db)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		ctx := context.Background()
		if clearData {
			if err := gdb.WithContext(ctx).Exec("TRUNCATE payments, campaigns, user_permissions, permissions, users RESTART IDENTITY CASCADE").Error; err != nil {
				log.Fatalf("failed to clear data: %v", err)
			}
			fmt.Println("Cleared existing data")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte("password"), cfg.Security.BCryptCost)
		if err != nil {
			log.Fatalf("failed to hash password: %v", err)
		}

		repo := userpg.NewRepository(gdb)
		seeds := []struct {
			user        user.User
			permissions []string
		}{
			{
				user:        user.User{Email: "advertiser@adride.co.ke", Name: "Wanjiku Kamau", PhoneNumber: "254712345678", CompanyName: "Kamau Foods"},
				permissions: nil,
			},
			{
				user:        user.User{Email: "finance@adride.co.ke", Name: "Finance Approver"},
				permissions: []string{auth.PermissionApprovePayments},
			},
			{
				user:        user.User{Email: "ops@adride.co.ke", Name: "Payments Manager"},
				permissions: []string{auth.PermissionApprovePayments, auth.PermissionManagePayments},
			},
		}

		var advertiserID int64
		for i, s := range seeds {
			id, err := ensureUser(ctx, gdb, repo, s.user, string(hash))
			if err != nil {
				log.Fatalf("failed to seed user %s: %v", s.user.Email, err)
			}
			for _, perm := range s.permissions {
				if err := repo.GrantPermission(ctx, id, perm); err != nil {
					log.Fatalf("failed to grant %s to %s: %v", perm, s.user.Email, err)
				}
			}
			if i == 0 {
				advertiserID = id
			}
			fmt.Printf("Seeded user %s (id=%d) permissions=%v\n", s.user.Email, id, s.permissions)
		}

		var count int64
		if err := gdb.WithContext(ctx).Model(&campaign.Campaign{}).Where("advertiser_id = ?", advertiserID).Count(&count).Error; err != nil {
			log.Fatalf("failed to count campaigns: %v", err)
		}
		if count == 0 {
			c := campaign.Campaign{
				AdvertiserID:              advertiserID,
				Name:                      "Nairobi CBD helmet run",
				Budget:                    decimal.NewFromInt(15000),
				Status:                    campaign.StatusPendingPayment,
				PaymentVerificationStatus: campaign.VerificationPending,
			}
			if err := gdb.WithContext(ctx).Create(&c).Error; err != nil {
				log.Fatalf("failed to seed campaign: %v", err)
			}
			fmt.Printf("Seeded campaign %q (id=%d)\n", c.Name, c.ID)
		}

		fmt.Println("Seeding complete. All seeded users log in with password \"password\".")
	},
}

func ensureUser(ctx context.Context, gdb *gorm.DB, repo *userpg.Repository, u user.User, hash string) (int64, error) {
	var id int64
	err := gdb.WithContext(ctx).Raw("SELECT id FROM users WHERE email = ?", u.Email).Row().Scan(&id)
	if err == nil {
		return id, nil
	}

	u.PasswordHash = hash
	u.IsActive = true
	if err := repo.Create(ctx, &u); err != nil {
		return 0, err
	}
	return u.ID, nil
}
