package cmd

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ronakch1234/payment-reconciler/internal/payment"
)

var clearData bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample webhook events",
	Long:  `Ingest a handful of sample payment events through the webhook pipeline for development and testing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := initializeDependencies(cmd.Context())
		if err != nil {
			return err
		}
		defer deps.Close()

		if clearData {
			if err := deps.Gorm.Exec("TRUNCATE TABLE failed_payments, payments RESTART IDENTITY").Error; err != nil {
				return fmt.Errorf("failed to clear data: %w", err)
			}
			deps.Logger.Info("cleared payments and failed_payments")
		}

		now := time.Now().UTC()
		samples := []payment.WebhookRequest{
			{TransactionID: "seed-tx-001", Amount: decimal.RequireFromString("10.00"), Status: "SUCCESS", Timestamp: now.Add(-3 * time.Hour)},
			{TransactionID: "seed-tx-002", Amount: decimal.RequireFromString("25.50"), Status: "FAILED", Timestamp: now.Add(-2 * time.Hour)},
			{TransactionID: "seed-tx-003", Amount: decimal.RequireFromString("7.99"), Status: "PENDING", Timestamp: now.Add(-time.Hour)},
			{TransactionID: "seed-tx-004", Amount: decimal.RequireFromString("120.00"), Status: "FAILED", Timestamp: now},
		}

		for i := range samples {
			p, err := deps.Payments.RecordPayment(cmd.Context(), &samples[i])
			if err != nil {
				return fmt.Errorf("failed to seed %s: %w", samples[i].TransactionID, err)
			}
			fmt.Printf("seeded payment %d (%s, %s)\n", p.ID, p.TransactionID, p.Status)
		}
		return nil
	},
}

func init() {
	seedCmd.Flags().BoolVar(&clearData, "clear", false, "Clear existing data before seeding")
}
