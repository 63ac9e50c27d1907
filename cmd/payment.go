package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ronakch1234/payment-reconciler/internal/payment"
)

var paymentCmd = &cobra.Command{
	Use:   "payment",
	Short: "Administrative payment store operations",
}

var getPaymentCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Print one payment as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePaymentID(args[0])
		if err != nil {
			return err
		}

		deps, err := initializeDependencies(cmd.Context())
		if err != nil {
			return err
		}
		defer deps.Close()

		p, err := deps.Payments.GetPayment(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(p)
	},
}

var deletePaymentCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete one payment and print it",
	Long:  `Delete one payment. Failed payment markers that reference it are kept.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parsePaymentID(args[0])
		if err != nil {
			return err
		}

		deps, err := initializeDependencies(cmd.Context())
		if err != nil {
			return err
		}
		defer deps.Close()

		p, err := deps.Payments.DeletePayment(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(p)
	},
}

var listStatus string

var listPaymentsCmd = &cobra.Command{
	Use:   "list",
	Short: "Print payments as JSON, optionally filtered by --status",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := payment.FilterFromQuery(listStatus)
		if err != nil {
			return err
		}

		deps, err := initializeDependencies(cmd.Context())
		if err != nil {
			return err
		}
		defer deps.Close()

		payments, err := deps.Payments.ListPayments(cmd.Context(), filter)
		if err != nil {
			return err
		}
		return printJSON(payments)
	},
}

var listMarkersCmd = &cobra.Command{
	Use:   "failed",
	Short: "Print every failed payment marker as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := initializeDependencies(cmd.Context())
		if err != nil {
			return err
		}
		defer deps.Close()

		markers, err := deps.Repository.ListFailedPayments(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(markers)
	},
}

func parsePaymentID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid payment id %q", raw)
	}
	return id, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	listPaymentsCmd.Flags().StringVar(&listStatus, "status", "", "Only list payments with this status (SUCCESS, FAILED, PENDING)")

	paymentCmd.AddCommand(getPaymentCmd, deletePaymentCmd, listPaymentsCmd, listMarkersCmd)
	rootCmd.AddCommand(paymentCmd)
}
