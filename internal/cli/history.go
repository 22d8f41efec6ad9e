package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nostrstack/paykit/internal/config"
	"github.com/nostrstack/paykit/internal/ledger"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent payment attempts",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of attempts to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := ledger.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	ctx := context.Background()
	attempts, err := db.ListAttempts(ctx, historyLimit)
	if err != nil {
		return err
	}

	for _, a := range attempts {
		line := fmt.Sprintf("#%d  %s  %7d sats  %-15s %s",
			a.ID, a.CreatedAt.Format("2006-01-02 15:04"), a.AmountMsat/1000, a.State, a.Address)
		if a.Method != "" {
			line += "  via " + a.Method
		}
		if a.Error != "" {
			line += "  (" + a.Error + ")"
		}
		fmt.Println(line)
	}

	total, err := db.TotalPaidMsat(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("total paid: %d sats\n", total/1000)
	return nil
}
