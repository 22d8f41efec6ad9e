package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nostrstack/paykit/internal/config"
	"github.com/nostrstack/paykit/internal/nwc"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the connected wallet's balance",
	RunE:  runBalance,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

func runBalance(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Payment.NWCUri == "" {
		return fmt.Errorf("no wallet configured: set payment.nwc_uri")
	}

	uri, err := nwc.ParseURI(cfg.Payment.NWCUri)
	if err != nil {
		return fmt.Errorf("parsing wallet connection: %w", err)
	}
	client, err := nwc.NewClient(uri, nwc.Options{PreferNip44: true})
	if err != nil {
		return fmt.Errorf("creating wallet client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	balanceMsat, err := client.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetching balance: %w", err)
	}
	fmt.Printf("balance: %d sats\n", balanceMsat/1000)

	if info, err := client.GetInfo(ctx); err == nil {
		if info.Alias != "" {
			fmt.Printf("wallet: %s\n", info.Alias)
		}
		if info.Network != "" {
			fmt.Printf("network: %s\n", info.Network)
		}
	}
	return nil
}
