package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"

	"github.com/nostrstack/paykit/internal/config"
	"github.com/nostrstack/paykit/internal/relaypool"
	"github.com/nostrstack/paykit/internal/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch <recipient>",
	Short: "Watch incoming zaps for a pubkey",
	Long: `Watch subscribes to the configured relays and logs every valid zap
receipt addressed to the given recipient (npub or hex pubkey) until
interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	recipient := normalizeKey(args[0])

	log.Printf("watching zaps for %s", displayKey(recipient))
	log.Printf("relays: %v", cfg.Nostr.Relays)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	pool := relaypool.New(cfg.Nostr.Relays)
	if err := pool.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to relays: %w", err)
	}
	defer pool.Close()

	events, stop, err := pool.WatchZapReceipts(ctx, recipient)
	if err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-events:
			if !ok {
				return nil
			}
			receipt, err := zap.ValidateReceipt(evt, "")
			if err != nil {
				log.Printf("ignoring receipt %s: %v", evt.ID[:8], err)
				continue
			}
			log.Printf("zap: %d sats from %s", receipt.AmountMsat/1000, displayKey(receipt.SenderPubkey))
			if receipt.Request != nil && receipt.Request.Content != "" {
				log.Printf("  comment: %s", receipt.Request.Content)
			}
		}
	}
}

// displayKey renders a hex pubkey as npub for log output.
func displayKey(pubkeyHex string) string {
	if npub, err := nip19.EncodePublicKey(pubkeyHex); err == nil {
		return npub
	}
	return pubkeyHex
}
