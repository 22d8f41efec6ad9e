package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/nostrstack/paykit/internal/config"
	"github.com/nostrstack/paykit/internal/ledger"
	"github.com/nostrstack/paykit/internal/lnurl"
	"github.com/nostrstack/paykit/internal/nwc"
	"github.com/nostrstack/paykit/internal/payment"
	"github.com/nostrstack/paykit/internal/relaypool"
	"github.com/nostrstack/paykit/internal/signer"
	"github.com/nostrstack/paykit/internal/telemetry"
)

var (
	payComment string
	payZap     bool
	payTo      string
	payEvent   string
)

var payCmd = &cobra.Command{
	Use:   "pay <address> <amount-sats>",
	Short: "Pay a Lightning address or lnurl",
	Long: `Pay resolves the given Lightning address (user@domain) or bech32 lnurl,
fetches an invoice for the amount, and settles it: first through the
configured wallet channels, then by printing the invoice for manual
payment and watching for settlement.`,
	Args: cobra.ExactArgs(2),
	RunE: runPay,
}

func init() {
	payCmd.Flags().StringVar(&payComment, "comment", "", "comment sent with the payment")
	payCmd.Flags().BoolVar(&payZap, "zap", false, "attach a signed zap request")
	payCmd.Flags().StringVar(&payTo, "to", "", "recipient pubkey (hex or npub), required for --zap")
	payCmd.Flags().StringVar(&payEvent, "event", "", "zapped event id")
	rootCmd.AddCommand(payCmd)
}

func runPay(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		return fmt.Errorf("invalid amount: %s", args[1])
	}

	return runPayment(payment.Request{
		Address:         args[0],
		RecipientPubkey: normalizeKey(payTo),
		EventID:         payEvent,
		AmountSats:      amount,
		Comment:         payComment,
		Zap:             payZap,
	})
}

// runPayment wires config, ledger, signer, relays, and wallet channels
// around one payment attempt, then drives it to a terminal state.
func runPayment(req payment.Request) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, dismissing attempt...", sig)
		cancel()
	}()

	db, err := ledger.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	record, err := db.CreateAttempt(ctx, req.Address, req.RecipientPubkey, req.AmountSats*1000)
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}

	var sgn signer.Signer
	if cfg.Nostr.SecretKey != "" {
		sgn, err = signer.NewKeySigner(cfg.Nostr.SecretKey)
		if err != nil {
			return fmt.Errorf("creating signer: %w", err)
		}
	}

	// Stays nil (not a typed nil) when relays are unreachable so the
	// orchestrator skips profile and receipt lookups.
	var pool payment.RelaySource
	if req.Zap {
		p := relaypool.New(cfg.Nostr.Relays)
		if err := p.Connect(ctx); err != nil {
			log.Printf("relay connect failed, zap receipt watching disabled: %v", err)
		} else {
			defer p.Close()
			pool = p
		}
	}

	channels, err := buildChannels(cfg)
	if err != nil {
		return err
	}

	lnurlClient := lnurl.NewClient()
	lnurlClient.AllowHTTP = cfg.Payment.AllowHTTP

	orch := payment.NewOrchestrator(payment.Config{
		Lnurl:          lnurlClient,
		Signer:         sgn,
		Pool:           pool,
		Channels:       channels,
		Telemetry:      telemetry.NewEmitter(telemetry.LogSink{}, ledger.Sink{DB: db, AttemptID: record.ID}),
		DefaultAddress: cfg.Payment.DefaultAddress,
		Relays:         cfg.Nostr.Relays,
		PollInterval:   cfg.Payment.PollInterval,
		SettleTimeout:  cfg.Payment.SettleTimeout,
		StatusURLFor:   refURLFunc(cfg.Payment.StatusURL),
		SocketURLFor:   refURLFunc(cfg.Payment.SocketURL),
	})

	attempt := orch.Pay(ctx, req)
	defer attempt.Close()

	if invoice := attempt.Invoice(); invoice != "" {
		_ = db.SetInvoice(ctx, record.ID, invoice, attempt.ProviderRef())
	}

	state := attempt.State()
	if state == payment.StateWaitingPayment {
		printInvoice(attempt.Invoice())
		fmt.Println("waiting for payment...")
		state = attempt.Wait(ctx)
	}

	switch state {
	case payment.StatePaid:
		_ = db.MarkPaid(context.Background(), record.ID, attempt.Method(), attempt.Preimage())
		fmt.Printf("paid %d sats via %s\n", req.AmountSats, attempt.Method())
		if action := attempt.SuccessAction(); action != nil && action.Message != "" {
			fmt.Println(action.Message)
		}
		return nil

	case payment.StateTimedOut:
		_ = db.MarkTimedOut(context.Background(), record.ID)
		fmt.Println("payment not detected in time; the invoice below remains payable")
		printInvoice(attempt.Invoice())
		return nil

	case payment.StateError:
		reason := attempt.Err()
		_ = db.MarkFailed(context.Background(), record.ID, reason)
		return errors.New(reason)

	default:
		// Dismissed by signal before settlement.
		_ = db.MarkFailed(context.Background(), record.ID, "dismissed")
		return nil
	}
}

func buildChannels(cfg *config.Config) ([]payment.WalletChannel, error) {
	var channels []payment.WalletChannel

	if cfg.Payment.NWCUri != "" {
		uri, err := nwc.ParseURI(cfg.Payment.NWCUri)
		if err != nil {
			return nil, fmt.Errorf("parsing wallet connection: %w", err)
		}
		client, err := nwc.NewClient(uri, nwc.Options{
			MaxAmountMsat: cfg.Payment.MaxAmountSats * 1000,
			PreferNip44:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("creating wallet client: %w", err)
		}
		channels = append(channels, &payment.NWCChannel{Client: client})
	}

	if cfg.Regtest.Enabled {
		channels = append(channels, &payment.RegtestChannel{
			PayURL:  cfg.Regtest.PayURL,
			Enabled: true,
		})
	}

	return channels, nil
}

// refURLFunc turns a config URL template into a provider_ref resolver.
// The template's {ref} placeholder is replaced with the reference; an
// empty template disables the endpoint.
func refURLFunc(template string) func(string) string {
	if template == "" {
		return nil
	}
	return func(providerRef string) string {
		return strings.ReplaceAll(template, "{ref}", providerRef)
	}
}

func printInvoice(invoice string) {
	if invoice == "" {
		return
	}
	fmt.Println(invoice)

	qr, err := qrcode.New(invoice, qrcode.Medium)
	if err != nil {
		log.Printf("qr render failed: %v", err)
		return
	}
	fmt.Print(qr.ToSmallString(false))
}
