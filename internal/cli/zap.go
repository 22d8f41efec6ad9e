package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nostrstack/paykit/internal/payment"
)

var (
	zapComment string
	zapEvent   string
	zapAddress string
)

var zapCmd = &cobra.Command{
	Use:   "zap <recipient> <amount-sats>",
	Short: "Zap a Nostr user",
	Long: `Zap sends a NIP-57 zap to the given recipient (npub or hex pubkey).
The Lightning address is taken from --address when given, otherwise from
the configured default, otherwise from the recipient's profile.`,
	Args: cobra.ExactArgs(2),
	RunE: runZap,
}

func init() {
	zapCmd.Flags().StringVar(&zapComment, "comment", "", "zap comment")
	zapCmd.Flags().StringVar(&zapEvent, "event", "", "zapped event id")
	zapCmd.Flags().StringVar(&zapAddress, "address", "", "Lightning address override")
	rootCmd.AddCommand(zapCmd)
}

func runZap(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		return fmt.Errorf("invalid amount: %s", args[1])
	}

	return runPayment(payment.Request{
		Address:         zapAddress,
		RecipientPubkey: normalizeKey(args[0]),
		EventID:         zapEvent,
		AmountSats:      amount,
		Comment:         zapComment,
		Zap:             true,
	})
}
