package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nostrstack/paykit/internal/lnurl"
	"github.com/nostrstack/paykit/internal/nwc"
)

var decodeFetch bool

var decodeCmd = &cobra.Command{
	Use:   "decode <lnurl-or-address-or-nwc-uri>",
	Short: "Decode an lnurl, Lightning address, or wallet connection",
	Long: `Decode prints the pay endpoint behind a bech32 lnurl or a Lightning
address, or the components of a nostr+walletconnect:// URI. With --fetch
it also queries a pay endpoint and shows its limits.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeFetch, "fetch", false, "fetch and show the endpoint's pay metadata")
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	input := args[0]

	if strings.HasPrefix(input, "nostr+walletconnect:") {
		uri, err := nwc.ParseURI(input)
		if err != nil {
			return err
		}
		fmt.Printf("wallet: %s\n", uri.WalletPubkey)
		for _, relay := range uri.Relays {
			fmt.Printf("relay: %s\n", relay)
		}
		if uri.Lud16 != "" {
			fmt.Printf("lud16: %s\n", uri.Lud16)
		}
		return nil
	}

	var endpoint string
	switch {
	case strings.HasPrefix(strings.ToLower(input), "lnurl1"):
		decoded, err := lnurl.Decode(input)
		if err != nil {
			return err
		}
		endpoint = decoded

	case strings.Contains(input, "@"):
		addr, err := lnurl.ParseLightningAddress(input)
		if err != nil {
			return err
		}
		endpoint = addr.WellKnownURL()

	default:
		return fmt.Errorf("%w: %s", lnurl.ErrInvalidLnurl, input)
	}

	fmt.Println(endpoint)

	if !decodeFetch {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	meta, err := lnurl.NewClient().FetchPayMetadataURL(ctx, endpoint)
	if err != nil {
		return err
	}

	fmt.Printf("callback: %s\n", meta.Callback)
	fmt.Printf("amount: %d - %d sats\n", meta.MinSendable/1000, meta.MaxSendable/1000)
	if meta.CommentAllowed > 0 {
		fmt.Printf("comments: up to %d chars\n", meta.CommentAllowed)
	}
	if meta.AllowsNostr {
		fmt.Printf("zaps: supported (provider %s)\n", meta.NostrPubkey)
	}
	return nil
}
