package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "paykit",
	Short: "Lightning payments over Nostr",
	Long: `paykit resolves Lightning addresses and LNURL-pay endpoints, builds
NIP-57 zap requests, and settles invoices through Nostr Wallet Connect,
a regtest wallet, or a manually paid invoice with settlement watching.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default paykit.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose logging")
	rootCmd.PersistentFlags().StringSlice("relay", nil, "relay URL (repeatable)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("nostr.relays", rootCmd.PersistentFlags().Lookup("relay"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("paykit")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/paykit")
	}

	viper.SetEnvPrefix("PAYKIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file is optional; flags and env cover everything.
	_ = viper.ReadInConfig()
}
