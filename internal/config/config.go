package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Verbose  bool
	Database DatabaseConfig
	Nostr    NostrConfig
	Payment  PaymentConfig
	Regtest  RegtestConfig
}

// DatabaseConfig holds ledger database settings.
type DatabaseConfig struct {
	Path string
}

// NostrConfig holds Nostr-related settings.
type NostrConfig struct {
	Relays    []string
	SecretKey string // hex or nsec; signs zap requests
}

// PaymentConfig holds payment-flow settings.
type PaymentConfig struct {
	DefaultAddress string // recipient fallback when none is given
	NWCUri         string // nostr+walletconnect:// connection string
	MaxAmountSats  int64  // client-side cap on wallet payments, 0 = none
	AllowHTTP      bool   // permit plain-http LNURL callbacks (regtest only)
	StatusURL      string // payment-status poll template, {ref} = provider_ref
	SocketURL      string // payment-status push socket template, {ref} = provider_ref
	PollInterval   time.Duration
	SettleTimeout  time.Duration
}

// RegtestConfig holds the local development wallet settings.
type RegtestConfig struct {
	Enabled bool
	PayURL  string
}

// Load reads configuration from Viper and returns a Config struct.
func Load() (*Config, error) {
	cfg := &Config{
		Verbose: viper.GetBool("verbose"),
		Database: DatabaseConfig{
			Path: viper.GetString("database.path"),
		},
		Nostr: NostrConfig{
			Relays:    viper.GetStringSlice("nostr.relays"),
			SecretKey: viper.GetString("nostr.secret_key"),
		},
		Payment: PaymentConfig{
			DefaultAddress: viper.GetString("payment.default_address"),
			NWCUri:         viper.GetString("payment.nwc_uri"),
			MaxAmountSats:  viper.GetInt64("payment.max_amount_sats"),
			AllowHTTP:      viper.GetBool("payment.allow_http"),
			StatusURL:      viper.GetString("payment.status_url"),
			SocketURL:      viper.GetString("payment.socket_url"),
			PollInterval:   viper.GetDuration("payment.poll_interval"),
			SettleTimeout:  viper.GetDuration("payment.settle_timeout"),
		},
		Regtest: RegtestConfig{
			Enabled: viper.GetBool("regtest.enabled"),
			PayURL:  viper.GetString("regtest.pay_url"),
		},
	}

	// Apply defaults
	if cfg.Database.Path == "" {
		cfg.Database.Path = "paykit.db"
	}
	if len(cfg.Nostr.Relays) == 0 {
		cfg.Nostr.Relays = []string{"wss://relay.damus.io", "wss://nos.lol"}
	}
	if cfg.Payment.PollInterval == 0 {
		cfg.Payment.PollInterval = 4 * time.Second
	}
	if cfg.Payment.SettleTimeout == 0 {
		cfg.Payment.SettleTimeout = 5 * time.Minute
	}

	return cfg, nil
}
