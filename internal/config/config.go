package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Core
	BotToken         string  `env:"BOT_TOKEN,required"`
	InvoiceChannelID int64   `env:"INVOICE_CHANNEL_ID,required"`
	AdminChatID      int64   `env:"ADMIN_CHAT_ID"`
	AllowedUserIDs   []int64 `env:"ALLOWED_USER_IDS" envSeparator:","`

	// LNbits gateway
	LNbitsURL    string `env:"LNBITS_URL,required"`
	LNbitsAPIKey string `env:"LNBITS_API_KEY,required"`

	// Game-server bridge
	BridgeURL   string `env:"BRIDGE_URL,required"`
	BridgeToken string `env:"BRIDGE_TOKEN,required"`

	// Currency
	CurrencyName string `env:"CURRENCY_NAME" envDefault:"blood"`
	PricePerUnit int64  `env:"PRICE_PER_UNIT_SATS" envDefault:"1"`
	SatsPerUnit  int64  `env:"SATS_PER_UNIT" envDefault:"1"`

	// VIP
	VIPPriceSats int64  `env:"VIP_PRICE_SATS" envDefault:"1000"`
	VIPGroup     string `env:"VIP_GROUP" envDefault:"vip"`

	// Invoice lifecycle
	CheckInterval  time.Duration `env:"CHECK_INTERVAL" envDefault:"10s"`
	InvoiceTimeout time.Duration `env:"INVOICE_TIMEOUT" envDefault:"300s"`
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"25"`

	// Abuse guard
	MaxUnitsPerOrder    int64         `env:"MAX_UNITS_PER_ORDER" envDefault:"100000"`
	MaxPendingPerPlayer int           `env:"MAX_PENDING_PER_PLAYER" envDefault:"3"`
	CommandCooldown     time.Duration `env:"COMMAND_COOLDOWN" envDefault:"30s"`

	// Lightning address policy
	BlacklistedDomains []string `env:"BLACKLISTED_DOMAINS" envSeparator:","`
	WhitelistedDomains []string `env:"WHITELISTED_DOMAINS" envSeparator:","`

	// Storage
	DataDir string `env:"DATA_DIR" envDefault:"data"`

	// Command names
	BuyCommand  string `env:"BUY_COMMAND" envDefault:"buy"`
	SendCommand string `env:"SEND_COMMAND" envDefault:"send"`
	VIPCommand  string `env:"VIP_COMMAND" envDefault:"vip"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.LNbitsURL = strings.TrimRight(cfg.LNbitsURL, "/")
	cfg.BridgeURL = strings.TrimRight(cfg.BridgeURL, "/")
	for i, d := range cfg.BlacklistedDomains {
		cfg.BlacklistedDomains[i] = strings.ToLower(strings.TrimSpace(d))
	}
	for i, d := range cfg.WhitelistedDomains {
		cfg.WhitelistedDomains[i] = strings.ToLower(strings.TrimSpace(d))
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := url.ParseRequestURI(c.LNbitsURL); err != nil {
		return fmt.Errorf("invalid LNBITS_URL: %w", err)
	}
	if _, err := url.ParseRequestURI(c.BridgeURL); err != nil {
		return fmt.Errorf("invalid BRIDGE_URL: %w", err)
	}
	if c.PricePerUnit <= 0 || c.SatsPerUnit <= 0 || c.VIPPriceSats <= 0 {
		return fmt.Errorf("prices must be positive")
	}
	if c.CheckInterval <= 0 || c.InvoiceTimeout <= 0 {
		return fmt.Errorf("check interval and invoice timeout must be positive")
	}
	if c.MaxRetries <= 0 || c.MaxPendingPerPlayer <= 0 || c.MaxUnitsPerOrder <= 0 {
		return fmt.Errorf("retry, pending and order limits must be positive")
	}
	return nil
}

// IsAllowed reports whether a user may issue market commands. An empty
// allowlist admits everyone.
func (c *Config) IsAllowed(telegramID int64) bool {
	if len(c.AllowedUserIDs) == 0 {
		return true
	}
	for _, id := range c.AllowedUserIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

// DomainAllowed applies the lightning-address domain policy: when a
// whitelist is configured it wins, otherwise the blacklist applies.
func (c *Config) DomainAllowed(domain string) bool {
	domain = strings.ToLower(domain)
	if len(c.WhitelistedDomains) > 0 {
		for _, d := range c.WhitelistedDomains {
			if d == domain {
				return true
			}
		}
		return false
	}
	for _, d := range c.BlacklistedDomains {
		if d == domain {
			return false
		}
	}
	return true
}
