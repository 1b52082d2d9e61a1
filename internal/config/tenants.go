package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// TenantConfig is one bot deployment as declared in the tenants file.
type TenantConfig struct {
	BotName            string `mapstructure:"bot_name"`
	DisplayName        string `mapstructure:"display_name"`
	BotToken           string `mapstructure:"bot_token"`
	ChannelID          int64  `mapstructure:"channel_id"`
	PromoterChatID     int64  `mapstructure:"promoter_chat_id"`
	PriceWeekly        string `mapstructure:"price_weekly"`
	PriceMonthly       string `mapstructure:"price_monthly"`
	PriceLifetime      string `mapstructure:"price_lifetime"`
	PayPalMonthlyURL   string `mapstructure:"paypal_monthly_url"`
	PayPalLifetimeURL  string `mapstructure:"paypal_lifetime_url"`
	CryptoAddress      string `mapstructure:"crypto_address"`
	WelcomeAssetURL    string `mapstructure:"welcome_asset_url"`
	PortalReturnURL    string `mapstructure:"portal_return_url"`
	WebhookCallbackURL string `mapstructure:"webhook_callback_url"`
	WebhookSecret      string `mapstructure:"webhook_secret"`
}

// LoadTenants reads tenant definitions from a yaml/json/toml file.
// A missing file yields no tenants. Bot tokens can be supplied through
// TENANT_<BOT_NAME>_BOT_TOKEN instead of being written to the file.
func LoadTenants(path string) ([]TenantConfig, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read tenants file %s: %w", path, err)
	}

	var tenants []TenantConfig
	if err := v.UnmarshalKey("tenants", &tenants); err != nil {
		return nil, fmt.Errorf("failed to parse tenants file %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(tenants))
	for i := range tenants {
		t := &tenants[i]
		t.BotName = strings.ToLower(strings.TrimSpace(t.BotName))
		if t.BotName == "" {
			return nil, fmt.Errorf("tenant #%d has no bot_name", i)
		}
		if _, dup := seen[t.BotName]; dup {
			return nil, fmt.Errorf("tenant %q declared twice", t.BotName)
		}
		seen[t.BotName] = struct{}{}

		key := "token_override." + t.BotName
		_ = v.BindEnv(key, "TENANT_"+strings.ToUpper(t.BotName)+"_BOT_TOKEN")
		if token := v.GetString(key); token != "" {
			t.BotToken = token
		}
	}

	return tenants, nil
}
