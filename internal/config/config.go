package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`
	Server      struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Retrieval struct {
		URL  string `mapstructure:"url"`
		TopK int    `mapstructure:"top_k"`
	} `mapstructure:"retrieval"`
	Auth struct {
		Issuer        string `mapstructure:"issuer"`
		ClientID      string `mapstructure:"client_id"`
		ClientSecret  string `mapstructure:"client_secret"`
		RedirectURL   string `mapstructure:"redirect_url"`
		DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	} `mapstructure:"auth"`
	Billing struct {
		UnitCreditValueUSD float64 `mapstructure:"unit_credit_value_usd"`
		PlatformFeePercent float64 `mapstructure:"platform_fee_percent"`
		StarterCredits     int64   `mapstructure:"starter_credits"`
	} `mapstructure:"billing"`
	RateLimit struct {
		TenantPerMinute int64            `mapstructure:"tenant_per_minute"`
		TenantPerHour   int64            `mapstructure:"tenant_per_hour"`
		DevicePerMinute int64            `mapstructure:"device_per_minute"`
		DevicePerHour   int64            `mapstructure:"device_per_hour"`
		RouteCosts      map[string]int64 `mapstructure:"route_costs"`
		AutoSuspend     bool             `mapstructure:"auto_suspend"`
		SuspendMinutes  int              `mapstructure:"suspend_minutes"`
	} `mapstructure:"rate_limit"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("retrieval.top_k", 3)
	viper.SetDefault("billing.unit_credit_value_usd", 0.01)
	viper.SetDefault("billing.platform_fee_percent", 25)
	viper.SetDefault("billing.starter_credits", 100)
	viper.SetDefault("rate_limit.tenant_per_minute", 120)
	viper.SetDefault("rate_limit.tenant_per_hour", 2000)
	viper.SetDefault("rate_limit.device_per_minute", 60)
	viper.SetDefault("rate_limit.device_per_hour", 800)
	viper.SetDefault("rate_limit.auto_suspend", true)
	viper.SetDefault("rate_limit.suspend_minutes", 10)

	if err := viper.ReadInConfig(); err != nil {
		// a missing config file is fine when running on env vars and defaults
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Auth.Issuer = normalizeIssuer(config.Auth.Issuer)

	return &config, nil
}

// normalizeIssuer ensures the provided OIDC issuer string is in a predictable
// form. It removes any trailing slash and leaves the scheme and path intact,
// so the full URL from the provider's admin console can be pasted as-is.
func normalizeIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if strings.HasSuffix(iss, "/") {
		iss = strings.TrimRight(iss, "/")
	}
	return iss
}
