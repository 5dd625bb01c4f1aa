package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"go.pilab.hu/cloudguard/internal/providers"
)

// ServerConfig holds all configuration for the service. Provider client
// credentials come from environment/config, never from code.
type ServerConfig struct {
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	// RedirectBaseURL is the origin the per-provider callback path
	// /auth/callback/{providerId} is appended to.
	RedirectBaseURL string `mapstructure:"REDIRECT_BASE_URL"`

	HTTPTimeoutSec int `mapstructure:"HTTP_TIMEOUT_SEC"`
	ScanTimeoutSec int `mapstructure:"SCAN_TIMEOUT_SEC"`

	// RedisAddr switches the PKCE session store from in-memory to Redis
	// when non-empty.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	// MongoURI enables the scan archive when non-empty.
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	GithubClientID     string `mapstructure:"GITHUB_CLIENT_ID"`
	GithubClientSecret string `mapstructure:"GITHUB_CLIENT_SECRET"`
	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	AzureClientID      string `mapstructure:"AZURE_CLIENT_ID"`
	AzureClientSecret  string `mapstructure:"AZURE_CLIENT_SECRET"`
	AzureTenantID      string `mapstructure:"AZURE_TENANT_ID"`
	AWSClientID        string `mapstructure:"AWS_CLIENT_ID"`
	AWSClientSecret    string `mapstructure:"AWS_CLIENT_SECRET"`
}

// ProviderSettings maps the flat config fields onto the provider registry's
// per-provider settings. Providers without a client id stay unregistered.
func (c *ServerConfig) ProviderSettings() map[string]providers.Settings {
	return map[string]providers.Settings{
		providers.ProviderGitHub: {ClientID: c.GithubClientID, ClientSecret: c.GithubClientSecret},
		providers.ProviderGoogle: {ClientID: c.GoogleClientID, ClientSecret: c.GoogleClientSecret},
		providers.ProviderAzure:  {ClientID: c.AzureClientID, ClientSecret: c.AzureClientSecret, Tenant: c.AzureTenantID},
		providers.ProviderAWS:    {ClientID: c.AWSClientID, ClientSecret: c.AWSClientSecret},
	}
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/cloudguard/")
	v.AddConfigPath("$HOME/.cloudguard")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("REDIRECT_BASE_URL", "http://localhost:8080")
	v.SetDefault("HTTP_TIMEOUT_SEC", 30)
	v.SetDefault("SCAN_TIMEOUT_SEC", 300)
	v.SetDefault("MONGO_DB_NAME", "cloudguard")

	// AutomaticEnv only resolves keys viper already knows about, so every
	// env-sourced key needs a registered default.
	for _, key := range []string{
		"REDIS_ADDR", "REDIS_PASSWORD", "MONGO_URI",
		"GITHUB_CLIENT_ID", "GITHUB_CLIENT_SECRET",
		"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET",
		"AZURE_CLIENT_ID", "AZURE_CLIENT_SECRET", "AZURE_TENANT_ID",
		"AWS_CLIENT_ID", "AWS_CLIENT_SECRET",
	} {
		v.SetDefault(key, "")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; env vars and defaults apply.
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
