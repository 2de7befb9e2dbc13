package config

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", "127.0.0.1:8787")
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("backend.baseUrl", "http://localhost:3000")
	v.SetDefault("slack.clientId", "910200304849.10006039762304")
	v.SetDefault("slack.authUrl", "https://slack.com/oauth/v2/authorize")
	v.SetDefault("slack.userScopes", []string{
		"identity.basic",
		"identity.email",
		"identity.avatar",
		"identity.team",
	})
	v.SetDefault("slack.botScopes", []string{"emoji:read"})
	v.SetDefault("slack.botToken", "")
	v.SetDefault("storage.path", "session.json")
	v.SetDefault("transport.readTimeout", "60s")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("MEETMOJI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
