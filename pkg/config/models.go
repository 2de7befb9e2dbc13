package config

import "time"

type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Slack     SlackConfig
	Storage   StorageConfig
	Transport TransportConfig
}

type ServerConfig struct {
	Address        string
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type BackendConfig struct {
	BaseURL string `mapstructure:"baseUrl"`
}

// SlackConfig carries the OAuth parameters for the interactive login flow.
type SlackConfig struct {
	ClientID   string   `mapstructure:"clientId"`
	AuthURL    string   `mapstructure:"authUrl"`
	UserScopes []string `mapstructure:"userScopes"`
	BotScopes  []string `mapstructure:"botScopes"`
	// optional pre-provisioned bot token enabling direct emoji listing
	// without a backend session
	BotToken string `mapstructure:"botToken"`
}

type StorageConfig struct {
	Path string
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}
