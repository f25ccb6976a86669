package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config stores all configuration for talking to a device cloud account.
// The values are read by viper from a config file or environment variable.
type Config struct {
	// Account Configurations
	BaseURL  string `mapstructure:"CLOUD_BASE_URL" validate:"required,url"`
	Username string `mapstructure:"CLOUD_USERNAME" validate:"required"`
	Password string `mapstructure:"CLOUD_PASSWORD" validate:"required"`

	// Transport Configurations
	HTTPRetries        int `mapstructure:"HTTP_RETRIES" validate:"min=0"`
	HTTPTimeoutSeconds int `mapstructure:"HTTP_TIMEOUT_SECONDS" validate:"min=1"`

	// Paging Defaults
	PageSize int `mapstructure:"PAGE_SIZE" validate:"min=1"`

	// Credential Store Configurations
	CredentialFile string `mapstructure:"CREDENTIAL_FILE"`
	EncryptionKey  string `mapstructure:"DC_SECRET"`

	// Mock Cloud Configurations
	MockListenAddress string `mapstructure:"MOCK_LISTEN_ADDRESS"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Set Defaults
	v.SetDefault("CLOUD_BASE_URL", "https://devicecloud.example.com")
	v.SetDefault("CLOUD_USERNAME", "")
	v.SetDefault("CLOUD_PASSWORD", "")
	v.SetDefault("HTTP_RETRIES", 0)
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 60)
	v.SetDefault("PAGE_SIZE", 1000)
	v.SetDefault("CREDENTIAL_FILE", "credentials.json")
	v.SetDefault("DC_SECRET", "1234567890123456789012345678901212345678901234567890123456789012")
	v.SetDefault("MOCK_LISTEN_ADDRESS", ":8300")

	// 2. Read app.yaml if exists
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// 3. Read .env if exists (overriding app.yaml)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// 4. Allow Viper to read Environment Variables (highest priority)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the loaded configuration before a connection is built.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
