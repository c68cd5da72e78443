package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Settings struct {
	Database      DbSettings      `mapstructure:"database"`
	Queue         QueueSettings   `mapstructure:"queue"`
	Gateway       GatewaySettings `mapstructure:"gateway"`
	Retry         RetrySettings   `mapstructure:"retry"`
	LogLevel      string          `mapstructure:"log_level"`
	Observability Observability   `mapstructure:"observability"`
}

// RetrySettings drives the retry orchestrator. RetryOffset is the linear
// backoff unit: attempt n is redelivered after retry_offset * n.
type RetrySettings struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"required,min=1"`
	RetryOffset time.Duration `mapstructure:"retry_offset" validate:"required"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

func LoadFromFile(filePath string) (*Settings, error) {

	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	cfg := &Settings{}
	viper.SetConfigType("yaml") // Set the config type to YAML
	viper.SetConfigName("dispatcher")
	viper.AddConfigPath(filePath) // path to config
	viper.AddConfigPath(".")      // current directory

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file found or read error: %v (will rely on env)", err)
	}

	err := mergeConfig(filePath, "dispatcher."+env)
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error merging dev config: %s\n", err)
			os.Exit(1)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatalf("Failed to load from env: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return cfg, nil
}

func (c *Settings) LoadFromEnv() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("DISPATCHER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like DISPATCHER_DATABASE_TYPE

	// Bind environment variables explicitly to ensure they map correctly
	viper.BindEnv("database.type")
	viper.BindEnv("database.dsn")
	viper.BindEnv("database.uri")
	viper.BindEnv("database.name")
	viper.BindEnv("queue.type")
	viper.BindEnv("queue.url")
	viper.BindEnv("queue.projectID")
	viper.BindEnv("queue.pool_size")
	viper.BindEnv("queue.expiration_queue")
	viper.BindEnv("queue.refund_queue")
	viper.BindEnv("queue.refund_retry_queue")
	viper.BindEnv("queue.authorization_requested_queue")
	viper.BindEnv("queue.dead_letter_queue")
	viper.BindEnv("queue.dead_letter_ttl")
	viper.BindEnv("gateway.base_url")
	viper.BindEnv("gateway.api_key")
	viper.BindEnv("gateway.timeout")
	viper.BindEnv("retry.max_attempts")
	viper.BindEnv("retry.retry_offset")
	viper.BindEnv("log_level")
	viper.BindEnv("observability.service_name")
	viper.BindEnv("observability.tracing_url")
	viper.BindEnv("observability.metrics_url")

	if err := viper.Unmarshal(&c); err != nil {
		return err
	}
	return nil
}

func mergeConfig(path string, name string) error {
	viper.SetConfigName(name)
	viper.AddConfigPath(path)
	err := viper.MergeInConfig()
	if err != nil {
		return err
	}
	return nil
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
