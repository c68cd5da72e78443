package config

import "time"

// GatewaySettings holds configuration for the payment gateway client.
type GatewaySettings struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	APIKey  string        `mapstructure:"api_key" validate:"required"`
	Timeout time.Duration `mapstructure:"timeout"`
}
