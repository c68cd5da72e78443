package config

// DbSettings holds configuration for the event log and view stores.
type DbSettings struct {
	Type     string `mapstructure:"type" validate:"required,oneof=mongo postgres spanner"`
	DSN      string `mapstructure:"dsn"`      // Postgres
	URI      string `mapstructure:"uri"`      // Mongo connection string or Spanner database path
	Database string `mapstructure:"name"`     // Mongo database name
}
