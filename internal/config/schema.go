// Package config provides configuration loading and validation.
// It supports TOML configuration files with environment variable
// expansion, default values, and validation.
//
// Configuration structure:
//   - [storage]: SQLite database path and agent seed file
//   - [llm]: LLM provider base URL, default model and timeouts
//   - [telegram]: Telegram bot token
//   - [logging]: Logging level, format, and output
//   - [metrics]: Prometheus metrics endpoint
//
// Environment variables can be referenced using ${VAR} or
// ${VAR:default} syntax. For example: token = "${TELEGRAM_TOKEN}"
package config

// Config represents the main application configuration.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	LLM      LLMConfig      `toml:"llm"`
	Telegram TelegramConfig `toml:"telegram"`
	Logging  LoggingConfig  `toml:"logging"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// StorageConfig holds the persistence settings.
type StorageConfig struct {
	// Path is the SQLite database file.
	Path string `toml:"path"`
	// SeedFile is an optional YAML file of agent definitions loaded on
	// startup. Missing file is not an error.
	SeedFile string `toml:"seed_file"`
}

// LLMConfig holds provider settings shared by all agents. Per-agent
// model and API key come from the agent records.
type LLMConfig struct {
	BaseURL        string `toml:"base_url"`
	DefaultModel   string `toml:"default_model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// TelegramConfig holds the Telegram channel settings.
type TelegramConfig struct {
	Token string `toml:"token"`
}

// LoggingConfig holds the logger settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	Namespace string `toml:"namespace"`
}
