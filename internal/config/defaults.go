package config

// applyDefaults fills in default values for unset fields.
func applyDefaults(c *Config) {
	if c.Storage.Path == "" {
		c.Storage.Path = "chime.db"
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.DefaultModel == "" {
		c.LLM.DefaultModel = "gpt-4o-mini"
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 60
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "chime"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}
