package internal

// Option configures the application before Run starts it.
type Option func(*application)

type application struct {
	config  *Config
	mcpMode bool
}

// WithConfig supplies the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithMCPMode serves the query surface over MCP stdio instead of HTTP.
func WithMCPMode(enabled bool) Option {
	return func(a *application) {
		a.mcpMode = enabled
	}
}
