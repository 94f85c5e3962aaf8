package extraction

import (
	"fmt"
	"os"
	"time"
)

// Config holds document-understanding service connection parameters.
type Config struct {
	Endpoint    string `toml:"endpoint"`
	APIKey      string `toml:"api_key"`
	TemplateKey string `toml:"template_key"`
	Timeout     int    `toml:"timeout"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Endpoint    string
	APIKey      string
	TemplateKey string
	Timeout     string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Endpoint != "" {
		c.Endpoint = overlay.Endpoint
	}
	if overlay.APIKey != "" {
		c.APIKey = overlay.APIKey
	}
	if overlay.TemplateKey != "" {
		c.TemplateKey = overlay.TemplateKey
	}
	if overlay.Timeout > 0 {
		c.Timeout = overlay.Timeout
	}
}

// TimeoutDuration returns the request timeout in seconds as a duration.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c *Config) loadDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "https://api.openai.com/v1/responses"
	}
	if c.TemplateKey == "" {
		c.TemplateKey = "templates/extract-invoice.json"
	}
	if c.Timeout <= 0 {
		c.Timeout = 120
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Endpoint != "" {
		if v := os.Getenv(env.Endpoint); v != "" {
			c.Endpoint = v
		}
	}
	if env.APIKey != "" {
		if v := os.Getenv(env.APIKey); v != "" {
			c.APIKey = v
		}
	}
	if env.TemplateKey != "" {
		if v := os.Getenv(env.TemplateKey); v != "" {
			c.TemplateKey = v
		}
	}
	if env.Timeout != "" {
		if v := os.Getenv(env.Timeout); v != "" {
			var n int
			if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
				c.Timeout = n
			}
		}
	}
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint required")
	}
	return nil
}
