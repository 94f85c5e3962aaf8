package notify

import (
	"fmt"
	"os"
	"strings"
)

// Config holds SMTP notification parameters. Notifications are optional:
// an unconfigured host disables dispatch without failing the pipeline.
type Config struct {
	Enabled  bool     `toml:"enabled"`
	Host     string   `toml:"host"`
	Port     int      `toml:"port"`
	Username string   `toml:"username"`
	Password string   `toml:"password"`
	From     string   `toml:"from"`
	To       []string `toml:"to"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	To       string
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
	if overlay.Enabled {
		c.Enabled = true
	}
	if overlay.Host != "" {
		c.Host = overlay.Host
	}
	if overlay.Port > 0 {
		c.Port = overlay.Port
	}
	if overlay.Username != "" {
		c.Username = overlay.Username
	}
	if overlay.Password != "" {
		c.Password = overlay.Password
	}
	if overlay.From != "" {
		c.From = overlay.From
	}
	if len(overlay.To) > 0 {
		c.To = overlay.To
	}
}

// Configured reports whether dispatch can actually send mail.
func (c *Config) Configured() bool {
	return c.Enabled && c.Host != "" && c.From != "" && len(c.To) > 0
}

// Addr returns the SMTP server address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) loadDefaults() {
	if c.Port <= 0 {
		c.Port = 587
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Host != "" {
		if v := os.Getenv(env.Host); v != "" {
			c.Host = v
		}
	}
	if env.Port != "" {
		if v := os.Getenv(env.Port); v != "" {
			var n int
			if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
				c.Port = n
			}
		}
	}
	if env.Username != "" {
		if v := os.Getenv(env.Username); v != "" {
			c.Username = v
		}
	}
	if env.Password != "" {
		if v := os.Getenv(env.Password); v != "" {
			c.Password = v
		}
	}
	if env.From != "" {
		if v := os.Getenv(env.From); v != "" {
			c.From = v
		}
	}
	if env.To != "" {
		if v := os.Getenv(env.To); v != "" {
			c.To = splitAddresses(v)
		}
	}
}

func (c *Config) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("host required when notifications enabled")
	}
	if c.From == "" {
		return fmt.Errorf("from required when notifications enabled")
	}
	if len(c.To) == 0 {
		return fmt.Errorf("at least one recipient required when notifications enabled")
	}
	return nil
}

func splitAddresses(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
