package pipeline

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds orchestrator parameters.
type Config struct {
	Prefix          string  `toml:"prefix"`
	SheetName       string  `toml:"sheet_name"`
	ReconcileTotals bool    `toml:"reconcile_totals"`
	Tolerance       float64 `toml:"tolerance"`
	MaxConcurrent   int     `toml:"max_concurrent"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Prefix          string
	ReconcileTotals string
	Tolerance       string
	MaxConcurrent   string
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
	if overlay.Prefix != "" {
		c.Prefix = overlay.Prefix
	}
	if overlay.SheetName != "" {
		c.SheetName = overlay.SheetName
	}
	if overlay.ReconcileTotals {
		c.ReconcileTotals = true
	}
	if overlay.Tolerance > 0 {
		c.Tolerance = overlay.Tolerance
	}
	if overlay.MaxConcurrent > 0 {
		c.MaxConcurrent = overlay.MaxConcurrent
	}
}

func (c *Config) loadDefaults() {
	if c.Prefix == "" {
		c.Prefix = "invoices"
	}
	if c.SheetName == "" {
		c.SheetName = "Factura"
	}
	if c.Tolerance <= 0 {
		c.Tolerance = 0.10
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Prefix != "" {
		if v := os.Getenv(env.Prefix); v != "" {
			c.Prefix = v
		}
	}
	if env.ReconcileTotals != "" {
		if v := os.Getenv(env.ReconcileTotals); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				c.ReconcileTotals = b
			}
		}
	}
	if env.Tolerance != "" {
		if v := os.Getenv(env.Tolerance); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				c.Tolerance = f
			}
		}
	}
	if env.MaxConcurrent != "" {
		if v := os.Getenv(env.MaxConcurrent); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.MaxConcurrent = n
			}
		}
	}
}

func (c *Config) validate() error {
	if c.Prefix == "" {
		return fmt.Errorf("prefix required")
	}
	return nil
}
