package config

import (
	"fmt"
	"slices"

	"github.com/caarlos0/env/v10"
)

// Overrides names the variables that were read from the environment rather
// than from envDefault, sorted. Values are left out so secrets never reach a
// log line.
type Overrides []string

// Option adjusts how Load reads variables.
type Option func(*env.Options)

// WithEnvironment reads variables from vars instead of the process
// environment.
func WithEnvironment(vars map[string]string) Option {
	return func(o *env.Options) { o.Environment = vars }
}

// WithPrefix prepends prefix to every variable name.
func WithPrefix(prefix string) Option {
	return func(o *env.Options) { o.Prefix = prefix }
}

// Load fills cfg from its `env` tags. time.Duration fields accept Go
// duration strings such as "3s" or "30m".
func Load(cfg any, opts ...Option) (Overrides, error) {
	var overrides Overrides
	o := env.Options{
		OnSet: func(key string, value any, isDefault bool) {
			if !isDefault && value != "" {
				overrides = append(overrides, key)
			}
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := env.ParseWithOptions(cfg, o); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	slices.Sort(overrides)
	return slices.Compact(overrides), nil
}
