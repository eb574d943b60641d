// Package config defines the static configuration object for IntentStream.
// Configuration is loaded once at startup from a JSON file, validated
// against an embedded JSON schema, and never mutated afterwards.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/c360/intentstream/errors"
	"github.com/c360/intentstream/message"
)

// Fallback access-control modes.
const (
	ModeAcceptAll = "accept_all"
	ModeBlacklist = "blacklist"
	ModeWhitelist = "whitelist"
)

// DefaultPriority is assigned when a handler registers without one. It
// lands in the low band (90,101].
const DefaultPriority = 101

// Duration wraps time.Duration with JSON support for both Go duration
// strings ("500ms") and plain millisecond numbers.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON encodes the duration as a Go duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "2s"/"500ms" strings or integer milliseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(value) * time.Millisecond)
	default:
		return fmt.Errorf("duration must be a string or a number, got %T", v)
	}
	return nil
}

// Config is the complete application configuration.
type Config struct {
	Lang           string         `json:"lang"`
	SecondaryLangs []string       `json:"secondary_langs,omitempty"`
	NATS           NATSConfig     `json:"nats"`
	Fallback       FallbackConfig `json:"fallback"`
	Converse       ConverseConfig `json:"converse"`
	Matchers       MatchersConfig `json:"matchers"`
	Metrics        MetricsConfig  `json:"metrics"`
}

// NATSConfig defines message bus connection settings.
type NATSConfig struct {
	URLs          []string `json:"urls,omitempty"`
	Name          string   `json:"name,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`
}

// URL returns the first configured server URL or the local default.
func (n NATSConfig) URL() string {
	if len(n.URLs) > 0 {
		return n.URLs[0]
	}
	return "nats://127.0.0.1:4222"
}

// FallbackConfig tunes the fallback registry and broadcast protocol.
type FallbackConfig struct {
	// Priorities are static per-skill overrides. An override always wins
	// over a self-reported priority, regardless of registration order.
	Priorities map[string]int `json:"fallback_priorities,omitempty"`
	// Mode selects the access-control policy: accept_all, blacklist or
	// whitelist.
	Mode      string   `json:"fallback_mode,omitempty"`
	Blacklist []string `json:"fallback_blacklist,omitempty"`
	Whitelist []string `json:"fallback_whitelist,omitempty"`
	// DiscoveryTimeout bounds the ping/pong discovery phase per band.
	DiscoveryTimeout Duration `json:"discovery_timeout,omitempty"`
	// HandlerTimeout bounds each direct per-handler attempt.
	HandlerTimeout Duration `json:"handler_timeout,omitempty"`
	// LegacyTimeout bounds the legacy single-handler broadcast.
	LegacyTimeout Duration `json:"legacy_timeout,omitempty"`
}

// ConverseConfig tunes the active-skill conversation stage.
type ConverseConfig struct {
	// Timeout bounds each per-skill converse request.
	Timeout Duration `json:"timeout,omitempty"`
}

// MatchersConfig holds the bus endpoints of the external matcher
// capabilities.
type MatchersConfig struct {
	Statistical MatcherEndpoint `json:"statistical"`
	Keyword     MatcherEndpoint `json:"keyword"`
	QA          MatcherEndpoint `json:"qa"`
}

// MatcherEndpoint is one capability's request subject and reply deadline.
type MatcherEndpoint struct {
	Subject string   `json:"subject,omitempty"`
	Timeout Duration `json:"timeout,omitempty"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"`
}

// Default returns the configuration used when a field is absent from the
// loaded file.
func Default() *Config {
	return &Config{
		Lang: "en-us",
		NATS: NATSConfig{
			URLs:          []string{"nats://127.0.0.1:4222"},
			Name:          "intentstream",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Fallback: FallbackConfig{
			Mode:             ModeAcceptAll,
			DiscoveryTimeout: Duration(500 * time.Millisecond),
			HandlerTimeout:   Duration(5 * time.Second),
			LegacyTimeout:    Duration(10 * time.Second),
		},
		Converse: ConverseConfig{
			Timeout: Duration(3 * time.Second),
		},
		Matchers: MatchersConfig{
			Statistical: MatcherEndpoint{
				Subject: "intent.service.statistical.get",
				Timeout: Duration(3 * time.Second),
			},
			Keyword: MatcherEndpoint{
				Subject: "intent.service.keyword.get",
				Timeout: Duration(3 * time.Second),
			},
			QA: MatcherEndpoint{
				Subject: "intent.service.qa.get",
				Timeout: Duration(5 * time.Second),
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// Load reads, schema-validates and decodes the configuration file at path,
// layered over Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Config", "Load", "read config file")
	}
	return Parse(data)
}

// Parse decodes raw JSON configuration layered over Default().
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, errors.Wrap(err, "Config", "Parse", "schema validation")
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapFatal(err, "Config", "Parse", "decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	if c.Lang == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate", "lang is required")
	}

	switch c.Fallback.Mode {
	case ModeAcceptAll, ModeBlacklist, ModeWhitelist:
	default:
		return errors.WrapFatal(
			fmt.Errorf("unknown fallback_mode %q", c.Fallback.Mode),
			"Config", "Validate", "check fallback mode")
	}

	for id, priority := range c.Fallback.Priorities {
		if !message.IsValidSubject(id) {
			return errors.WrapFatal(
				fmt.Errorf("skill id %q is not bus-subject safe", id),
				"Config", "Validate", "check priority overrides")
		}
		if priority < 0 || priority > 100 {
			return errors.WrapFatal(
				fmt.Errorf("priority override for %q is %d, must be 0-100", id, priority),
				"Config", "Validate", "check priority overrides")
		}
	}

	for _, field := range []struct {
		name  string
		value Duration
	}{
		{"fallback.discovery_timeout", c.Fallback.DiscoveryTimeout},
		{"fallback.handler_timeout", c.Fallback.HandlerTimeout},
		{"fallback.legacy_timeout", c.Fallback.LegacyTimeout},
		{"converse.timeout", c.Converse.Timeout},
	} {
		if field.value.Std() <= 0 {
			return errors.WrapFatal(
				fmt.Errorf("%s must be positive", field.name),
				"Config", "Validate", "check timeouts")
		}
	}

	// ValidLangs must never be empty; Lang is always a member.
	return nil
}

// ValidLangs returns the set of languages the router accepts: the default
// plus the configured secondary languages.
func (c *Config) ValidLangs() map[string]struct{} {
	langs := make(map[string]struct{}, len(c.SecondaryLangs)+1)
	langs[c.Lang] = struct{}{}
	for _, lang := range c.SecondaryLangs {
		langs[lang] = struct{}{}
	}
	return langs
}
