// Package config provides the provider configuration file and loading logic
// for authchain.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/polisai/authchain/pkg/domain"
	"github.com/polisai/authchain/pkg/loader"
	"github.com/polisai/authchain/pkg/logging"
	"github.com/polisai/authchain/pkg/policy"
	"github.com/polisai/authchain/pkg/registry"
)

// Delegate kinds.
const (
	DelegateSpec    = "spec"
	DelegateProfile = "profile"
)

// DefaultLayer is the message layer used when none is configured.
const DefaultLayer = "HttpServlet"

// Config holds the provider configuration of one message layer.
type Config struct {
	Layer              string   `yaml:"layer" json:"layer"`
	AppContext         string   `yaml:"app_context" json:"app_context"`
	ReturnNullContexts bool     `yaml:"return_null_contexts" json:"return_null_contexts"`
	CallbackHandler    string   `yaml:"callback_handler" json:"callback_handler"`
	Delegate           string   `yaml:"delegate" json:"delegate"`
	MessageTypes       []string `yaml:"message_types" json:"message_types"`

	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Redis     RedisConfig     `yaml:"redis" json:"redis"`

	AuthContexts map[string]AuthContextConfig `yaml:"auth_contexts" json:"auth_contexts"`
}

// AuthContextConfig configures the modules and policies of one auth context.
type AuthContextConfig struct {
	Modules  []ModuleConfig `yaml:"modules" json:"modules"`
	Request  *policy.Spec   `yaml:"request,omitempty" json:"request,omitempty"`
	Response *policy.Spec   `yaml:"response,omitempty" json:"response,omitempty"`
}

// ModuleConfig is one module entry. When Parser is set, Config is handed to
// that parser and the options it produces sit underneath Options.
type ModuleConfig struct {
	ID      string         `yaml:"id" json:"id"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
	Parser  string         `yaml:"parser,omitempty" json:"parser,omitempty"`
	Config  any            `yaml:"config,omitempty" json:"config,omitempty"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" json:"insecure"`
}

// MetricsConfig holds the prometheus listener address.
type MetricsConfig struct {
	Address string `yaml:"address" json:"address"`
}

// RedisConfig configures the cross-process refresh bus. An empty Addr
// disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Channel  string `yaml:"channel" json:"channel"`
}

// ParserFactory builds config parsers by identifier.
type ParserFactory interface {
	NewConfigParser(id string, config any) (loader.ConfigParser, error)
}

func defaults() *Config {
	return &Config{
		Layer:    DefaultLayer,
		Delegate: DelegateSpec,
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Address: ":9464",
		},
		Redis: RedisConfig{
			Channel: "authchain:refresh",
		},
	}
}

// Load reads configuration from a file and applies environment variable
// overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		data = raw
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML (or JSON) document over the defaults, applies
// environment overrides and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			cfg = defaults()
			if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("AUTHCHAIN_LAYER"); val != "" {
		cfg.Layer = val
	}
	if val := os.Getenv("AUTHCHAIN_APP_CONTEXT"); val != "" {
		cfg.AppContext = val
	}
	if val := os.Getenv("AUTHCHAIN_RETURN_NULL_CONTEXTS"); val != "" {
		cfg.ReturnNullContexts = strings.EqualFold(val, "true")
	}
	if val := os.Getenv(policy.HandlerEnvKey); val != "" {
		cfg.CallbackHandler = val
	}

	if val := os.Getenv("AUTHCHAIN_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("AUTHCHAIN_LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}

	if val := os.Getenv("AUTHCHAIN_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("AUTHCHAIN_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("AUTHCHAIN_METRICS_ADDR"); val != "" {
		cfg.Metrics.Address = val
	}

	if val := os.Getenv("AUTHCHAIN_REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
	}
	if val := os.Getenv("AUTHCHAIN_REDIS_CHANNEL"); val != "" {
		cfg.Redis.Channel = val
	}
}

// Validate checks the configuration and fills in empty defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Layer) == "" {
		c.Layer = DefaultLayer
	}

	switch strings.ToLower(strings.TrimSpace(c.Delegate)) {
	case "", DelegateSpec:
		c.Delegate = DelegateSpec
	case DelegateProfile:
		c.Delegate = DelegateProfile
	default:
		return fmt.Errorf("unknown delegate %q: %w", c.Delegate, domain.ErrConfigInvalid)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis configuration: %w", err)
	}

	for id, ac := range c.AuthContexts {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("auth context with empty id: %w", domain.ErrConfigInvalid)
		}
		if err := ac.Validate(); err != nil {
			return fmt.Errorf("auth context %s: %w", id, err)
		}
	}
	return nil
}

// Validate checks the logging level name.
func (c *LoggingConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
	case "":
		c.Level = "info"
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown level %q: %w", c.Level, domain.ErrConfigInvalid)
	}
	return nil
}

// Validate requires a channel when the bus is enabled.
func (c *RedisConfig) Validate() error {
	if c.Addr != "" && strings.TrimSpace(c.Channel) == "" {
		return fmt.Errorf("channel is required when addr is set: %w", domain.ErrConfigInvalid)
	}
	return nil
}

// Validate checks every module entry.
func (c *AuthContextConfig) Validate() error {
	for i, m := range c.Modules {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("module %d: id is required: %w", i, domain.ErrConfigInvalid)
		}
		if m.Config != nil && strings.TrimSpace(m.Parser) == "" {
			return fmt.Errorf("module %s: config block without parser: %w", m.ID, domain.ErrConfigInvalid)
		}
	}
	return nil
}

// LoggingOptions converts the logging section for logging.NewLogger.
func (c *Config) LoggingOptions() logging.Config {
	return logging.Config{Level: c.Logging.Level, Pretty: c.Logging.Pretty}
}

// HandlerConfig returns the configured default callback handler selection,
// falling back to the environment.
func (c *Config) HandlerConfig() policy.HandlerConfig {
	if name := strings.TrimSpace(c.CallbackHandler); name != "" {
		return policy.HandlerConfig{Name: name}
	}
	return policy.HandlerConfigFromEnv()
}

// PolicyDelegate builds the policy delegate of the configured layer.
func (c *Config) PolicyDelegate() policy.Delegate {
	if c.Delegate == DelegateProfile {
		return policy.ProfileDelegate{}
	}

	policies := make(map[string]policy.ContextPolicies, len(c.AuthContexts))
	for id, ac := range c.AuthContexts {
		policies[id] = policy.ContextPolicies{Request: ac.Request, Response: ac.Response}
	}
	types := make([]domain.MessageType, 0, len(c.MessageTypes))
	for _, t := range c.MessageTypes {
		types = append(types, domain.MessageType(t))
	}
	return policy.NewSpecDelegate(policies, types)
}

// Modules converts the auth contexts into registry module entries. Module
// config blocks go through their parser; explicit options win over parsed
// ones.
func (c *Config) Modules(parsers ParserFactory) (registry.Modules, error) {
	out := make(registry.Modules, len(c.AuthContexts))
	for id, ac := range c.AuthContexts {
		entries := make([]registry.ModuleEntry, 0, len(ac.Modules))
		for _, m := range ac.Modules {
			options, err := moduleOptions(parsers, m)
			if err != nil {
				return nil, &domain.ConfigurationError{
					AuthContextID: id,
					AppContext:    c.AppContext,
					ModuleID:      m.ID,
					Err:           err,
				}
			}
			entries = append(entries, registry.ModuleEntry{ID: m.ID, Options: options})
		}
		out[id] = entries
	}
	return out, nil
}

func moduleOptions(parsers ParserFactory, m ModuleConfig) (map[string]any, error) {
	options := make(map[string]any, len(m.Options))
	if m.Parser != "" {
		if parsers == nil {
			return nil, fmt.Errorf("parser %s: no parser factory: %w", m.Parser, domain.ErrConfigInvalid)
		}
		parser, err := parsers.NewConfigParser(m.Parser, m.Config)
		if err != nil {
			return nil, err
		}
		parsed, err := parser.Options()
		if err != nil {
			return nil, fmt.Errorf("parser %s: %w", m.Parser, err)
		}
		for k, v := range parsed {
			options[k] = v
		}
	}
	for k, v := range m.Options {
		options[k] = v
	}
	return options, nil
}
