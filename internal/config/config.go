// Package config provides configuration management for the chat relay server.
// It handles loading and parsing YAML (or TOML) configuration files, environment
// overrides, and validation of server, upstream, history and storage settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultPort is used when the configuration does not set a port.
const DefaultPort = 8787

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network interface to bind. Empty binds all interfaces.
	Host string `yaml:"host" json:"host"`

	// Port is the HTTP listen port.
	Port int `yaml:"port" json:"port"`

	// Debug enables gin debug mode and debug logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LogLevel selects the logrus level (debug, info, warn, error, quiet).
	LogLevel string `yaml:"log-level,omitempty" json:"log-level,omitempty"`

	// LoggingToFile switches log output to a rotating file under LogDir.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir is the directory for rotated log files. Defaults to "logs".
	LogDir string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// LogsMaxSizeMB caps a single log file before rotation. Defaults to 10.
	LogsMaxSizeMB int `yaml:"logs-max-size-mb,omitempty" json:"logs-max-size-mb,omitempty"`

	// TLS configures HTTPS serving.
	TLS TLSConfig `yaml:"tls" json:"tls"`

	// CORS configures cross-origin response headers.
	CORS CORSConfig `yaml:"cors" json:"cors"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// ProxyURL is an optional http, https or socks5 proxy for upstream calls.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// Gemini configures the upstream model provider.
	Gemini GeminiConfig `yaml:"gemini" json:"gemini"`

	// History configures the session history cache and write-behind persistence.
	History HistoryConfig `yaml:"history" json:"history"`

	// Storage selects and configures the durable key-value backend.
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// TTS configures speech synthesis.
	TTS TTSConfig `yaml:"tts" json:"tts"`
}

// TLSConfig holds HTTPS server settings.
type TLSConfig struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Cert   string `yaml:"cert" json:"cert"`
	Key    string `yaml:"key" json:"key"`
}

// CORSConfig lists allowed browser origins. Empty allows any origin.
type CORSConfig struct {
	AllowOrigins []string `yaml:"allow-origins,omitempty" json:"allow-origins,omitempty"`
	AllowHeaders []string `yaml:"allow-headers,omitempty" json:"allow-headers,omitempty"`
}

// MetricsConfig toggles Prometheus metrics collection.
type MetricsConfig struct {
	// Enabled defaults to true when unset.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsMetricsEnabled reports whether Prometheus metrics are collected and served.
func (c *Config) IsMetricsEnabled() bool {
	if c == nil || c.Metrics.Enabled == nil {
		return true
	}
	return *c.Metrics.Enabled
}

// GetLogDir returns the log directory, defaulting to "logs".
func (c *Config) GetLogDir() string {
	if c == nil || strings.TrimSpace(c.LogDir) == "" {
		return "logs"
	}
	return c.LogDir
}

// LoadConfig reads a required configuration file.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads a configuration file. When optional is true a missing
// or unparsable file yields an empty configuration instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional {
			if !errors.Is(err, os.ErrNotExist) {
				log.Warnf("config: failed to read %s, using defaults: %v", configFile, err)
			}
			return withDefaults(&Config{}), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if errParse := parseConfig(configFile, data, &cfg); errParse != nil {
		if optional {
			log.Warnf("config: failed to parse %s, using defaults: %v", configFile, errParse)
			return withDefaults(&Config{}), nil
		}
		return nil, fmt.Errorf("failed to parse config file: %w", errParse)
	}
	return withDefaults(&cfg), nil
}

func parseConfig(path string, data []byte, cfg *Config) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		// Keys share the kebab-case yaml names, so TOML documents are re-encoded
		// through yaml to reuse a single set of struct tags.
		var doc map[string]any
		if err := toml.Unmarshal(data, &doc); err != nil {
			return err
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return err
		}
		data = out
	}
	return yaml.Unmarshal(data, cfg)
}

func withDefaults(cfg *Config) *Config {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	return cfg
}

// ApplyEnvOverrides applies well-known environment variables on top of the
// file configuration. lookup follows os.LookupEnv semantics.
func ApplyEnvOverrides(cfg *Config, lookup func(keys ...string) (string, bool)) {
	if cfg == nil || lookup == nil {
		return
	}
	if v, ok := lookup("GEMINI_API_KEY", "GOOGLE_API_KEY"); ok {
		cfg.Gemini.APIKey = v
	}
	if v, ok := lookup("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		} else {
			log.Warnf("config: ignoring invalid PORT %q", v)
		}
	}
	if v, ok := lookup("STORAGE_DRIVER"); ok {
		cfg.Storage.Driver = v
	}
	if v, ok := lookup("REDIS_ADDR", "REDIS_URL"); ok {
		cfg.Storage.Redis.Addr = v
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok {
		cfg.Storage.Redis.Password = v
	}
	if v, ok := lookup("POSTGRES_DSN", "DATABASE_URL"); ok {
		cfg.Storage.Postgres.DSN = v
	}
	if v, ok := lookup("OBJECTSTORE_ENDPOINT"); ok {
		cfg.Storage.ObjectStore.Endpoint = v
	}
	if v, ok := lookup("OBJECTSTORE_ACCESS_KEY"); ok {
		cfg.Storage.ObjectStore.AccessKey = v
	}
	if v, ok := lookup("OBJECTSTORE_SECRET_KEY"); ok {
		cfg.Storage.ObjectStore.SecretKey = v
	}
	if v, ok := lookup("OBJECTSTORE_BUCKET"); ok {
		cfg.Storage.ObjectStore.Bucket = v
	}
}

// ValidateConfig checks the configuration for errors and returns non-fatal
// warnings separately.
func ValidateConfig(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var warnings []string

	if cfg.Port < 1 || cfg.Port > 65535 {
		return warnings, fmt.Errorf("invalid port %d: must be between 1 and 65535", cfg.Port)
	}
	if cfg.TLS.Enable && (strings.TrimSpace(cfg.TLS.Cert) == "" || strings.TrimSpace(cfg.TLS.Key) == "") {
		return warnings, errors.New("tls.enable requires tls.cert and tls.key")
	}

	switch cfg.Gemini.GetBackend() {
	case BackendREST, BackendSDK:
	default:
		return warnings, fmt.Errorf("unsupported gemini.backend %q", cfg.Gemini.Backend)
	}
	switch cfg.Gemini.GetAuth() {
	case AuthAPIKey:
		if strings.TrimSpace(cfg.Gemini.APIKey) == "" {
			warnings = append(warnings, "gemini.api-key is empty; upstream calls will be rejected")
		}
	case AuthADC:
		if cfg.Gemini.GetBackend() == BackendSDK {
			return warnings, errors.New("gemini.auth adc is only supported by the rest backend")
		}
	default:
		return warnings, fmt.Errorf("unsupported gemini.auth %q", cfg.Gemini.Auth)
	}

	switch cfg.TTS.GetMode() {
	case TTSModeChunked, TTSModeSingle:
	default:
		return warnings, fmt.Errorf("unsupported tts.mode %q", cfg.TTS.Mode)
	}
	if cfg.TTS.MaxChunkLength != nil && *cfg.TTS.MaxChunkLength <= 0 {
		return warnings, errors.New("tts.max-chunk-length must be positive")
	}

	warnings = append(warnings, cfg.History.durationWarnings()...)
	if p := cfg.History.GetSweepProbability(); p < 0 || p > 1 {
		return warnings, fmt.Errorf("history.sweep-probability %v must be within [0,1]", p)
	}

	if err := cfg.Storage.validate(); err != nil {
		return warnings, err
	}
	return warnings, nil
}
