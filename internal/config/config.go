// ABOUTME: Configuration loading and parsing for roomsync
// ABOUTME: Supports YAML or TOML files, env var expansion, env overrides and defaults

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ROOMSYNC"

// Defaults
const (
	DefaultRequestTimeout   = 15 * time.Second
	DefaultEchoTolerance    = 5 * time.Second
	DefaultDedupeTTL        = 10 * time.Minute
	DefaultDedupeSize       = 10000
	DefaultReconnectInitial = 2 * time.Second
	DefaultReconnectMax     = 30 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultSendBuffer       = 64
	DefaultMetricsAddr      = "127.0.0.1:9464"
	DefaultMetricsPath      = "/metrics"
)

// Config represents the complete roomsync configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	User    UserConfig    `yaml:"user" toml:"user"`
	Sync    SyncConfig    `yaml:"sync" toml:"sync"`
	Channel ChannelConfig `yaml:"channel" toml:"channel"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the REST and push endpoints
type ServerConfig struct {
	APIURL  string `yaml:"api_url" toml:"api_url" validate:"required,url"`
	PushURL string `yaml:"push_url" toml:"push_url" validate:"omitempty,url"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// UserConfig identifies the local user
type UserConfig struct {
	ID        string `yaml:"id" toml:"id"`
	Token     string `yaml:"token" toml:"token"`
	TokenFile string `yaml:"token_file" toml:"token_file"`
}

// SyncConfig holds reconciliation settings
type SyncConfig struct {
	EchoTolerance time.Duration `yaml:"-" toml:"-"`
	DedupeTTL     time.Duration `yaml:"-" toml:"-"`
	DedupeSize    int           `yaml:"dedupe_size" toml:"dedupe_size" validate:"gte=0"`

	EchoToleranceRaw string `yaml:"echo_tolerance" toml:"echo_tolerance"`
	DedupeTTLRaw     string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// ChannelConfig holds push connection timing
type ChannelConfig struct {
	ReconnectInitial time.Duration `yaml:"-" toml:"-"`
	ReconnectMax     time.Duration `yaml:"-" toml:"-"`
	PingInterval     time.Duration `yaml:"-" toml:"-"`
	SendBuffer       int           `yaml:"send_buffer" toml:"send_buffer" validate:"gte=0"`

	ReconnectInitialRaw string `yaml:"reconnect_initial" toml:"reconnect_initial"`
	ReconnectMaxRaw     string `yaml:"reconnect_max" toml:"reconnect_max"`
	PingIntervalRaw     string `yaml:"ping_interval" toml:"ping_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"omitempty,oneof=text json"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr" validate:"required_if=Enabled true"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads the configuration file at path, applies environment overrides
// and defaults, and validates the result. An empty path skips the file.
// Environment variables in the format ${VAR_NAME} are expanded in the file.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(path, expandEnvVars(string(data)), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// envOverrides maps ROOMSYNC_<SECTION>_<KEY> variables onto the file layout.
// Unset variables leave the file value in place.
type envOverrides struct {
	APIURL         string `envconfig:"SERVER_API_URL"`
	PushURL        string `envconfig:"SERVER_PUSH_URL"`
	RequestTimeout string `envconfig:"SERVER_REQUEST_TIMEOUT"`

	UserID    string `envconfig:"USER_ID"`
	Token     string `envconfig:"USER_TOKEN"`
	TokenFile string `envconfig:"USER_TOKEN_FILE"`

	EchoTolerance string `envconfig:"SYNC_ECHO_TOLERANCE"`
	DedupeTTL     string `envconfig:"SYNC_DEDUPE_TTL"`
	DedupeSize    *int   `envconfig:"SYNC_DEDUPE_SIZE"`

	ReconnectInitial string `envconfig:"CHANNEL_RECONNECT_INITIAL"`
	ReconnectMax     string `envconfig:"CHANNEL_RECONNECT_MAX"`
	PingInterval     string `envconfig:"CHANNEL_PING_INTERVAL"`
	SendBuffer       *int   `envconfig:"CHANNEL_SEND_BUFFER"`

	LogLevel  string `envconfig:"LOGGING_LEVEL"`
	LogFormat string `envconfig:"LOGGING_FORMAT"`

	MetricsEnabled *bool  `envconfig:"METRICS_ENABLED"`
	MetricsAddr    string `envconfig:"METRICS_ADDR"`
	MetricsPath    string `envconfig:"METRICS_PATH"`
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}

	override(&cfg.Server.APIURL, env.APIURL)
	override(&cfg.Server.PushURL, env.PushURL)
	override(&cfg.Server.RequestTimeoutRaw, env.RequestTimeout)
	override(&cfg.User.ID, env.UserID)
	override(&cfg.User.Token, env.Token)
	override(&cfg.User.TokenFile, env.TokenFile)
	override(&cfg.Sync.EchoToleranceRaw, env.EchoTolerance)
	override(&cfg.Sync.DedupeTTLRaw, env.DedupeTTL)
	override(&cfg.Channel.ReconnectInitialRaw, env.ReconnectInitial)
	override(&cfg.Channel.ReconnectMaxRaw, env.ReconnectMax)
	override(&cfg.Channel.PingIntervalRaw, env.PingInterval)
	override(&cfg.Logging.Level, env.LogLevel)
	override(&cfg.Logging.Format, env.LogFormat)
	override(&cfg.Metrics.Addr, env.MetricsAddr)
	override(&cfg.Metrics.Path, env.MetricsPath)

	if env.DedupeSize != nil {
		cfg.Sync.DedupeSize = *env.DedupeSize
	}
	if env.SendBuffer != nil {
		cfg.Channel.SendBuffer = *env.SendBuffer
	}
	if env.MetricsEnabled != nil {
		cfg.Metrics.Enabled = *env.MetricsEnabled
	}
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func decode(path, content string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(content, cfg)
		return err
	}
	return yaml.Unmarshal([]byte(content), cfg)
}

// ResolvePath returns the config file to load: flagPath, then
// ROOMSYNC_CONFIG, then the first existing default location. Returns "" when
// none applies.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}

	var candidates []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "roomsync", "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "roomsync", "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}
	if c.Server.PushURL == "" {
		c.Server.PushURL = pushURLFrom(c.Server.APIURL)
	}
	if c.Sync.EchoTolerance == 0 {
		c.Sync.EchoTolerance = DefaultEchoTolerance
	}
	if c.Sync.DedupeTTL == 0 {
		c.Sync.DedupeTTL = DefaultDedupeTTL
	}
	if c.Sync.DedupeSize == 0 {
		c.Sync.DedupeSize = DefaultDedupeSize
	}
	if c.Channel.ReconnectInitial == 0 {
		c.Channel.ReconnectInitial = DefaultReconnectInitial
	}
	if c.Channel.ReconnectMax == 0 {
		c.Channel.ReconnectMax = DefaultReconnectMax
	}
	if c.Channel.PingInterval == 0 {
		c.Channel.PingInterval = DefaultPingInterval
	}
	if c.Channel.SendBuffer == 0 {
		c.Channel.SendBuffer = DefaultSendBuffer
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// pushURLFrom derives the websocket endpoint from the REST base URL.
func pushURLFrom(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			if fe.Tag() == "required" || fe.Tag() == "required_if" {
				return fmt.Errorf("%s is required", field)
			}
			return fmt.Errorf("%s is invalid (%s %s): %v", field, fe.Tag(), fe.Param(), fe.Value())
		}
		return err
	}

	api, err := url.Parse(c.Server.APIURL)
	if err != nil || (api.Scheme != "http" && api.Scheme != "https") {
		return fmt.Errorf("server.api_url must be an http or https URL")
	}
	push, err := url.Parse(c.Server.PushURL)
	if err != nil || (push.Scheme != "ws" && push.Scheme != "wss") {
		return fmt.Errorf("server.push_url must be a ws or wss URL")
	}

	if c.Channel.ReconnectMax < c.Channel.ReconnectInitial {
		return fmt.Errorf("channel.reconnect_max must not be less than channel.reconnect_initial")
	}
	if c.Sync.EchoTolerance < 0 {
		return fmt.Errorf("sync.echo_tolerance must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"request_timeout", cfg.Server.RequestTimeoutRaw, &cfg.Server.RequestTimeout},
		{"echo_tolerance", cfg.Sync.EchoToleranceRaw, &cfg.Sync.EchoTolerance},
		{"dedupe_ttl", cfg.Sync.DedupeTTLRaw, &cfg.Sync.DedupeTTL},
		{"reconnect_initial", cfg.Channel.ReconnectInitialRaw, &cfg.Channel.ReconnectInitial},
		{"reconnect_max", cfg.Channel.ReconnectMaxRaw, &cfg.Channel.ReconnectMax},
		{"ping_interval", cfg.Channel.PingIntervalRaw, &cfg.Channel.PingInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
