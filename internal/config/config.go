// Package config loads mcp-aras settings from an optional YAML file and the
// environment.
//
// Precedence, lowest first: built-in defaults, the YAML file (with ${VAR}
// expansion), environment variables, then command-line flags applied by the
// caller before Validate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/mcp-aras/internal/aras"
	"github.com/giantswarm/mcp-aras/internal/logging"
)

// Environment variable names.
const (
	EnvURL              = "API_URL"
	EnvUsername         = "API_USERNAME"
	EnvPassword         = "API_PASSWORD"
	EnvDatabase         = "ARAS_DATABASE"
	EnvClientID         = "API_CLIENT_ID"
	EnvTimeout          = "API_TIMEOUT"
	EnvRetryCount       = "API_RETRY_COUNT"
	EnvRetryDelay       = "API_RETRY_DELAY"
	EnvRateLimit        = "API_RATE_LIMIT"
	EnvDiscoverEndpoint = "ARAS_DISCOVER_TOKEN_ENDPOINT"
	EnvLogLevel         = "LOG_LEVEL"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultRetryCount    = 3
	defaultRetryDelay    = time.Second
	defaultMaxRetryDelay = 30 * time.Second
)

// Config holds the complete runtime configuration.
type Config struct {
	Aras    ArasConfig    `yaml:"aras"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
}

// ArasConfig identifies the PLM server and the account used against it.
type ArasConfig struct {
	URL                   string `yaml:"url"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	Database              string `yaml:"database"`
	ClientID              string `yaml:"client_id"`
	DiscoverTokenEndpoint bool   `yaml:"discover_token_endpoint"`
}

// ClientConfig tunes request behaviour.
type ClientConfig struct {
	Timeout Duration `yaml:"timeout"`
	// RetryCount is the total number of attempts per request, the first
	// one included. 1 disables retries.
	RetryCount    int      `yaml:"retry_count"`
	RetryDelay    Duration `yaml:"retry_delay"`
	MaxRetryDelay Duration `yaml:"max_retry_delay"`
	// RateLimit is in requests per second; zero disables throttling.
	RateLimit float64 `yaml:"rate_limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `yaml:"level"`
	TraceHTTP bool   `yaml:"trace_http"`
}

// Duration accepts Go duration strings ("1500ms") as well as plain seconds
// ("30", "0.5") in YAML and in the environment.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// ParseDuration parses a duration string or a number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			Timeout:       Duration(defaultTimeout),
			RetryCount:    defaultRetryCount,
			RetryDelay:    Duration(defaultRetryDelay),
			MaxRetryDelay: Duration(defaultMaxRetryDelay),
		},
		Logging: LoggingConfig{Level: "INFO"},
	}
}

// Load builds the configuration from defaults, the optional file at path and
// the process environment. It does not validate; call Validate once flags
// have been applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return invalid("failed to read config file: %v", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return invalid("failed to parse config file %s: %v", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str(EnvURL, &c.Aras.URL)
	str(EnvUsername, &c.Aras.Username)
	str(EnvPassword, &c.Aras.Password)
	str(EnvDatabase, &c.Aras.Database)
	str(EnvClientID, &c.Aras.ClientID)
	str(EnvLogLevel, &c.Logging.Level)

	if v, ok := lookup(EnvTimeout); ok && v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return invalid("%s: %v", EnvTimeout, err)
		}
		c.Client.Timeout = Duration(d)
	}
	if v, ok := lookup(EnvRetryDelay); ok && v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return invalid("%s: %v", EnvRetryDelay, err)
		}
		c.Client.RetryDelay = Duration(d)
	}
	if v, ok := lookup(EnvRetryCount); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return invalid("%s: invalid integer %q", EnvRetryCount, v)
		}
		c.Client.RetryCount = n
	}
	if v, ok := lookup(EnvRateLimit); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return invalid("%s: invalid number %q", EnvRateLimit, v)
		}
		c.Client.RateLimit = f
	}
	if v, ok := lookup(EnvDiscoverEndpoint); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return invalid("%s: invalid boolean %q", EnvDiscoverEndpoint, v)
		}
		c.Aras.DiscoverTokenEndpoint = b
	}
	return nil
}

// Validate checks required values and ranges. Every failure is an
// aras ConfigError.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Aras.URL) == "" {
		missing = append(missing, EnvURL)
	}
	if strings.TrimSpace(c.Aras.Username) == "" {
		missing = append(missing, EnvUsername)
	}
	if strings.TrimSpace(c.Aras.Database) == "" {
		missing = append(missing, EnvDatabase)
	}
	if len(missing) > 0 {
		return invalid("missing required settings: %s", strings.Join(missing, ", "))
	}

	if c.Client.Timeout <= 0 {
		return invalid("%s must be positive", EnvTimeout)
	}
	if c.Client.RetryCount < 1 {
		return invalid("%s is the total number of attempts per request (1 means no retries) and must be at least 1, got %d",
			EnvRetryCount, c.Client.RetryCount)
	}
	if c.Client.RetryDelay < 0 {
		return invalid("%s must not be negative", EnvRetryDelay)
	}
	if c.Client.MaxRetryDelay < 0 {
		return invalid("max_retry_delay must not be negative")
	}
	if c.Client.RateLimit < 0 {
		return invalid("%s must not be negative", EnvRateLimit)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return invalid("%s: %v", EnvLogLevel, err)
	}
	return nil
}

// Credentials returns the token credentials.
func (c *Config) Credentials() aras.Credentials {
	return aras.Credentials{
		URL:      strings.TrimRight(strings.TrimSpace(c.Aras.URL), "/"),
		Username: c.Aras.Username,
		Password: c.Aras.Password,
		Database: c.Aras.Database,
		ClientID: c.Aras.ClientID,
	}
}

// RetryPolicy returns the client retry policy.
func (c *Config) RetryPolicy() aras.RetryPolicy {
	return aras.RetryPolicy{
		MaxAttempts: c.Client.RetryCount,
		BaseDelay:   time.Duration(c.Client.RetryDelay),
		MaxDelay:    time.Duration(c.Client.MaxRetryDelay),
		Timeout:     time.Duration(c.Client.Timeout),
	}
}

// LogLevel returns the parsed log level, defaulting to INFO.
func (c *Config) LogLevel() logging.Level {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}

func invalid(format string, args ...interface{}) error {
	return &aras.Error{Kind: aras.KindConfig, Detail: fmt.Sprintf(format, args...)}
}
