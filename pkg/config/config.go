// Package config layers the mirror client's settings: built-in defaults, then
// an optional INI file, then LRU_MIRROR_* environment variables (optionally
// from a .env file), then command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	robfig "github.com/robfig/config"
)

// Section is the INI section holding the client's options.
const Section = "mirror"

const EnvPrefix = "LRU_MIRROR_"

const (
	KeyAddr           = "addr"
	KeySecure         = "secure"
	KeyStreamPath     = "stream-path"
	KeyReconnectDelay = "reconnect-delay"
	KeyMessageTTL     = "message-ttl"
	KeyRequestTimeout = "request-timeout"
	KeyLogLevel       = "log-level"
	KeyJournalPath    = "journal"
	KeyMetricsAddr    = "metrics-addr"
)

var keys = []string{
	KeyAddr,
	KeySecure,
	KeyStreamPath,
	KeyReconnectDelay,
	KeyMessageTTL,
	KeyRequestTimeout,
	KeyLogLevel,
	KeyJournalPath,
	KeyMetricsAddr,
}

var usage = map[string]string{
	KeyAddr:           "the address of the cache service",
	KeySecure:         "use https and wss",
	KeyStreamPath:     "the path of the push channel",
	KeyReconnectDelay: "the fixed delay before reconnecting the push channel",
	KeyMessageTTL:     "how long an outcome message is shown",
	KeyRequestTimeout: "the REST request timeout, 0 for the transport default",
	KeyLogLevel:       "debug, info, warn or error",
	KeyJournalPath:    "write the mirror journal here on exit",
	KeyMetricsAddr:    "serve prometheus metrics on this address",
}

type Config struct {
	Addr           string
	Secure         bool
	StreamPath     string
	ReconnectDelay time.Duration
	MessageTTL     time.Duration
	RequestTimeout time.Duration
	LogLevel       slog.Level
	JournalPath    string
	MetricsAddr    string
}

func Default() Config {
	return Config{
		Addr:           "127.0.0.1:8080",
		StreamPath:     "/ws",
		ReconnectDelay: time.Second,
		MessageTTL:     3 * time.Second,
		LogLevel:       slog.LevelInfo,
	}
}

// BaseURL is the REST root of the cache service.
func (c Config) BaseURL() (*url.URL, error) {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	u, err := url.Parse(scheme + "://" + c.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse address: %w", err)
	}
	return u, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if !strings.HasPrefix(c.StreamPath, "/") {
		errs = append(errs, fmt.Errorf("stream path %q must start with /", c.StreamPath))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("reconnect delay must be positive, got %s", c.ReconnectDelay))
	}
	if c.MessageTTL <= 0 {
		errs = append(errs, fmt.Errorf("message ttl must be positive, got %s", c.MessageTTL))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request timeout must not be negative, got %s", c.RequestTimeout))
	}
	return errors.Join(errs...)
}

// Set assigns one option from its text form.
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	case KeyAddr:
		c.Addr = value
	case KeySecure:
		c.Secure, err = strconv.ParseBool(value)
	case KeyStreamPath:
		c.StreamPath = value
	case KeyReconnectDelay:
		c.ReconnectDelay, err = time.ParseDuration(value)
	case KeyMessageTTL:
		c.MessageTTL, err = time.ParseDuration(value)
	case KeyRequestTimeout:
		c.RequestTimeout, err = time.ParseDuration(value)
	case KeyLogLevel:
		err = c.LogLevel.UnmarshalText([]byte(value))
	case KeyJournalPath:
		c.JournalPath = value
	case KeyMetricsAddr:
		c.MetricsAddr = value
	default:
		return fmt.Errorf("unknown option %q", key)
	}
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return nil
}

// Get returns the text form of one option.
func (c Config) Get(key string) string {
	switch key {
	case KeyAddr:
		return c.Addr
	case KeySecure:
		return strconv.FormatBool(c.Secure)
	case KeyStreamPath:
		return c.StreamPath
	case KeyReconnectDelay:
		return c.ReconnectDelay.String()
	case KeyMessageTTL:
		return c.MessageTTL.String()
	case KeyRequestTimeout:
		return c.RequestTimeout.String()
	case KeyLogLevel:
		return strings.ToLower(c.LogLevel.String())
	case KeyJournalPath:
		return c.JournalPath
	case KeyMetricsAddr:
		return c.MetricsAddr
	}
	return ""
}

// ApplyFile overlays the options present in the [mirror] section of an INI
// file.
func (c *Config) ApplyFile(path string) error {
	f, err := robfig.ReadDefault(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	for _, key := range keys {
		if !f.HasOption(Section, key) {
			continue
		}
		raw, err := f.String(Section, key)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		if err := c.Set(key, raw); err != nil {
			return err
		}
	}
	return nil
}

func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// ApplyEnv overlays LRU_MIRROR_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, key := range keys {
		if raw, ok := lookup(EnvName(key)); ok {
			if err := c.Set(key, raw); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadDotEnv copies the variables of a .env file into the process
// environment without overriding ones already set. A missing file is fine.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load builds the configuration from args and the environment. lookup is
// normally os.LookupEnv.
func Load(name string, args []string, lookup func(string) (string, bool)) (Config, error) {
	defaults := Default()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "an INI file with a [mirror] section")
	envFile := fs.String("env-file", ".env", "a .env file to load LRU_MIRROR_* variables from")
	for _, key := range keys {
		fs.String(key, defaults.Get(key), usage[key])
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := defaults
	if *configPath != "" {
		if err := cfg.ApplyFile(*configPath); err != nil {
			return Config{}, err
		}
	}
	if *envFile != "" {
		if err := LoadDotEnv(*envFile); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return Config{}, err
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" || f.Name == "env-file" || flagErr != nil {
			return
		}
		flagErr = cfg.Set(f.Name, f.Value.String())
	})
	if flagErr != nil {
		return Config{}, flagErr
	}
	return cfg, cfg.Validate()
}
