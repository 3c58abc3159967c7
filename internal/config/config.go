package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Mode bits for Property/Audio/RateCorrectionMode (§6, §4.2).
const (
	ModeRateCorrection uint32 = 1 << iota
	ModeLowPassFilter
	ModeClientSync
)

// defaultRateCorrectionMode matches the original server: source-rate
// matching and low-pass filtering on, client-queue matching off.
const defaultRateCorrectionMode = ModeRateCorrection | ModeLowPassFilter

// Config holds all runtime configuration for the vrdpaudiod server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	AdminAddr string

	LogLevel  string
	LogFormat string // "text" or "json"

	RateCorrectionMode uint32 // Property/Audio/RateCorrectionMode bitset

	AudioLogPath    string // Property/Audio/LogPath; empty disables WAV dumping
	AudioLogMaxDays int    // retention for dumped WAV files, 0 disables cleanup

	TLSCert    string
	TLSKey     string
	ACMEDomain string
	ACMEEmail  string
}

// defaults
const (
	defaultAdminAddr       = ":8090"
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultAudioLogMaxDays = 7
)

// envPrefix is the prefix for all vrdpaudiod environment variables.
const envPrefix = "VRDPAUDIO_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("vrdpaudiod", flag.ContinueOnError)

	fs.StringVar(&cfg.AdminAddr, "admin-addr", defaultAdminAddr, "listen address for the admin/metrics HTTP server")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	var rateMode string
	fs.StringVar(&rateMode, "rate-correction-mode", strconv.FormatUint(uint64(defaultRateCorrectionMode), 10), "Property/Audio/RateCorrectionMode bitset (1=rate correction, 2=low-pass filter, 4=client queue sync)")
	fs.StringVar(&cfg.AudioLogPath, "audio-log-path", "", "directory to dump per-client WAV captures into (disabled if empty)")
	fs.IntVar(&cfg.AudioLogMaxDays, "audio-log-max-days", defaultAudioLogMaxDays, "delete dumped WAV files older than this many days (0 disables cleanup)")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "path to TLS certificate file for the admin server")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "path to TLS private key file for the admin server")
	fs.StringVar(&cfg.ACMEDomain, "acme-domain", "", "domain for automatic Let's Encrypt certificate on the admin server")
	fs.StringVar(&cfg.ACMEEmail, "acme-email", "", "contact email for Let's Encrypt account notifications")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	cfg.RateCorrectionMode = defaultRateCorrectionMode
	if v, err := strconv.ParseUint(rateMode, 0, 32); err == nil {
		cfg.RateCorrectionMode = uint32(v)
	} else {
		slog.Warn("invalid rate-correction-mode, using default", "value", rateMode, "error", err)
	}

	// Apply env var overrides for any flag not explicitly set on the command
	// line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"admin-addr":           envPrefix + "ADMIN_ADDR",
		"log-level":            envPrefix + "LOG_LEVEL",
		"log-format":           envPrefix + "LOG_FORMAT",
		"rate-correction-mode": envPrefix + "RATE_CORRECTION_MODE",
		"audio-log-path":       envPrefix + "LOG_PATH",
		"audio-log-max-days":   envPrefix + "LOG_MAX_DAYS",
		"tls-cert":             envPrefix + "TLS_CERT",
		"tls-key":              envPrefix + "TLS_KEY",
		"acme-domain":          envPrefix + "ACME_DOMAIN",
		"acme-email":           envPrefix + "ACME_EMAIL",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "admin-addr":
			cfg.AdminAddr = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "rate-correction-mode":
			if v, err := strconv.ParseUint(val, 0, 32); err == nil {
				cfg.RateCorrectionMode = uint32(v)
			} else {
				slog.Warn("invalid rate correction mode in environment, using default", "env", envVar, "value", val, "error", err)
			}
		case "audio-log-path":
			cfg.AudioLogPath = val
		case "audio-log-max-days":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.AudioLogMaxDays = v
			}
		case "tls-cert":
			cfg.TLSCert = val
		case "tls-key":
			cfg.TLSKey = val
		case "acme-domain":
			cfg.ACMEDomain = val
		case "acme-email":
			cfg.ACMEEmail = val
		}
	}
}

// validate checks that the config values are sane. An invalid
// Property/Audio/RateCorrectionMode is not a fatal error here: unknown bits
// are simply ignored by the rate engine, per the tunable's fall-back policy.
func (c *Config) validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls-cert and tls-key must both be provided or both be omitted")
	}
	if c.ACMEDomain != "" && c.TLSCert != "" {
		return fmt.Errorf("acme-domain and tls-cert/tls-key are mutually exclusive")
	}
	if c.AudioLogMaxDays < 0 {
		return fmt.Errorf("audio-log-max-days must be >= 0, got %d", c.AudioLogMaxDays)
	}

	return nil
}

// TLSEnabled returns true if either manual TLS certificates or automatic
// ACME (Let's Encrypt) certificates are configured for the admin server.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" || c.ACMEDomain != ""
}

// ModeEnabled reports whether the given RateCorrectionMode bit is set.
func (c *Config) ModeEnabled(bit uint32) bool {
	return c.RateCorrectionMode&bit != 0
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
