package config

import (
	"encoding/base64"
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

type RateLimit struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

type Session struct {
	AbsoluteTimeout time.Duration `mapstructure:"absolute_timeout"`
	AdmitTimeout    time.Duration `mapstructure:"admission_timeout"`
	TombstoneTTL    time.Duration `mapstructure:"tombstone_ttl"`
	JoinTokenTTL    time.Duration `mapstructure:"join_token_ttl"`
	PerDay          int64         `mapstructure:"per_day"`
}

type PIN struct {
	Length        int           `mapstructure:"length"`
	TTL           time.Duration `mapstructure:"ttl"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	AttemptWindow time.Duration `mapstructure:"attempt_window"`
}

type Clipboard struct {
	MaxBytes          int64         `mapstructure:"max_bytes"`
	CompressThreshold int64         `mapstructure:"compress_threshold"`
	Interval          time.Duration `mapstructure:"interval"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	History           int           `mapstructure:"history"`
}

type Transfer struct {
	ChunkSize         int64    `mapstructure:"chunk_size"`
	MaxFileBytes      int64    `mapstructure:"max_file_bytes"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	MaxRetries        int      `mapstructure:"max_retries"`
	Store             string   `mapstructure:"store"`
}

type Quality struct {
	AdaptInterval time.Duration `mapstructure:"adapt_interval"`
}

type Config struct {
	Address         string        `mapstructure:"address"`
	DataDir         string        `mapstructure:"data_dir"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	SecretB64       string        `mapstructure:"secret_b64"`
	RateLimitHealth RateLimit     `mapstructure:"rate_limit_health"`
	RateLimitV1     RateLimit     `mapstructure:"rate_limit_v1"`
	RateLimitAdmit  RateLimit     `mapstructure:"rate_limit_admit"`
	Session         Session       `mapstructure:"session"`
	PIN             PIN           `mapstructure:"pin"`
	Clipboard       Clipboard     `mapstructure:"clipboard"`
	Transfer        Transfer      `mapstructure:"transfer"`
	Quality         Quality       `mapstructure:"quality"`
}

const (
	DefaultSweepInterval     = 30 * time.Second
	DefaultAbsoluteTimeout   = 8 * time.Hour
	DefaultTombstoneTTL      = 5 * time.Minute
	DefaultAdmissionTimeout  = 30 * time.Minute
	DefaultJoinTokenTTL      = 8 * time.Hour
	DefaultSessionsPerDay    = 200
	DefaultPINLength         = 6
	MinPINLength             = 4
	MaxPINLength             = 10
	DefaultPINTTL            = 10 * time.Minute
	MinPINTTL                = time.Minute
	MaxPINTTL                = time.Hour
	DefaultClipboardMaxBytes = 10 << 20
	MaxClipboardBytes        = 64 << 20
	DefaultCompressThreshold = 64 << 10
	DefaultClipboardInterval = time.Second
	DefaultClipboardRetries  = 3
	DefaultClipboardDelay    = 200 * time.Millisecond
	DefaultClipboardHistory  = 100
	DefaultChunkSize         = 64 << 10
	MinChunkSize             = 4 << 10
	MaxChunkSize             = 4 << 20
	DefaultMaxFileBytes      = 1 << 30
	DefaultTransferRetries   = 3
	DefaultAdaptInterval     = 5 * time.Second

	envPrefix = "REMOTEDESK"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("address", ":8080")
	v.SetDefault("data_dir", "data")
	v.SetDefault("sweep_interval", DefaultSweepInterval)
	v.SetDefault("secret_b64", "")
	v.SetDefault("rate_limit_health.max", 60)
	v.SetDefault("rate_limit_health.window", time.Minute)
	v.SetDefault("rate_limit_v1.max", 120)
	v.SetDefault("rate_limit_v1.window", time.Minute)
	v.SetDefault("rate_limit_admit.max", 10)
	v.SetDefault("rate_limit_admit.window", time.Minute)
	v.SetDefault("session.absolute_timeout", DefaultAbsoluteTimeout)
	v.SetDefault("session.tombstone_ttl", DefaultTombstoneTTL)
	v.SetDefault("session.admission_timeout", DefaultAdmissionTimeout)
	v.SetDefault("session.join_token_ttl", DefaultJoinTokenTTL)
	v.SetDefault("session.per_day", DefaultSessionsPerDay)
	v.SetDefault("pin.length", DefaultPINLength)
	v.SetDefault("pin.ttl", DefaultPINTTL)
	v.SetDefault("pin.max_attempts", 5)
	v.SetDefault("pin.attempt_window", time.Minute)
	v.SetDefault("clipboard.max_bytes", DefaultClipboardMaxBytes)
	v.SetDefault("clipboard.compress_threshold", DefaultCompressThreshold)
	v.SetDefault("clipboard.interval", DefaultClipboardInterval)
	v.SetDefault("clipboard.max_retries", DefaultClipboardRetries)
	v.SetDefault("clipboard.retry_delay", DefaultClipboardDelay)
	v.SetDefault("clipboard.history", DefaultClipboardHistory)
	v.SetDefault("transfer.chunk_size", DefaultChunkSize)
	v.SetDefault("transfer.max_file_bytes", DefaultMaxFileBytes)
	v.SetDefault("transfer.allowed_extensions", []string{})
	v.SetDefault("transfer.max_retries", DefaultTransferRetries)
	v.SetDefault("transfer.store", "memory")
	v.SetDefault("quality.adapt_interval", DefaultAdaptInterval)
}

// Load reads defaults, then the optional YAML file at path, then
// REMOTEDESK_* environment overrides (REMOTEDESK_PIN_TTL=5m). A missing
// file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return Config{}, err
		}
		v.SetConfigFile(expanded)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Transfer.AllowedExtensions = normalizeExtensions(cfg.Transfer.AllowedExtensions)
	if cfg.DataDir != "" {
		dataDir, err := homedir.Expand(cfg.DataDir)
		if err != nil {
			return Config{}, err
		}
		cfg.DataDir = dataDir
	}
	return cfg.Clamp(), nil
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	cfg, err := Load("")
	if err != nil {
		return Config{}.Clamp()
	}
	return cfg
}

// Clamp replaces out-of-range values with their defaults.
func (c Config) Clamp() Config {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Session.AbsoluteTimeout <= 0 {
		c.Session.AbsoluteTimeout = DefaultAbsoluteTimeout
	}
	if c.Session.AdmitTimeout <= 0 || c.Session.AdmitTimeout > c.Session.AbsoluteTimeout {
		c.Session.AdmitTimeout = DefaultAdmissionTimeout
	}
	if c.Session.TombstoneTTL <= 0 {
		c.Session.TombstoneTTL = DefaultTombstoneTTL
	}
	if c.Session.JoinTokenTTL <= 0 {
		c.Session.JoinTokenTTL = DefaultJoinTokenTTL
	}
	if c.Session.PerDay < 0 {
		c.Session.PerDay = DefaultSessionsPerDay
	}
	if c.PIN.Length < MinPINLength || c.PIN.Length > MaxPINLength {
		c.PIN.Length = DefaultPINLength
	}
	if c.PIN.TTL < MinPINTTL || c.PIN.TTL > MaxPINTTL {
		c.PIN.TTL = DefaultPINTTL
	}
	if c.Clipboard.MaxBytes <= 0 || c.Clipboard.MaxBytes > MaxClipboardBytes {
		c.Clipboard.MaxBytes = DefaultClipboardMaxBytes
	}
	if c.Clipboard.CompressThreshold <= 0 {
		c.Clipboard.CompressThreshold = DefaultCompressThreshold
	}
	if c.Clipboard.Interval <= 0 {
		c.Clipboard.Interval = DefaultClipboardInterval
	}
	if c.Clipboard.MaxRetries < 0 {
		c.Clipboard.MaxRetries = DefaultClipboardRetries
	}
	if c.Clipboard.RetryDelay < 0 {
		c.Clipboard.RetryDelay = DefaultClipboardDelay
	}
	if c.Clipboard.History <= 0 {
		c.Clipboard.History = DefaultClipboardHistory
	}
	if c.Transfer.ChunkSize < MinChunkSize || c.Transfer.ChunkSize > MaxChunkSize {
		c.Transfer.ChunkSize = DefaultChunkSize
	}
	if c.Transfer.MaxFileBytes <= 0 {
		c.Transfer.MaxFileBytes = DefaultMaxFileBytes
	}
	if c.Transfer.MaxRetries < 0 {
		c.Transfer.MaxRetries = DefaultTransferRetries
	}
	if c.Transfer.Store != "localfs" {
		c.Transfer.Store = "memory"
	}
	if c.Quality.AdaptInterval <= 0 {
		c.Quality.AdaptInterval = DefaultAdaptInterval
	}
	return c
}

// Secret decodes SecretB64. Nil means the caller should load or create one.
func (c Config) Secret() []byte {
	raw := strings.TrimSpace(c.SecretB64)
	if raw == "" {
		return nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err == nil {
		return decoded
	}
	decoded, err = base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	return decoded
}

func normalizeExtensions(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, ".") {
			trimmed = "." + trimmed
		}
		out = append(out, trimmed)
	}
	return out
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
