// Package config loads the process configuration from an optional file and
// ESIGN_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/vocdoni/gofirma/esign/internal/logging"
)

const EnvPrefix = "ESIGN"

type Config struct {
	API          APIConfig     `mapstructure:"api"`
	BearerSecret string        `mapstructure:"bearer_secret"`
	HTTP         HTTPConfig    `mapstructure:"http"`
	Log          LogConfig     `mapstructure:"log"`
	Render       RenderConfig  `mapstructure:"render"`
	Keys         KeysConfig    `mapstructure:"keys"`
	Verify       VerifyConfig  `mapstructure:"verify"`
	Journal      JournalConfig `mapstructure:"journal"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Version string        `mapstructure:"version" validate:"required"`
	Key     string        `mapstructure:"key"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Retry   RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
}

type HTTPConfig struct {
	Addr        string `mapstructure:"addr" validate:"required"`
	BodyLimitMB int    `mapstructure:"body_limit_mb" validate:"gte=1"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// RenderConfig.FallbackFont must draw Chinese names unless RequireCJK is
// turned off, in which case zh-TW signer names are refused at render time.
type RenderConfig struct {
	FallbackFont string `mapstructure:"fallback_font"`
	RequireCJK   bool   `mapstructure:"require_cjk"`
}

type KeysConfig struct {
	PublicKeyFile     string       `mapstructure:"public_key_file"`
	PKCS11            PKCS11Config `mapstructure:"pkcs11"`
	HolderP12         string       `mapstructure:"holder_p12"`
	HolderP12Password string       `mapstructure:"holder_p12_password"`
}

type PKCS11Config struct {
	Lib   string `mapstructure:"lib"`
	Slot  uint   `mapstructure:"slot"`
	Label string `mapstructure:"label"`
	PIN   string `mapstructure:"pin"`
}

type VerifyConfig struct {
	TrustRoots string `mapstructure:"trust_roots"`
}

type JournalConfig struct {
	Dir        string `mapstructure:"dir"`
	Passphrase string `mapstructure:"passphrase"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://api.letsesign.net")
	v.SetDefault("api.version", "1909")
	v.SetDefault("api.key", "")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.retry.max_attempts", 3)
	v.SetDefault("api.retry.base_delay", 200*time.Millisecond)
	v.SetDefault("api.retry.max_delay", 2*time.Second)
	v.SetDefault("bearer_secret", "")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.body_limit_mb", 40)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", false)
	v.SetDefault("render.fallback_font", "")
	v.SetDefault("render.require_cjk", true)
	v.SetDefault("keys.public_key_file", "kmsPublicKey.pem")
	v.SetDefault("keys.pkcs11.lib", "")
	v.SetDefault("keys.pkcs11.slot", 0)
	v.SetDefault("keys.pkcs11.label", "")
	v.SetDefault("keys.pkcs11.pin", "")
	v.SetDefault("keys.holder_p12", "")
	v.SetDefault("keys.holder_p12_password", "")
	v.SetDefault("verify.trust_roots", "")
	v.SetDefault("journal.dir", "")
	v.SetDefault("journal.passphrase", "")
}

// New returns a viper instance with defaults and environment bindings. The
// credentials are also read from the bare apiKey and bearerSecret variables.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("api.key", EnvPrefix+"_API_KEY", "apiKey")
	_ = v.BindEnv("bearer_secret", EnvPrefix+"_BEARER_SECRET", "bearerSecret")
	return v
}

// Load reads file (optional) over the defaults and environment.
func Load(file string) (Config, error) {
	v := New()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates v. Flags bound to v by the CLI take part.
func FromViper(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("invalid config %s: failed %q check", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("invalid config: %w", err)
}

// Logging maps the log section onto the logger options.
func (c Config) Logging() logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// Redacted hides every secret, for logging the effective configuration.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.API.Key = mask(c.API.Key)
	c.BearerSecret = mask(c.BearerSecret)
	c.Keys.PKCS11.PIN = mask(c.Keys.PKCS11.PIN)
	c.Keys.HolderP12Password = mask(c.Keys.HolderP12Password)
	c.Journal.Passphrase = mask(c.Journal.Passphrase)
	return c
}
