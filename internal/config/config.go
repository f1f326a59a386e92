// Package config loads server settings. Sources, highest precedence first:
// explicit overrides (command-line flags), PODARI_* environment variables
// (a .env file in the working directory is loaded into the environment
// first), a YAML config file, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the resolved server settings.
type Config struct {
	DB         string
	Addr       string
	Log        string
	AdminEmail string
	JWTTTL     time.Duration

	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	NotifyQueueSize int
	CORSOrigins     []string
	ImageMaxCount   int
}

// Keys.
const (
	KeyDB              = "db"
	KeyAddr            = "addr"
	KeyLog             = "log"
	KeyAdminEmail      = "admin.email"
	KeyJWTTTL          = "jwt.ttl"
	KeyRedisURL        = "redis.url"
	KeyKafkaBrokers    = "kafka.brokers"
	KeyKafkaTopic      = "kafka.topic"
	KeyNotifyQueueSize = "notify.queue_size"
	KeyCORSOrigins     = "cors.origins"
	KeyImageMaxCount   = "image.max_count"
)

// DefaultFile is read when no config file is given and it exists.
const DefaultFile = "podari.yaml"

// EnvPrefix prefixes environment variables, e.g. PODARI_KAFKA_BROKERS.
const EnvPrefix = "PODARI"

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyDB, "podari.sqlite3")
	v.SetDefault(KeyAddr, ":8080")
	v.SetDefault(KeyLog, "")
	v.SetDefault(KeyAdminEmail, "admin@podari.local")
	v.SetDefault(KeyJWTTTL, 7*24*time.Hour)
	v.SetDefault(KeyRedisURL, "")
	v.SetDefault(KeyKafkaBrokers, []string{})
	v.SetDefault(KeyKafkaTopic, "podari.notifications")
	v.SetDefault(KeyNotifyQueueSize, 256)
	v.SetDefault(KeyCORSOrigins, []string{})
	v.SetDefault(KeyImageMaxCount, 5)
}

// Load resolves the configuration. file may be empty, in which case
// DefaultFile is used if present. overrides win over every other source.
func Load(file string, overrides map[string]any) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if _, err := os.Stat(DefaultFile); err == nil {
		v.SetConfigFile(DefaultFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	cfg := &Config{
		DB:              v.GetString(KeyDB),
		Addr:            v.GetString(KeyAddr),
		Log:             v.GetString(KeyLog),
		AdminEmail:      strings.ToLower(strings.TrimSpace(v.GetString(KeyAdminEmail))),
		JWTTTL:          v.GetDuration(KeyJWTTTL),
		RedisURL:        v.GetString(KeyRedisURL),
		KafkaBrokers:    stringList(v, KeyKafkaBrokers),
		KafkaTopic:      v.GetString(KeyKafkaTopic),
		NotifyQueueSize: v.GetInt(KeyNotifyQueueSize),
		CORSOrigins:     stringList(v, KeyCORSOrigins),
		ImageMaxCount:   v.GetInt(KeyImageMaxCount),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stringList accepts both YAML lists and comma-separated strings, which is
// how lists arrive from the environment.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	if s, ok := v.Get(key).(string); ok {
		raw = strings.Split(s, ",")
	} else {
		raw = v.GetStringSlice(key)
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that settings are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.DB == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.AdminEmail == "" {
		errs = append(errs, errors.New("admin email is required"))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("jwt.ttl must be positive"))
	}
	if c.NotifyQueueSize <= 0 {
		errs = append(errs, errors.New("notify.queue_size must be positive"))
	}
	if c.ImageMaxCount < 1 || c.ImageMaxCount > 5 {
		errs = append(errs, errors.New("image.max_count must be between 1 and 5"))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("kafka.topic is required when kafka.brokers is set"))
	}
	return errors.Join(errs...)
}
