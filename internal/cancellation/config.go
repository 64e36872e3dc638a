package cancellation

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	contententity "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/content/entity"
)

const (
	DefaultGracePeriod = 72 * time.Hour
	MinGracePeriod     = time.Hour
	MaxGracePeriod     = 8760 * time.Hour
)

type Config struct {
	GracePeriod     time.Duration
	NotifyOnRequest bool
	DeleteContent   bool
	ContentKinds    []contententity.Kind
	SiteName        string

	DrainInterval    time.Duration
	DrainBatchSize   int
	DrainLimit       int
	LeaseDuration    time.Duration
	ReconcileOverdue bool
}

func DefaultConfig() Config {
	return Config{
		GracePeriod:      DefaultGracePeriod,
		NotifyOnRequest:  true,
		DeleteContent:    true,
		ContentKinds:     []contententity.Kind{contententity.KindNode, contententity.KindComment},
		SiteName:         "Pitchfork",
		DrainInterval:    time.Minute,
		DrainBatchSize:   100,
		DrainLimit:       1000,
		LeaseDuration:    5 * time.Minute,
		ReconcileOverdue: true,
	}
}

// CascadeKinds returns the kinds to remove with the account, comments first.
func (c Config) CascadeKinds() []contententity.Kind {
	if !c.DeleteContent {
		return nil
	}
	out := make([]contententity.Kind, 0, len(c.ContentKinds))
	for _, k := range contententity.Kinds {
		for _, want := range c.ContentKinds {
			if k == want {
				out = append(out, k)
				break
			}
		}
	}
	return out
}

func (c Config) Validate() error {
	if c.GracePeriod < MinGracePeriod || c.GracePeriod > MaxGracePeriod {
		return fmt.Errorf("grace period must be between %s and %s, got %s", MinGracePeriod, MaxGracePeriod, c.GracePeriod)
	}
	for _, k := range c.ContentKinds {
		if !k.Valid() {
			return fmt.Errorf("unknown content kind %q", k)
		}
	}
	if c.DrainInterval <= 0 || c.DrainBatchSize <= 0 || c.DrainLimit <= 0 || c.LeaseDuration <= 0 {
		return fmt.Errorf("drain interval, batch size, limit and lease must be positive")
	}
	return nil
}

// ConfigFromEnv overlays CANCELLATION_* variables on the defaults.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := os.Getenv("CANCELLATION_GRACE_PERIOD_SECONDS"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("CANCELLATION_GRACE_PERIOD_SECONDS: %w", err)
		}
		cfg.GracePeriod = time.Duration(secs) * time.Second
	}
	var err error
	if cfg.NotifyOnRequest, err = envBool("CANCELLATION_NOTIFY_ON_REQUEST", cfg.NotifyOnRequest); err != nil {
		return cfg, err
	}
	if cfg.DeleteContent, err = envBool("CANCELLATION_DELETE_CONTENT", cfg.DeleteContent); err != nil {
		return cfg, err
	}
	if cfg.ReconcileOverdue, err = envBool("CANCELLATION_RECONCILE_OVERDUE", cfg.ReconcileOverdue); err != nil {
		return cfg, err
	}
	if v, ok := os.LookupEnv("CANCELLATION_CONTENT_KINDS"); ok {
		cfg.ContentKinds = parseKinds(v)
	}
	if v := os.Getenv("CANCELLATION_SITE_NAME"); v != "" {
		cfg.SiteName = v
	}
	if cfg.DrainInterval, err = envDuration("CANCELLATION_DRAIN_INTERVAL", cfg.DrainInterval); err != nil {
		return cfg, err
	}
	if cfg.LeaseDuration, err = envDuration("CANCELLATION_LEASE_DURATION", cfg.LeaseDuration); err != nil {
		return cfg, err
	}
	if v := os.Getenv("CANCELLATION_DRAIN_BATCH_SIZE"); v != "" {
		if cfg.DrainBatchSize, err = strconv.Atoi(v); err != nil {
			return cfg, fmt.Errorf("CANCELLATION_DRAIN_BATCH_SIZE: %w", err)
		}
	}
	if v := os.Getenv("CANCELLATION_DRAIN_LIMIT"); v != "" {
		if cfg.DrainLimit, err = strconv.Atoi(v); err != nil {
			return cfg, fmt.Errorf("CANCELLATION_DRAIN_LIMIT: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

// fileConfig is the YAML layout; absent keys keep the current value.
type fileConfig struct {
	GracePeriodSeconds *int64   `yaml:"grace_period_seconds"`
	NotifyOnRequest    *bool    `yaml:"notify_on_request"`
	DeleteContent      *bool    `yaml:"delete_content"`
	CascadeKinds       []string `yaml:"cascade_content_kinds"`
	SiteName           string   `yaml:"site_name"`
	DrainInterval      string   `yaml:"drain_interval"`
	DrainBatchSize     int      `yaml:"drain_batch_size"`
	DrainLimit         int      `yaml:"drain_limit"`
	LeaseDuration      string   `yaml:"lease_duration"`
	ReconcileOverdue   *bool    `yaml:"reconcile_overdue"`
}

// LoadConfigFile overlays a YAML file on base.
func LoadConfigFile(path string, base Config) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	return ParseConfig(raw, base)
}

func ParseConfig(raw []byte, base Config) (Config, error) {
	var fc fileConfig
	if err := yaml.UnmarshalStrict(raw, &fc); err != nil {
		return base, fmt.Errorf("parse cancellation config: %w", err)
	}
	cfg := base
	if fc.GracePeriodSeconds != nil {
		cfg.GracePeriod = time.Duration(*fc.GracePeriodSeconds) * time.Second
	}
	if fc.NotifyOnRequest != nil {
		cfg.NotifyOnRequest = *fc.NotifyOnRequest
	}
	if fc.DeleteContent != nil {
		cfg.DeleteContent = *fc.DeleteContent
	}
	if fc.CascadeKinds != nil {
		cfg.ContentKinds = parseKinds(strings.Join(fc.CascadeKinds, ","))
	}
	if fc.SiteName != "" {
		cfg.SiteName = fc.SiteName
	}
	if fc.DrainInterval != "" {
		d, err := time.ParseDuration(fc.DrainInterval)
		if err != nil {
			return base, fmt.Errorf("drain_interval: %w", err)
		}
		cfg.DrainInterval = d
	}
	if fc.LeaseDuration != "" {
		d, err := time.ParseDuration(fc.LeaseDuration)
		if err != nil {
			return base, fmt.Errorf("lease_duration: %w", err)
		}
		cfg.LeaseDuration = d
	}
	if fc.DrainBatchSize > 0 {
		cfg.DrainBatchSize = fc.DrainBatchSize
	}
	if fc.DrainLimit > 0 {
		cfg.DrainLimit = fc.DrainLimit
	}
	if fc.ReconcileOverdue != nil {
		cfg.ReconcileOverdue = *fc.ReconcileOverdue
	}
	return cfg, cfg.Validate()
}

func parseKinds(v string) []contententity.Kind {
	kinds := []contententity.Kind{}
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			kinds = append(kinds, contententity.Kind(part))
		}
	}
	return kinds
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// ConfigSource yields the configuration in effect for one operation.
type ConfigSource interface {
	Current(ctx context.Context) Config
}

// StaticConfig is a ConfigSource that never changes.
type StaticConfig Config

func (c StaticConfig) Current(context.Context) Config { return Config(c) }
