// Package config loads and validates proxy configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crawlfront/crawlfront/internal/route"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Routes   []RouteConfig  `mapstructure:"routes"`
}

// ProxyConfig controls the edge listener and forwarding behavior.
type ProxyConfig struct {
	ListenAddr            string `mapstructure:"listen_addr"`
	BackendHost           string `mapstructure:"backend_host"`
	DefaultPort           int    `mapstructure:"default_port"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// AdminConfig controls the operator-facing listener.
type AdminConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// UpstreamConfig describes the crawl API the proxy fronts.
type UpstreamConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	BearerToken        string `mapstructure:"bearer_token"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	BreakerFailures    int    `mapstructure:"breaker_failures"`
	BreakerOpenSeconds int    `mapstructure:"breaker_open_seconds"`
}

// ProbeConfig governs upstream health polling.
type ProbeConfig struct {
	IntervalSeconds  int `mapstructure:"interval_seconds"`
	FailureThreshold int `mapstructure:"failure_threshold"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RouteConfig is the on-disk shape of a routing rule.
type RouteConfig struct {
	Host         string   `mapstructure:"host"`
	PathPrefixes []string `mapstructure:"path_prefixes"`
	Priority     int      `mapstructure:"priority"`
	TargetPort   int      `mapstructure:"target_port"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Watch re-reads the config file whenever it changes on disk and hands each
// valid new Config to apply. An invalid rewrite is logged and dropped so the
// running rule snapshot stays live.
func Watch(path string, logger *zap.Logger, apply func(Config)) error {
	if path == "" {
		return fmt.Errorf("config watch requires a file path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config for watch: %w", err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load(path)
		if err != nil {
			logger.Error("config reload rejected, keeping previous rules",
				zap.String("file", e.Name),
				zap.Error(err),
			)
			return
		}
		logger.Info("config reloaded", zap.String("file", e.Name))
		apply(cfg)
	})
	v.WatchConfig()
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("proxy.listen_addr", ":8080")
	v.SetDefault("proxy.backend_host", "127.0.0.1")
	v.SetDefault("proxy.default_port", 80)
	v.SetDefault("proxy.request_timeout_seconds", 60)
	v.SetDefault("admin.listen_addr", ":9100")
	v.SetDefault("upstream.base_url", "http://127.0.0.1:11235")
	v.SetDefault("upstream.timeout_seconds", 10)
	v.SetDefault("upstream.breaker_failures", 5)
	v.SetDefault("upstream.breaker_open_seconds", 30)
	v.SetDefault("probe.interval_seconds", 15)
	v.SetDefault("probe.failure_threshold", 3)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. Rule problems
// (empty prefix sets, equal-priority overlaps, bad ports) surface here so a
// misconfigured deployment fails before it takes traffic.
func (c Config) Validate() error {
	if c.Proxy.ListenAddr == "" {
		return fmt.Errorf("proxy.listen_addr must be set")
	}
	if c.Proxy.BackendHost == "" {
		return fmt.Errorf("proxy.backend_host must be set")
	}
	if c.Proxy.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("proxy.request_timeout_seconds must be > 0")
	}
	if c.Admin.ListenAddr == "" {
		return fmt.Errorf("admin.listen_addr must be set")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.base_url %q is not a valid URL", c.Upstream.BaseURL)
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be > 0")
	}
	if c.Probe.IntervalSeconds <= 0 {
		return fmt.Errorf("probe.interval_seconds must be > 0")
	}
	if c.Probe.FailureThreshold <= 0 {
		return fmt.Errorf("probe.failure_threshold must be > 0")
	}
	if _, err := c.BuildTable(); err != nil {
		return fmt.Errorf("routes: %w", err)
	}
	return nil
}

// BuildTable converts the configured rules into an immutable route table.
func (c Config) BuildTable() (*route.Table, error) {
	rules := make([]route.Rule, 0, len(c.Routes))
	for i, rc := range c.Routes {
		rule, err := route.NewRule(rc.Host, rc.PathPrefixes, rc.Priority, rc.TargetPort)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return route.NewTable(rules, c.Proxy.DefaultPort)
}

// RequestTimeout converts the proxy timeout config into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Proxy.RequestTimeoutSeconds) * time.Second
}

// UpstreamTimeout converts the upstream client timeout into a duration.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// ProbeInterval converts the probe interval config into a duration.
func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.Probe.IntervalSeconds) * time.Second
}
