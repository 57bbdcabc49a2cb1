package svcconfig

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/streamrelay/ipxcore/pkg/credstore"
	"github.com/streamrelay/ipxcore/pkg/dispatcher"
	"github.com/streamrelay/ipxcore/pkg/providerpool"
)

// AliasSpec is one YAML/ENV-shaped alias entry for an input, before it is
// lowered into providerpool.AliasInput.
type AliasSpec struct {
	ID             uint16 `mapstructure:"id"`
	Name           string `mapstructure:"name"`
	URL            string `mapstructure:"url"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	Priority       int16  `mapstructure:"priority"`
	MaxConnections uint16 `mapstructure:"max_connections"`
}

// InputSpec is one YAML/ENV-shaped logical input, before it is lowered
// into providerpool.InputConfig.
type InputSpec struct {
	ID             uint16            `mapstructure:"id"`
	Name           string            `mapstructure:"name"`
	URL            string            `mapstructure:"url"`
	Username       string            `mapstructure:"username"`
	Password       string            `mapstructure:"password"`
	Enabled        bool              `mapstructure:"enabled"`
	Priority       int16             `mapstructure:"priority"`
	MaxConnections uint16            `mapstructure:"max_connections"`
	Headers        map[string]string `mapstructure:"headers"`
	Aliases        []AliasSpec       `mapstructure:"aliases"`
}

// RetrySpec is the YAML/ENV shape of dispatcher.RetryPolicy.
type RetrySpec struct {
	MaxAttempts int     `mapstructure:"max_attempts"`
	BaseDelayMs int     `mapstructure:"base_delay_ms"`
	Multiplier  float64 `mapstructure:"multiplier"`
}

// ResourceCacheSpec is the YAML/ENV shape of dispatcher.ResourceCacheConfig.
type ResourceCacheSpec struct {
	Dir      string `mapstructure:"dir"`
	Capacity int    `mapstructure:"capacity"`
}

// RuntimeConfig is the fully parsed operator configuration: provider
// lineups, the dispatcher's retry/throttle/cache policy, and the BTreeStore
// data directory. Loaded from YAML (or environment overrides) via viper.
type RuntimeConfig struct {
	Inputs []InputSpec `mapstructure:"inputs"`

	GracePeriodMillis      int64 `mapstructure:"grace_period_ms"`
	GracePeriodTimeoutSecs int64 `mapstructure:"grace_period_timeout_s"`

	HeaderBlocklist   []string          `mapstructure:"header_blocklist"`
	Retry             RetrySpec         `mapstructure:"retry"`
	ThrottleKbps      int               `mapstructure:"throttle_kbps"`
	SharedBufferSize  int               `mapstructure:"shared_buffer_size"`
	UpstreamTimeoutMs int               `mapstructure:"upstream_timeout_ms"`
	ResourceCache     ResourceCacheSpec `mapstructure:"resource_cache"`

	BTreeDataDir string `mapstructure:"btree_data_dir"`

	// AccountExpiredAsStream selects how an auth failure is reported to
	// the client: the account-expired custom stream when true, a plain
	// 403 when false (dispatcher.Config.AccountExpiredAsStream).
	AccountExpiredAsStream bool `mapstructure:"account_expired_as_stream"`

	// WatchPath, when non-empty, is observed by StartWatch for hot reload.
	WatchPath string `mapstructure:"-"`
}

func defaultViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("IPXCORE")
	v.AutomaticEnv()

	v.SetDefault("grace_period_ms", 2000)
	v.SetDefault("grace_period_timeout_s", 10)
	v.SetDefault("header_blocklist", []string{"Host", "Connection", "Cookie", "Authorization"})
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 250)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("shared_buffer_size", 64)
	v.SetDefault("upstream_timeout_ms", 15000)
	v.SetDefault("resource_cache.capacity", 512)
	return v
}

// Load reads and parses the operator configuration at path. path may be a
// bare file name resolvable on viper's search path; an empty path loads
// defaults only (used by tests and `parse-title`/`compact` subcommands
// that don't need provider lineups).
func Load(path string) (*RuntimeConfig, error) {
	v := defaultViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("svcconfig: reading %s: %w", path, err)
		}
	}

	var rc RuntimeConfig
	if err := v.Unmarshal(&rc); err != nil {
		return nil, fmt.Errorf("svcconfig: decoding config: %w", err)
	}
	rc.WatchPath = path
	return &rc, nil
}

// ProviderInputs lowers the parsed InputSpecs into providerpool.InputConfig,
// the shape ProviderPool.New and UpdateConfig consume, resolving any
// "keyring:<service>/<account>" username/password reference via
// pkg/credstore along the way.
func (rc *RuntimeConfig) ProviderInputs() ([]providerpool.InputConfig, error) {
	out := make([]providerpool.InputConfig, 0, len(rc.Inputs))
	for _, in := range rc.Inputs {
		username, password, err := credstore.ResolvePair(in.Username, in.Password)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Name, err)
		}
		aliases := make([]providerpool.AliasInput, 0, len(in.Aliases))
		for _, a := range in.Aliases {
			aUsername, aPassword, err := credstore.ResolvePair(a.Username, a.Password)
			if err != nil {
				return nil, fmt.Errorf("input %s alias %s: %w", in.Name, a.Name, err)
			}
			aliases = append(aliases, providerpool.AliasInput{
				ID:             a.ID,
				Name:           a.Name,
				URL:            a.URL,
				Username:       aUsername,
				Password:       aPassword,
				Priority:       a.Priority,
				MaxConnections: a.MaxConnections,
			})
		}
		out = append(out, providerpool.InputConfig{
			ID:             in.ID,
			Name:           in.Name,
			URL:            in.URL,
			Username:       username,
			Password:       password,
			Enabled:        in.Enabled,
			Priority:       in.Priority,
			MaxConnections: in.MaxConnections,
			Headers:        in.Headers,
			Aliases:        aliases,
		})
	}
	return out, nil
}

// InputsByName indexes ProviderInputs() by name, the shape
// ProviderPool.UpdateConfig wants for its oldByName comparison argument.
func (rc *RuntimeConfig) InputsByName() (map[string]providerpool.InputConfig, error) {
	inputs, err := rc.ProviderInputs()
	if err != nil {
		return nil, err
	}
	out := make(map[string]providerpool.InputConfig, len(inputs))
	for _, in := range inputs {
		out[in.Name] = in
	}
	return out, nil
}

// restartOverlay projects the config fields that a process restart is
// required to pick up into the generic key/value shape Config's
// RequiresRestart compares, so Watcher can detect them without rebuilding
// a BTreeStore or providerpool snapshot just to diff two RuntimeConfigs.
func (rc *RuntimeConfig) restartOverlay() map[string]string {
	return map[string]string{
		"btree.data_dir": rc.BTreeDataDir,
	}
}

// DispatcherConfig lowers the parsed policy fields into dispatcher.Config.
func (rc *RuntimeConfig) DispatcherConfig() dispatcher.Config {
	cfg := dispatcher.DefaultConfig()
	if len(rc.HeaderBlocklist) > 0 {
		cfg.HeaderBlocklist = rc.HeaderBlocklist
	}
	if rc.Retry.MaxAttempts > 0 {
		cfg.Retry.MaxAttempts = rc.Retry.MaxAttempts
	}
	if rc.Retry.BaseDelayMs > 0 {
		cfg.Retry.BaseDelay = time.Duration(rc.Retry.BaseDelayMs) * time.Millisecond
	}
	if rc.Retry.Multiplier > 0 {
		cfg.Retry.Multiplier = rc.Retry.Multiplier
	}
	cfg.ThrottleKbps = rc.ThrottleKbps
	if rc.SharedBufferSize > 0 {
		cfg.SharedBufferSize = rc.SharedBufferSize
	}
	if rc.UpstreamTimeoutMs > 0 {
		cfg.UpstreamTimeout = time.Duration(rc.UpstreamTimeoutMs) * time.Millisecond
	}
	if rc.ResourceCache.Capacity > 0 {
		cfg.ResourceCache.Capacity = rc.ResourceCache.Capacity
	}
	cfg.ResourceCache.Dir = rc.ResourceCache.Dir
	cfg.AccountExpiredAsStream = rc.AccountExpiredAsStream
	return cfg
}
