// Package config loads the daemon configuration. Unset keys receive
// defaults; keys the user wrote explicitly are left alone even when
// they look like zero values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	flattenConfigKeys("", v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EnsureStarter writes a default config file when none exists, so a
// fresh checkout starts without hand-editing. Returns true when the
// file was created.
func EnsureStarter(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	starter := Config{}
	starter.applyDefaults(nil)
	starter.Realtime.AutoSubscribe = true
	starter.Realtime.Codes = []string{"005930"}
	starter.Dashboard.RefreshOnLogin = true

	raw, err := yaml.Marshal(starterDoc(&starter))
	if err != nil {
		return false, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, err
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// starterDoc lays the config out with the yaml keys the loader reads;
// the struct tags target viper, not the yaml encoder.
func starterDoc(c *Config) map[string]any {
	return map[string]any{
		"app": map[string]any{
			"env":       c.App.Env,
			"log_level": c.App.LogLevel,
			"log_path":  c.App.LogPath,
		},
		"server": map[string]any{
			"http_addr":             c.Server.HTTPAddr,
			"read_timeout_seconds":  c.Server.ReadTimeoutSeconds,
			"write_timeout_seconds": c.Server.WriteTimeoutSeconds,
		},
		"broker": map[string]any{
			"mode":                  c.Broker.Mode,
			"account":               c.Broker.Account,
			"login_timeout_seconds": c.Broker.LoginTimeoutSeconds,
			"query_timeout_seconds": c.Broker.QueryTimeoutSeconds,
			"queue_size":            c.Broker.QueueSize,
		},
		"realtime": map[string]any{
			"auto_subscribe": c.Realtime.AutoSubscribe,
			"codes":          c.Realtime.Codes,
		},
		"dashboard": map[string]any{
			"refresh_on_login":         c.Dashboard.RefreshOnLogin,
			"refresh_interval_seconds": c.Dashboard.RefreshIntervalSeconds,
		},
	}
}

func flattenConfigKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, v := range val {
			next := strings.ToLower(strings.TrimSpace(k))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenConfigKeys(next, v, dest)
		}
	case []any:
		if prefix != "" {
			dest.mark(prefix)
		}
		for _, item := range val {
			flattenConfigKeys(prefix, item, dest)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}
