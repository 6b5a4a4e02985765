package config

import "strings"

// Config is the root configuration of the gateway daemon.
type Config struct {
	App       AppConfig       `toml:"app"`
	Server    ServerConfig    `toml:"server"`
	Broker    BrokerConfig    `toml:"broker"`
	Realtime  RealtimeConfig  `toml:"realtime"`
	Dashboard DashboardConfig `toml:"dashboard"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

type ServerConfig struct {
	HTTPAddr            string `toml:"http_addr"`
	ReadTimeoutSeconds  int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `toml:"write_timeout_seconds"`
}

// BrokerConfig selects and tunes the control binding. Mode "sim" runs
// the bundled simulator; "ocx" expects the external control host.
type BrokerConfig struct {
	Mode                string `toml:"mode"`
	Account             string `toml:"account"`
	LoginTimeoutSeconds int    `toml:"login_timeout_seconds"`
	QueryTimeoutSeconds int    `toml:"query_timeout_seconds"`
	QueueSize           int    `toml:"queue_size"`
}

// RealtimeConfig controls the automatic realtime registration done
// right after login. Codes can be hot-reloaded.
type RealtimeConfig struct {
	AutoSubscribe bool     `toml:"auto_subscribe"`
	Codes         []string `toml:"codes"`
}

type DashboardConfig struct {
	RefreshOnLogin         bool `toml:"refresh_on_login"`
	RefreshIntervalSeconds int  `toml:"refresh_interval_seconds"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
