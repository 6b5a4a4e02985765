package config

import "strings"

const (
	defaultAppEnv       = "dev"
	defaultAppLogLevel  = "info"
	defaultAppLogPath   = "logs/kiwoomd.log"
	defaultHTTPAddr     = ":8890"
	defaultReadTimeout  = 15
	defaultWriteTimeout = 15
	defaultBrokerMode   = "sim"
	defaultLoginTimeout = 30
	defaultQueryTimeout = 5
	defaultQueueSize    = 256
	defaultDashRefresh  = 0
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Server.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Realtime.applyDefaults(keys)
	c.Dashboard.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (s *ServerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("server.http_addr", &s.HTTPAddr, defaultHTTPAddr),
		fieldDefault{
			key:   "server.read_timeout_seconds",
			need:  func() bool { return s.ReadTimeoutSeconds <= 0 },
			apply: func() { s.ReadTimeoutSeconds = defaultReadTimeout },
		},
		fieldDefault{
			key:   "server.write_timeout_seconds",
			need:  func() bool { return s.WriteTimeoutSeconds <= 0 },
			apply: func() { s.WriteTimeoutSeconds = defaultWriteTimeout },
		},
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.mode", &b.Mode, defaultBrokerMode),
		fieldDefault{
			key:   "broker.login_timeout_seconds",
			need:  func() bool { return b.LoginTimeoutSeconds <= 0 },
			apply: func() { b.LoginTimeoutSeconds = defaultLoginTimeout },
		},
		fieldDefault{
			key:   "broker.query_timeout_seconds",
			need:  func() bool { return b.QueryTimeoutSeconds <= 0 },
			apply: func() { b.QueryTimeoutSeconds = defaultQueryTimeout },
		},
		fieldDefault{
			key:   "broker.queue_size",
			need:  func() bool { return b.QueueSize <= 0 },
			apply: func() { b.QueueSize = defaultQueueSize },
		},
	)
}

func (r *RealtimeConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	r.Codes = normalizeCodeList(r.Codes)
}

func (d *DashboardConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "dashboard.refresh_interval_seconds",
			need:  func() bool { return d.RefreshIntervalSeconds < 0 },
			apply: func() { d.RefreshIntervalSeconds = defaultDashRefresh },
		},
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeCodeList(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	out := make([]string, 0, len(codes))
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
