// Package app wires the gateway together: one exclusive broker
// context, the correlation and streaming services around it, and the
// HTTP surface on top.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kiwoomd/internal/account"
	"kiwoomd/internal/broker"
	"kiwoomd/internal/config"
	"kiwoomd/internal/correlator"
	"kiwoomd/internal/logger"
	"kiwoomd/internal/market"
	"kiwoomd/internal/session"
	"kiwoomd/internal/stream"
	"kiwoomd/internal/transport/httpapi"
)

// App holds the built dependency graph.
type App struct {
	cfg     *config.Config
	cfgPath string

	reloadMu  sync.Mutex
	liveLevel string
	liveCodes []string

	iv       *broker.Invoker
	ctrl     broker.Control
	corr     *correlator.Correlator
	hub      *stream.Hub
	sess     *session.Manager
	market   *market.Service
	accounts *account.Service
	server   *httpapi.Server
}

// New builds the application from a loaded config without starting
// anything. configPath may be empty to disable hot reloading.
func New(cfg *config.Config, configPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	a, err := buildApp(cfg)
	if err != nil {
		return nil, err
	}
	a.cfgPath = configPath
	a.liveLevel = cfg.App.LogLevel
	a.liveCodes = append([]string(nil), cfg.Realtime.Codes...)
	return a, nil
}

// Run starts the exclusive context and the HTTP server, performs the
// startup login flow, and serves until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	a.printSummary()

	a.iv.Start()
	defer a.iv.Stop()
	defer a.corr.Close()
	defer a.hub.Close()

	var watcher *config.Watcher
	if a.cfgPath != "" {
		w, err := config.Watch(a.cfgPath, a.applyReload)
		if err != nil {
			logger.Warnf("app: config watcher disabled: %v", err)
		} else {
			watcher = w
			defer watcher.Close()
		}
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		a.bootstrap(ctx)
		return nil
	})

	if interval := a.cfg.Dashboard.RefreshIntervalSeconds; interval > 0 {
		group.Go(func() error {
			a.refreshLoop(ctx, time.Duration(interval)*time.Second)
			return nil
		})
	}

	return group.Wait()
}

// bootstrap logs in and applies the configured startup side effects.
// Failures are logged, not fatal: every step can be retried over the
// API once the broker comes back.
func (a *App) bootstrap(ctx context.Context) {
	info, err := a.sess.Login(ctx)
	if err != nil {
		logger.Warnf("app: startup login failed: %v", err)
		return
	}
	a.accounts.AdoptAccount(info.Account)
	logger.Infof("app: logged in user=%s account=%s", info.UserID, info.Account)

	if a.cfg.Realtime.AutoSubscribe && len(a.cfg.Realtime.Codes) > 0 {
		if err := a.market.Subscribe(ctx, a.cfg.Realtime.Codes); err != nil {
			logger.Warnf("app: auto subscribe failed: %v", err)
		} else {
			logger.Infof("app: subscribed %d codes", len(a.cfg.Realtime.Codes))
		}
	}

	if a.cfg.Dashboard.RefreshOnLogin {
		if _, err := a.accounts.RefreshDashboard(ctx); err != nil {
			logger.Warnf("app: initial dashboard refresh failed: %v", err)
		}
	}
}

// refreshLoop keeps the dashboard warm for stream consumers. Unchanged
// snapshots are deduplicated downstream, so idle ticks cost nothing on
// the wire.
func (a *App) refreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.sess.Connected() {
				continue
			}
			if _, err := a.accounts.RefreshDashboard(ctx); err != nil {
				logger.Warnf("app: periodic dashboard refresh failed: %v", err)
			}
		}
	}
}

// applyReload picks up the hot-reloadable settings from a rewritten
// config file: the log level and the realtime code list. Everything
// else needs a restart.
func (a *App) applyReload(next *config.Config) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	if next.App.LogLevel != a.liveLevel {
		logger.SetLevel(next.App.LogLevel)
		logger.Infof("app: log level changed to %s", next.App.LogLevel)
		a.liveLevel = next.App.LogLevel
	}

	if !next.Realtime.AutoSubscribe {
		return
	}
	added, removed := diffCodes(a.liveCodes, next.Realtime.Codes)
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if len(removed) > 0 {
		if err := a.market.Unsubscribe(ctx, removed); err != nil {
			logger.Warnf("app: reload unsubscribe failed: %v", err)
		}
	}
	if len(added) > 0 && a.sess.Connected() {
		if err := a.market.Subscribe(ctx, added); err != nil {
			logger.Warnf("app: reload subscribe failed: %v", err)
		}
	}
	a.liveCodes = append([]string(nil), next.Realtime.Codes...)
}

func diffCodes(old, next []string) (added, removed []string) {
	prev := make(map[string]bool, len(old))
	for _, c := range old {
		prev[c] = true
	}
	cur := make(map[string]bool, len(next))
	for _, c := range next {
		cur[c] = true
		if !prev[c] {
			added = append(added, c)
		}
	}
	for _, c := range old {
		if !cur[c] {
			removed = append(removed, c)
		}
	}
	return added, removed
}
