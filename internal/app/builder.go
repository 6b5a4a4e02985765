package app

import (
	"fmt"
	"time"

	"kiwoomd/internal/account"
	"kiwoomd/internal/analytics"
	"kiwoomd/internal/broker"
	"kiwoomd/internal/broker/sim"
	"kiwoomd/internal/config"
	"kiwoomd/internal/correlator"
	"kiwoomd/internal/dashboard"
	"kiwoomd/internal/market"
	"kiwoomd/internal/realtime"
	"kiwoomd/internal/session"
	"kiwoomd/internal/stream"
	"kiwoomd/internal/transport/httpapi"
)

// buildApp constructs the full dependency graph without starting
// anything. Startup side effects live in Run.
func buildApp(cfg *config.Config) (*App, error) {
	iv := broker.NewInvoker(cfg.Broker.QueueSize)

	ctrl, err := buildControl(cfg, iv)
	if err != nil {
		return nil, err
	}

	queryTimeout := time.Duration(cfg.Broker.QueryTimeoutSeconds) * time.Second
	loginTimeout := time.Duration(cfg.Broker.LoginTimeoutSeconds) * time.Second

	hub := stream.NewHub()
	corr := correlator.New(ctrl, iv)
	sess := session.NewManager(ctrl, iv, cfg.Broker.Account, loginTimeout)
	marketSvc := market.NewService(corr, ctrl, iv, queryTimeout)
	conditions := market.NewConditions(ctrl, iv, 2*queryTimeout)
	normalizer := realtime.NewNormalizer(ctrl, func(ev realtime.Event) {
		hub.Broadcast(stream.StreamRealtime, ev)
	})

	accounts := account.NewService(cfg.Broker.Account, corr, ctrl, iv,
		dashboard.NewReconciler(cfg.Broker.Account), hub, queryTimeout)

	pusher, err := analytics.NewPusher(hub)
	if err != nil {
		return nil, fmt.Errorf("building analytics pusher: %w", err)
	}

	ctrl.SetHandlers(broker.Handlers{
		OnConnect:         sess.HandleConnect,
		OnTrData:          corr.HandleTrData,
		OnRealData:        normalizer.HandleReal,
		OnChejan:          accounts.HandleChejan,
		OnCondition:       normalizer.HandleCondition,
		OnConditionResult: conditions.HandleConditionResult,
	})

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Mode:       cfg.Broker.Mode,
		Session:    sess,
		Market:     marketSvc,
		Conditions: conditions,
		Accounts:   accounts,
		Analytics:  pusher,
		Correlator: corr,
		Hub:        hub,
	})
	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:                cfg.Server.HTTPAddr,
		ReadTimeoutSeconds:  cfg.Server.ReadTimeoutSeconds,
		WriteTimeoutSeconds: cfg.Server.WriteTimeoutSeconds,
		Router:              router,
	})
	if err != nil {
		return nil, fmt.Errorf("building http server: %w", err)
	}

	return &App{
		cfg:      cfg,
		iv:       iv,
		ctrl:     ctrl,
		corr:     corr,
		hub:      hub,
		sess:     sess,
		market:   marketSvc,
		accounts: accounts,
		server:   server,
	}, nil
}

func buildControl(cfg *config.Config, iv *broker.Invoker) (broker.Control, error) {
	switch cfg.Broker.Mode {
	case "sim":
		ctrl := sim.NewControl(0)
		ctrl.Post = func(fn func()) {
			iv.Invoke(func() error {
				fn()
				return nil
			})
		}
		return ctrl, nil
	case "ocx":
		// The OCX binding is supplied by the Windows control-host
		// build; this binary only ships the simulator.
		return nil, fmt.Errorf("broker mode %q is not available in this build", cfg.Broker.Mode)
	default:
		return nil, fmt.Errorf("unknown broker mode %q", cfg.Broker.Mode)
	}
}
