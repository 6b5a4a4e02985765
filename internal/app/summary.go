package app

import (
	"fmt"
	"strings"
)

// printSummary writes the startup configuration banner to stdout so an
// operator can eyeball the effective settings at a glance.
func (a *App) printSummary() {
	cfg := a.cfg

	fmt.Println(strings.Repeat("=", 64))
	fmt.Println("KIWOOM GATEWAY STARTUP")
	fmt.Println(strings.Repeat("=", 64))

	fmt.Println("[BROKER]")
	fmt.Printf("  mode:          %s\n", cfg.Broker.Mode)
	fmt.Printf("  account:       %s\n", orDash(cfg.Broker.Account))
	fmt.Printf("  login timeout: %ds\n", cfg.Broker.LoginTimeoutSeconds)
	fmt.Printf("  query timeout: %ds\n", cfg.Broker.QueryTimeoutSeconds)
	fmt.Println()

	fmt.Println("[SERVER]")
	fmt.Printf("  http:          %s\n", a.server.Addr())
	fmt.Println()

	fmt.Println("[REALTIME]")
	fmt.Printf("  auto subscribe: %v\n", cfg.Realtime.AutoSubscribe)
	fmt.Printf("  codes:          %s\n", orDash(strings.Join(cfg.Realtime.Codes, ", ")))
	fmt.Println()

	fmt.Println("[DASHBOARD]")
	fmt.Printf("  refresh on login: %v\n", cfg.Dashboard.RefreshOnLogin)
	if cfg.Dashboard.RefreshIntervalSeconds > 0 {
		fmt.Printf("  refresh interval: %ds\n", cfg.Dashboard.RefreshIntervalSeconds)
	} else {
		fmt.Println("  refresh interval: off")
	}
	fmt.Println(strings.Repeat("=", 64))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
