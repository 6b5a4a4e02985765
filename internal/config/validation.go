package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Server.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Realtime.validate(); err != nil {
		return err
	}
	return nil
}

func (s *ServerConfig) validate() error {
	if strings.TrimSpace(s.HTTPAddr) == "" {
		return fmt.Errorf("server.http_addr cannot be empty")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch b.Mode {
	case "sim", "ocx":
	default:
		return fmt.Errorf("broker.mode only supports 'sim' or 'ocx', got %s", b.Mode)
	}
	if b.Mode == "ocx" && strings.TrimSpace(b.Account) == "" {
		return fmt.Errorf("broker.account is required in ocx mode")
	}
	return nil
}

func (r *RealtimeConfig) validate() error {
	for _, code := range r.Codes {
		if !validStockCode(code) {
			return fmt.Errorf("realtime.codes contains invalid code %q (want 6 digits)", code)
		}
	}
	return nil
}

func validStockCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, ch := range code {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
