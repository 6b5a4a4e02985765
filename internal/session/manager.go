// Package session drives the broker login flow and keeps the resolved
// session identity (accounts, user id) for the rest of the process.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"kiwoomd/internal/broker"
	"kiwoomd/internal/logger"
)

// Info is the resolved session after a successful login.
type Info struct {
	UserID   string   `json:"user_id"`
	Accounts []string `json:"accounts"`
	Account  string   `json:"account"`
}

// Manager owns the connection state machine. Login is synchronous for
// the caller; the underlying flow is a Connect trigger followed by an
// OnConnect callback.
type Manager struct {
	ctrl broker.Control
	iv   *broker.Invoker
	// preferred account from config; empty picks the first one
	preferred string
	timeout   time.Duration

	mu        sync.Mutex
	connected bool
	info      Info
	waiters   []chan int
}

func NewManager(ctrl broker.Control, iv *broker.Invoker, preferredAccount string, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{ctrl: ctrl, iv: iv, preferred: preferredAccount, timeout: timeout}
}

// HandleConnect receives the OnConnect callback.
func (m *Manager) HandleConnect(errCode int) {
	m.mu.Lock()
	m.connected = errCode == 0
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()
	if errCode == 0 {
		logger.Infof("session: broker connected")
	} else {
		logger.Errorf("session: broker connect failed (code %d)", errCode)
	}
	for _, ch := range waiters {
		ch <- errCode
	}
}

// Login connects, waits for the connection callback, and resolves the
// session identity. Safe to call again after a disconnect; an already
// connected session just re-reads the login info.
func (m *Manager) Login(ctx context.Context) (Info, error) {
	m.mu.Lock()
	already := m.connected
	var wait chan int
	if !already {
		wait = make(chan int, 1)
		m.waiters = append(m.waiters, wait)
	}
	m.mu.Unlock()

	if !already {
		err := m.iv.InvokeSync(ctx, func() error {
			if code := m.ctrl.Connect(); code != 0 {
				return &broker.DispatchError{Op: "CommConnect", Code: code}
			}
			return nil
		})
		if err != nil {
			return Info{}, err
		}

		timer := time.NewTimer(m.timeout)
		defer timer.Stop()
		select {
		case code := <-wait:
			if code != 0 {
				return Info{}, fmt.Errorf("login rejected by broker (code %d)", code)
			}
		case <-timer.C:
			return Info{}, errors.New("login timed out")
		case <-ctx.Done():
			return Info{}, ctx.Err()
		}
	}

	var info Info
	err := m.iv.InvokeSync(ctx, func() error {
		info.UserID = strings.TrimSpace(m.ctrl.LoginInfo("USER_ID"))
		for _, acc := range strings.Split(m.ctrl.LoginInfo("ACCNO"), ";") {
			if acc = strings.TrimSpace(acc); acc != "" {
				info.Accounts = append(info.Accounts, acc)
			}
		}
		return nil
	})
	if err != nil {
		return Info{}, err
	}
	if len(info.Accounts) == 0 {
		return Info{}, errors.New("login returned no accounts")
	}

	info.Account = info.Accounts[0]
	if m.preferred != "" {
		found := false
		for _, acc := range info.Accounts {
			if acc == m.preferred {
				info.Account = acc
				found = true
				break
			}
		}
		if !found {
			logger.Warnf("session: configured account %s not in login info, using %s",
				m.preferred, info.Account)
		}
	}

	m.mu.Lock()
	m.info = info
	m.mu.Unlock()
	logger.Infof("session: logged in as %s, account %s", info.UserID, info.Account)
	return info, nil
}

// Connected reports the live connection state.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Current returns the last resolved session identity.
func (m *Manager) Current() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Logout disconnects from the broker.
func (m *Manager) Logout(ctx context.Context) error {
	err := m.iv.InvokeSync(ctx, func() error {
		m.ctrl.Disconnect()
		return nil
	})
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return err
}
