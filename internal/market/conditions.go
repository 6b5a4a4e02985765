package market

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"kiwoomd/internal/broker"
	"kiwoomd/internal/logger"
)

const screenCondition = "3001"

// Condition is one saved search condition (조건검색) of the account.
type Condition struct {
	Index string `json:"index"`
	Name  string `json:"name"`
}

// SearchResult is a one-shot condition search outcome.
type SearchResult struct {
	Condition Condition `json:"condition"`
	Codes     []string  `json:"codes"`
}

// Conditions runs the saved-condition workflows. One-shot searches are
// correlated by condition name: the broker reports results through the
// shared OnConditionResult callback.
type Conditions struct {
	ctrl broker.Control
	iv   *broker.Invoker

	mu      sync.Mutex
	pending map[string]chan []string
	timeout time.Duration
}

func NewConditions(ctrl broker.Control, iv *broker.Invoker, timeout time.Duration) *Conditions {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Conditions{
		ctrl:    ctrl,
		iv:      iv,
		pending: make(map[string]chan []string),
		timeout: timeout,
	}
}

// List loads and parses the saved condition list
// ("index^name;index^name;...").
func (c *Conditions) List(ctx context.Context) ([]Condition, error) {
	var raw string
	err := c.iv.InvokeSync(ctx, func() error {
		if !c.ctrl.LoadConditions() {
			return errors.New("condition list load failed")
		}
		raw = c.ctrl.ConditionNames()
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []Condition
	for _, item := range strings.Split(raw, ";") {
		idx, name, ok := strings.Cut(strings.TrimSpace(item), "^")
		if !ok || name == "" {
			continue
		}
		out = append(out, Condition{Index: idx, Name: name})
	}
	return out, nil
}

// Search runs a one-shot condition search and returns the matching
// codes.
func (c *Conditions) Search(ctx context.Context, cond Condition) (SearchResult, error) {
	wait := make(chan []string, 1)
	c.mu.Lock()
	if _, dup := c.pending[cond.Name]; dup {
		c.mu.Unlock()
		return SearchResult{}, fmt.Errorf("condition %q search already running", cond.Name)
	}
	c.pending[cond.Name] = wait
	c.mu.Unlock()

	index := atoiLenient(cond.Index)
	err := c.iv.InvokeSync(ctx, func() error {
		if !c.ctrl.SendCondition(screenCondition, cond.Name, index, 0) {
			return fmt.Errorf("condition %q search rejected", cond.Name)
		}
		return nil
	})
	if err != nil {
		c.abandon(cond.Name)
		return SearchResult{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case codes := <-wait:
		return SearchResult{Condition: cond, Codes: codes}, nil
	case <-timer.C:
		c.abandon(cond.Name)
		return SearchResult{}, fmt.Errorf("condition %q search timed out", cond.Name)
	case <-ctx.Done():
		c.abandon(cond.Name)
		return SearchResult{}, ctx.Err()
	}
}

// StartRealtime registers a condition for realtime push; matches arrive
// through the OnCondition callback.
func (c *Conditions) StartRealtime(ctx context.Context, cond Condition) error {
	index := atoiLenient(cond.Index)
	return c.iv.InvokeSync(ctx, func() error {
		if !c.ctrl.SendCondition(screenCondition, cond.Name, index, 1) {
			return fmt.Errorf("realtime condition %q rejected", cond.Name)
		}
		logger.Infof("market: realtime condition %q started", cond.Name)
		return nil
	})
}

// StopRealtime deregisters a realtime condition.
func (c *Conditions) StopRealtime(ctx context.Context, cond Condition) error {
	index := atoiLenient(cond.Index)
	return c.iv.InvokeSync(ctx, func() error {
		c.ctrl.StopCondition(screenCondition, cond.Name, index)
		logger.Infof("market: realtime condition %q stopped", cond.Name)
		return nil
	})
}

// HandleConditionResult receives the OnConditionResult callback and
// resolves the pending search of that condition name.
func (c *Conditions) HandleConditionResult(screen, codes, condName, condIndex string) {
	c.mu.Lock()
	wait, ok := c.pending[condName]
	if ok {
		delete(c.pending, condName)
	}
	c.mu.Unlock()
	if !ok {
		logger.Warnf("market: orphan condition result for %q", condName)
		return
	}

	var out []string
	for _, code := range strings.Split(codes, ";") {
		if code = strings.TrimSpace(code); code != "" {
			out = append(out, code)
		}
	}
	wait <- out
}

func (c *Conditions) abandon(name string) {
	c.mu.Lock()
	delete(c.pending, name)
	c.mu.Unlock()
}

func atoiLenient(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
