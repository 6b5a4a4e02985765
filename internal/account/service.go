// Package account serves balance, deposit and outstanding-order
// queries, sends orders, and keeps the dashboard snapshot fresh from
// both bulk refreshes and incremental chejan events.
package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"kiwoomd/internal/broker"
	"kiwoomd/internal/correlator"
	"kiwoomd/internal/dashboard"
	"kiwoomd/internal/execution"
	"kiwoomd/internal/logger"
	"kiwoomd/internal/stream"
)

// TR codes served by this package.
const (
	trBalance     = "opw00018"
	trDeposit     = "opw00001"
	trOutstanding = "opt10075"
)

const (
	screenAccount = "4001"
	screenOrder   = "4002"
)

var (
	balanceRowFields = []string{
		"종목번호", "종목명", "보유수량", "매입가", "현재가",
		"평가금액", "매입금액", "평가손익", "수익률(%)",
	}
	balanceSummaryFields = []string{
		"총매입금액", "총평가금액", "총평가손익금액", "총수익률(%)", "당일실현손익",
	}
	depositFields = []string{"예수금", "d+2추정예수금", "출금가능금액"}

	outstandingFields = []string{
		"주문번호", "종목코드", "종목명", "주문구분", "주문상태",
		"주문가격", "주문수량", "미체결수량", "체결량", "시간",
	}
)

// Service owns the account workflows for one account number.
type Service struct {
	mu         sync.Mutex
	account    string
	corr       *correlator.Correlator
	ctrl       broker.Control
	iv         *broker.Invoker
	reconciler *dashboard.Reconciler
	classifier *execution.Classifier
	hub        *stream.Hub

	refreshGroup singleflight.Group
	queryTimeout time.Duration
}

func NewService(account string, corr *correlator.Correlator, ctrl broker.Control, iv *broker.Invoker, rec *dashboard.Reconciler, hub *stream.Hub, queryTimeout time.Duration) *Service {
	return &Service{
		account:      account,
		corr:         corr,
		ctrl:         ctrl,
		iv:           iv,
		reconciler:   rec,
		classifier:   execution.NewClassifier(),
		hub:          hub,
		queryTimeout: queryTimeout,
	}
}

// AdoptAccount fills in the account number once login has resolved it.
// A configured account is never replaced.
func (s *Service) AdoptAccount(accountNo string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account != "" || accountNo == "" {
		return
	}
	s.account = accountNo
	s.reconciler.SetAccount(accountNo)
}

func (s *Service) accountNo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// Balance returns the holdings rows of opw00018 with the synthetic
// summary row prepended. The summary row carries the account-level
// aggregates and is tagged so the reconciler can tell it apart.
func (s *Service) Balance(ctx context.Context) ([]map[string]string, error) {
	res, err := s.corr.Query(ctx, correlator.Request{
		TrCode:  trBalance,
		Input:   s.accountInput(map[string]string{"조회구분": "2"}),
		Fields:  balanceRowFields,
		Summary: balanceSummaryFields,
		Screen:  screenAccount,
		Timeout: s.queryTimeout,
	})
	if err != nil {
		return nil, err
	}

	summary := map[string]string{dashboard.SummaryTag: "1"}
	for k, v := range res.Summary {
		summary[k] = v
	}
	rows := make([]map[string]string, 0, len(res.Rows)+1)
	rows = append(rows, summary)
	rows = append(rows, res.Rows...)
	return rows, nil
}

// Deposit returns the opw00001 deposit figures as a single row.
func (s *Service) Deposit(ctx context.Context) (map[string]string, error) {
	res, err := s.corr.Query(ctx, correlator.Request{
		TrCode:  trDeposit,
		Input:   s.accountInput(nil),
		Summary: depositFields,
		Screen:  screenAccount,
		Timeout: s.queryTimeout,
	})
	if err != nil {
		return nil, err
	}
	if res.Summary == nil {
		return map[string]string{}, nil
	}
	return res.Summary, nil
}

// Outstanding returns the unfilled orders of opt10075.
func (s *Service) Outstanding(ctx context.Context) ([]map[string]string, error) {
	res, err := s.corr.Query(ctx, correlator.Request{
		TrCode: trOutstanding,
		Input: s.accountInput(map[string]string{
			"전체종목구분": "0",
			"매매구분":   "0",
			"체결구분":   "1",
		}),
		Fields:  outstandingFields,
		Screen:  screenAccount,
		Timeout: s.queryTimeout,
	})
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// SendOrder submits one order through the exclusive context.
func (s *Service) SendOrder(ctx context.Context, req broker.OrderRequest) error {
	if req.AccountNo == "" {
		req.AccountNo = s.accountNo()
	}
	if req.RQName == "" {
		req.RQName = "order"
	}
	if req.Screen == "" {
		req.Screen = screenOrder
	}
	return s.iv.InvokeSync(ctx, func() error {
		if code := s.ctrl.SendOrder(req); code != 0 {
			return &broker.DispatchError{Op: "SendOrder " + req.Code, Code: code}
		}
		logger.Infof("account: order sent code=%s type=%d qty=%d price=%d",
			req.Code, req.OrderType, req.Quantity, req.Price)
		return nil
	})
}

// RefreshDashboard rebuilds the snapshot from bulk queries and
// broadcasts it. Concurrent callers share one in-flight refresh.
func (s *Service) RefreshDashboard(ctx context.Context) (dashboard.Snapshot, error) {
	v, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		balance, err := s.Balance(ctx)
		if err != nil {
			return nil, fmt.Errorf("balance query: %w", err)
		}
		deposit, err := s.Deposit(ctx)
		if err != nil {
			return nil, fmt.Errorf("deposit query: %w", err)
		}
		outstanding, err := s.Outstanding(ctx)
		if err != nil {
			return nil, fmt.Errorf("outstanding query: %w", err)
		}
		snap := s.reconciler.ApplyFullRefresh(balance, []map[string]string{deposit}, outstanding)
		s.broadcastDashboard(snap)
		return snap, nil
	})
	if err != nil {
		return dashboard.Snapshot{}, err
	}
	return v.(dashboard.Snapshot), nil
}

// Snapshot returns the current dashboard state without refreshing.
func (s *Service) Snapshot() (dashboard.Snapshot, bool) {
	return s.reconciler.Snapshot()
}

// HandleChejan receives the OnChejan callback on the exclusive context.
// The classified event is broadcast on the execution stream; order
// events force a dashboard refresh, balance events patch the snapshot
// in place and fall back to a refresh only when the patch is rejected.
func (s *Service) HandleChejan(gubun string, itemCount int) {
	ev := s.classifier.Classify(gubun, s.ctrl.ChejanField)
	s.hub.Broadcast(stream.StreamExecution, ev)

	switch ev.Type {
	case execution.TypeOrder:
		s.refreshAsync()
	case execution.TypeBalance:
		snap, ok := s.reconciler.ApplyBalancePatch(ev.Fields)
		if !ok {
			s.refreshAsync()
			return
		}
		s.broadcastDashboard(snap)
	default:
		logger.Warnf("account: chejan with unknown gubun %q dropped", gubun)
	}
}

// refreshAsync runs RefreshDashboard off the callback goroutine. A
// refresh issues TRs and waits for their callbacks, so running it on
// the exclusive context would deadlock.
func (s *Service) refreshAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*s.queryTimeout)
		defer cancel()
		if _, err := s.RefreshDashboard(ctx); err != nil {
			logger.Errorf("account: dashboard refresh failed: %v", err)
		}
	}()
}

func (s *Service) broadcastDashboard(snap dashboard.Snapshot) {
	s.hub.BroadcastDashboard(map[string]any{
		"type":      "dashboard",
		"timestamp": snap.FetchedAt,
		"data":      snap,
	})
}

func (s *Service) accountInput(extra map[string]string) map[string]string {
	input := map[string]string{
		"계좌번호":       s.accountNo(),
		"비밀번호":       "",
		"비밀번호입력매체구분": "00",
	}
	for k, v := range extra {
		input[k] = v
	}
	return input
}
