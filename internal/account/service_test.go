package account

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiwoomd/internal/broker"
	"kiwoomd/internal/broker/brokertest"
	"kiwoomd/internal/correlator"
	"kiwoomd/internal/dashboard"
	"kiwoomd/internal/stream"
)

const testAccount = "8012345611"

type captureTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (c *captureTransport) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), p...))
	return nil
}

func (c *captureTransport) IsOpen() bool { return true }
func (c *captureTransport) Close() error { return nil }

func (c *captureTransport) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func newService(t *testing.T) (*Service, *brokertest.Fake, *captureTransport) {
	t.Helper()
	fake := brokertest.New()
	iv := broker.NewInvoker(16)
	iv.Start()
	t.Cleanup(iv.Stop)
	corr := correlator.New(fake, iv)
	t.Cleanup(corr.Close)
	hub := stream.NewHub()
	tr := &captureTransport{}
	hub.Subscribe(stream.StreamExecution, "ex", tr)

	svc := NewService(testAccount, corr, fake, iv, dashboard.NewReconciler(testAccount), hub, time.Second)
	fake.SetHandlers(broker.Handlers{
		OnTrData: corr.HandleTrData,
		OnChejan: svc.HandleChejan,
	})
	return svc, fake, tr
}

func stageAccountTRs(fake *brokertest.Fake) {
	fake.StageResult(trBalance, brokertest.TrResult{
		Rows: []map[string]string{{
			"종목번호": "A005930", "종목명": "삼성전자", "보유수량": "10",
			"매입가": "65000", "현재가": "+70000",
			"평가금액": "700000", "매입금액": "650000",
			"평가손익": "50000", "수익률(%)": "7.69",
		}},
		Summary: map[string]string{
			"총매입금액": "650000", "총평가금액": "700000",
			"총평가손익금액": "50000", "총수익률(%)": "7.69",
		},
	})
	fake.StageResult(trDeposit, brokertest.TrResult{
		Summary: map[string]string{
			"예수금": "400000", "d+2추정예수금": "500000", "출금가능금액": "450000",
		},
	})
	fake.StageResult(trOutstanding, brokertest.TrResult{
		Rows: []map[string]string{{
			"주문번호": "0000123", "종목코드": "A005930", "종목명": "삼성전자",
			"주문구분": "+매수", "주문상태": "접수", "주문가격": "69500",
			"주문수량": "5", "미체결수량": "5",
		}},
	})
}

func TestBalancePrependsTaggedSummaryRow(t *testing.T) {
	svc, fake, _ := newService(t)
	stageAccountTRs(fake)

	rows, err := svc.Balance(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0][dashboard.SummaryTag])
	assert.Equal(t, "700000", rows[0]["총평가금액"])
	assert.Equal(t, "A005930", rows[1]["종목번호"])
}

func TestRefreshDashboardBuildsAndBroadcasts(t *testing.T) {
	svc, fake, tr := newService(t)
	stageAccountTRs(fake)

	snap, err := svc.RefreshDashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "700,000", snap.TotalEvaluation)
	assert.Equal(t, "500,000", snap.DepositAvailable)
	require.Len(t, snap.Holdings, 1)
	assert.Equal(t, "005930", snap.Holdings[0].Code)
	require.Len(t, snap.Outstanding, 1)
	assert.Equal(t, "0000123", snap.Outstanding[0].OrderNo)

	msgs := tr.messages()
	require.Len(t, msgs, 1)
	var envelope struct {
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Data      dashboard.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msgs[0], &envelope))
	assert.Equal(t, "dashboard", envelope.Type)
	assert.Len(t, envelope.Timestamp, 14)
	assert.Equal(t, "700,000", envelope.Data.TotalEvaluation)
}

func TestChejanBalancePatchesAndBroadcasts(t *testing.T) {
	svc, fake, tr := newService(t)

	fake.StageChejan(map[int]string{
		9201: testAccount,
		9001: "A005930",
		302:  "삼성전자",
		930:  "10",
		10:   "+70000",
		932:  "650000",
	})
	fake.FireChejan("1", 1)

	snap, ok := svc.Snapshot()
	require.True(t, ok, "balance patch must lazily create the snapshot")
	require.Len(t, snap.Holdings, 1)
	assert.Equal(t, "700,000", snap.Holdings[0].EvalAmount)

	// One execution event plus one dashboard message.
	msgs := tr.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, string(msgs[0]), `"type":"balance"`)
	assert.Contains(t, string(msgs[1]), `"type":"dashboard"`)
}

func TestChejanOrderForcesRefresh(t *testing.T) {
	svc, fake, _ := newService(t)
	stageAccountTRs(fake)

	fake.StageChejan(map[int]string{9201: testAccount, 9203: "0000123", 9001: "A005930"})
	fake.FireChejan("0", 1)

	require.Eventually(t, func() bool {
		snap, ok := svc.Snapshot()
		return ok && len(snap.Holdings) == 1
	}, time.Second, 10*time.Millisecond, "order event must trigger a full refresh")
}

func TestChejanForeignAccountFallsBackToRefresh(t *testing.T) {
	svc, fake, _ := newService(t)
	stageAccountTRs(fake)

	fake.StageChejan(map[int]string{9201: "9999999999", 9001: "A005930", 930: "1"})
	fake.FireChejan("1", 1)

	require.Eventually(t, func() bool {
		snap, ok := svc.Snapshot()
		return ok && snap.AccountNo == testAccount
	}, time.Second, 10*time.Millisecond)
}

func TestSendOrderDefaults(t *testing.T) {
	svc, fake, _ := newService(t)

	err := svc.SendOrder(context.Background(), broker.OrderRequest{
		OrderType: 1,
		Code:      "005930",
		Quantity:  5,
		Price:     69500,
		QuoteType: "00",
	})
	require.NoError(t, err)

	orders := fake.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, testAccount, orders[0].AccountNo)
	assert.Equal(t, screenOrder, orders[0].Screen)
}

func TestSendOrderRejected(t *testing.T) {
	svc, fake, _ := newService(t)
	fake.OrderCode = broker.ErrCodeOrderSpec

	err := svc.SendOrder(context.Background(), broker.OrderRequest{Code: "005930"})
	var de *broker.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, broker.ErrCodeOrderSpec, de.Code)
}
