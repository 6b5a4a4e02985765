package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiwoomd/internal/broker"
	"kiwoomd/internal/correlator"
)

func newSim(t *testing.T) (*Control, *broker.Invoker) {
	t.Helper()
	iv := broker.NewInvoker(64)
	iv.Start()
	t.Cleanup(iv.Stop)
	ctrl := NewControl(42)
	ctrl.Post = func(fn func()) { iv.Invoke(func() error { fn(); return nil }) }
	return ctrl, iv
}

func TestSimConnectDeliversCallback(t *testing.T) {
	ctrl, _ := newSim(t)
	got := make(chan int, 1)
	ctrl.SetHandlers(broker.Handlers{OnConnect: func(code int) { got <- code }})

	ctrl.Connect()
	select {
	case code := <-got:
		assert.Equal(t, 0, code)
	case <-time.After(time.Second):
		t.Fatal("no connect callback")
	}
	assert.True(t, ctrl.IsConnected())
	assert.Equal(t, simAccount+";", ctrl.LoginInfo("ACCNO"))
}

func TestSimCandleQueryThroughCorrelator(t *testing.T) {
	ctrl, iv := newSim(t)
	corr := correlator.New(ctrl, iv)
	t.Cleanup(corr.Close)
	ctrl.SetHandlers(broker.Handlers{OnTrData: corr.HandleTrData})

	res, err := corr.Query(context.Background(), correlator.Request{
		TrCode: "opt10081",
		Input:  map[string]string{"종목코드": "005930"},
		Fields: []string{"일자", "현재가", "거래량"},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 30)
	for _, row := range res.Rows {
		assert.Len(t, row["일자"], 8)
		assert.NotEmpty(t, row["현재가"])
	}
}

func TestSimRealtimeFeed(t *testing.T) {
	ctrl, _ := newSim(t)
	ctrl.TickInterval = 10 * time.Millisecond

	var mu sync.Mutex
	var events []string
	ctrl.SetHandlers(broker.Handlers{OnRealData: func(code, realType string) {
		mu.Lock()
		events = append(events, code+"/"+realType)
		mu.Unlock()
		price := ctrl.RealtimeField(code, 10)
		assert.NotEmpty(t, price)
	}})

	ctrl.RegisterReal("2001", "005930;000660", "10;11;15")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) >= 4
	}, 2*time.Second, 10*time.Millisecond)
	ctrl.Disconnect()
}

func TestSimOrderEmitsChejanPair(t *testing.T) {
	ctrl, _ := newSim(t)

	var mu sync.Mutex
	var gubuns []string
	var balanceQty string
	ctrl.SetHandlers(broker.Handlers{OnChejan: func(gubun string, n int) {
		mu.Lock()
		gubuns = append(gubuns, gubun)
		if gubun == "1" {
			balanceQty = ctrl.ChejanField(930)
		}
		mu.Unlock()
	}})

	code := ctrl.SendOrder(broker.OrderRequest{
		OrderType: 1, Code: "005930", Quantity: 10, Price: 70000, QuoteType: "00",
	})
	require.Equal(t, 0, code)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gubuns) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"0", "1"}, gubuns)
	assert.Equal(t, "10", balanceQty)
	mu.Unlock()
}

func TestSimConditionSearch(t *testing.T) {
	ctrl, _ := newSim(t)
	ctrl.RegisterReal("2001", "005930", "10")
	defer ctrl.Disconnect()

	got := make(chan string, 1)
	ctrl.SetHandlers(broker.Handlers{OnConditionResult: func(screen, codes, name, index string) {
		got <- codes
	}})

	require.True(t, ctrl.SendCondition("3001", "급등주", 0, 0))
	select {
	case codes := <-got:
		assert.Contains(t, codes, "005930")
	case <-time.After(time.Second):
		t.Fatal("no condition result")
	}
}
