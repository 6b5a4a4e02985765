package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiwoomd/internal/account"
	"kiwoomd/internal/analytics"
	"kiwoomd/internal/broker"
	"kiwoomd/internal/broker/brokertest"
	"kiwoomd/internal/correlator"
	"kiwoomd/internal/dashboard"
	"kiwoomd/internal/market"
	"kiwoomd/internal/session"
	"kiwoomd/internal/stream"
)

type fixture struct {
	engine *gin.Engine
	fake   *brokertest.Fake
	hub    *stream.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := brokertest.New()
	iv := broker.NewInvoker(32)
	iv.Start()
	t.Cleanup(iv.Stop)
	corr := correlator.New(fake, iv)
	t.Cleanup(corr.Close)
	hub := stream.NewHub()
	t.Cleanup(hub.Close)

	sess := session.NewManager(fake, iv, "", time.Second)
	marketSvc := market.NewService(corr, fake, iv, time.Second)
	conds := market.NewConditions(fake, iv, time.Second)
	accounts := account.NewService("8012345611", corr, fake, iv,
		dashboard.NewReconciler("8012345611"), hub, time.Second)
	pusher, err := analytics.NewPusher(hub)
	require.NoError(t, err)

	fake.SetHandlers(broker.Handlers{
		OnConnect: sess.HandleConnect,
		OnTrData:  corr.HandleTrData,
		OnChejan:  accounts.HandleChejan,
	})

	router := NewRouter(RouterConfig{
		Mode:       "sim",
		Session:    sess,
		Market:     marketSvc,
		Conditions: conds,
		Accounts:   accounts,
		Analytics:  pusher,
		Correlator: corr,
		Hub:        hub,
	})
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	router.Register(engine)
	return &fixture{engine: engine, fake: fake, hub: hub}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/system/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	data := env.Data.(map[string]any)
	assert.Equal(t, false, data["connected"])
	assert.Equal(t, "sim", data["mode"])

	// Legacy alias answers identically.
	_, legacy := f.do(t, http.MethodGet, "/api/status", "")
	assert.True(t, legacy.Success)
}

func TestLoginEndpoint(t *testing.T) {
	f := newFixture(t)
	f.fake.SetLoginInfo("ACCNO", "8012345611;")

	_, env := f.do(t, http.MethodPost, "/api/system/login", "")
	require.True(t, env.Success, env.Message)
	data := env.Data.(map[string]any)
	assert.Equal(t, "8012345611", data["account"])

	_, status := f.do(t, http.MethodGet, "/api/system/status", "")
	assert.Equal(t, true, status.Data.(map[string]any)["connected"])
}

func TestDailyCandlesEndpoint(t *testing.T) {
	f := newFixture(t)
	f.fake.StageResult("opt10081", brokertest.TrResult{
		Rows: []map[string]string{{"일자": "20260828", "현재가": "71200"}},
	})

	_, env := f.do(t, http.MethodGet, "/api/market/candles/daily?code=005930", "")
	require.True(t, env.Success)
	rows := env.Data.([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "71200", rows[0].(map[string]any)["현재가"])

	rec, _ := f.do(t, http.MethodGet, "/api/market/candles/daily", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTimeoutAnswersFailedEnvelope(t *testing.T) {
	f := newFixture(t)
	f.fake.Silent = true

	rec, env := f.do(t, http.MethodGet, "/api/market/symbol?code=005930", "")
	assert.Equal(t, http.StatusOK, rec.Code, "timeouts are operational, not transport errors")
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Message)
	assert.Nil(t, env.Data)
}

func TestSendOrderEndpoint(t *testing.T) {
	f := newFixture(t)

	_, env := f.do(t, http.MethodPost, "/api/orders",
		`{"code":"005930","order_type":1,"quantity":5,"price":69500}`)
	require.True(t, env.Success, env.Message)

	orders := f.fake.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "00", orders[0].QuoteType, "limit order by default")

	rec, _ := f.do(t, http.MethodPost, "/api/orders", `{"price":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboardEndpoints(t *testing.T) {
	f := newFixture(t)
	f.fake.StageResult("opw00018", brokertest.TrResult{
		Summary: map[string]string{"총평가금액": "700000", "총매입금액": "650000"},
		Rows: []map[string]string{{
			"종목번호": "A005930", "종목명": "삼성전자", "보유수량": "10",
			"평가금액": "700000", "매입금액": "650000",
		}},
	})
	f.fake.StageResult("opw00001", brokertest.TrResult{
		Summary: map[string]string{"d+2추정예수금": "500000"},
	})
	f.fake.StageResult("opt10075", brokertest.TrResult{})

	_, env := f.do(t, http.MethodGet, "/api/dashboard", "")
	assert.False(t, env.Success, "no snapshot before the first refresh")

	_, env = f.do(t, http.MethodPost, "/api/dashboard/refresh", "")
	require.True(t, env.Success, env.Message)
	data := env.Data.(map[string]any)
	assert.Equal(t, "700,000", data["total_evaluation"])

	_, env = f.do(t, http.MethodGet, "/api/dashboard", "")
	assert.True(t, env.Success)
}

func TestAnalyticsPushEndpoint(t *testing.T) {
	f := newFixture(t)

	_, env := f.do(t, http.MethodPost, "/api/analytics/push",
		`{"type":"momentum","code":"005930","timestamp":"20260828153000","data":{"score":0.8}}`)
	require.True(t, env.Success)

	rec, env := f.do(t, http.MethodPost, "/api/analytics/push", `{"type":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
}

func TestRealtimeWebsocketReceivesBroadcast(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/realtime"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return f.hub.Count(stream.StreamRealtime) == 1
	}, time.Second, 10*time.Millisecond)

	f.hub.Broadcast(stream.StreamRealtime, map[string]string{"type": "tick", "code": "005930"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"tick"`)
}
