package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kiwoomd/internal/account"
	"kiwoomd/internal/analytics"
	"kiwoomd/internal/broker"
	"kiwoomd/internal/correlator"
	"kiwoomd/internal/market"
	"kiwoomd/internal/session"
	"kiwoomd/internal/stream"
)

// Router wires the REST and websocket routes to the service layer.
type Router struct {
	mode       string
	sess       *session.Manager
	market     *market.Service
	conditions *market.Conditions
	accounts   *account.Service
	analytics  *analytics.Pusher
	corr       *correlator.Correlator
	hub        *stream.Hub
}

// RouterConfig carries the service dependencies of the route table.
type RouterConfig struct {
	Mode       string
	Session    *session.Manager
	Market     *market.Service
	Conditions *market.Conditions
	Accounts   *account.Service
	Analytics  *analytics.Pusher
	Correlator *correlator.Correlator
	Hub        *stream.Hub
}

func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		mode:       cfg.Mode,
		sess:       cfg.Session,
		market:     cfg.Market,
		conditions: cfg.Conditions,
		accounts:   cfg.Accounts,
		analytics:  cfg.Analytics,
		corr:       cfg.Correlator,
		hub:        cfg.Hub,
	}
}

// Register mounts every route. The legacy aliases keep the original
// clients working unchanged.
func (r *Router) Register(engine *gin.Engine) {
	api := engine.Group("/api")

	api.GET("/system/status", r.handleStatus)
	api.GET("/status", r.handleStatus)
	api.POST("/system/login", r.handleLogin)
	api.POST("/auth/login", r.handleLogin)

	api.GET("/market/symbol", r.handleSymbol)
	api.GET("/market/candles/daily", r.handleDailyCandles)
	api.GET("/market/candles/minute", r.handleMinuteCandles)
	api.GET("/market/candles/tick", r.handleTickCandles)

	api.GET("/conditions", r.handleConditionList)
	api.POST("/conditions/search", r.handleConditionSearch)
	api.POST("/conditions/start", r.handleConditionStart)
	api.POST("/conditions/stop", r.handleConditionStop)

	api.POST("/realtime/subscribe", r.handleSubscribe)
	api.POST("/realtime/unsubscribe", r.handleUnsubscribe)

	api.GET("/accounts/balance", r.handleBalance)
	api.GET("/accounts/deposit", r.handleDeposit)
	api.GET("/accounts/orders", r.handleOutstanding)
	api.POST("/orders", r.handleSendOrder)

	api.GET("/dashboard", r.handleDashboard)
	api.POST("/dashboard/refresh", r.handleDashboardRefresh)

	api.POST("/analytics/push", r.handleAnalyticsPush)

	engine.GET("/ws/realtime", func(c *gin.Context) {
		r.serveStream(c, stream.StreamRealtime)
	})
	engine.GET("/ws/execution", func(c *gin.Context) {
		r.serveStream(c, stream.StreamExecution)
	})
}

// serviceError renders a failed envelope. Broker rejections and
// timeouts are expected operational outcomes, so they answer 200 with
// Success=false rather than a transport-level error.
func serviceError(c *gin.Context, err error) {
	var de *broker.DispatchError
	switch {
	case errors.As(err, &de):
		c.JSON(http.StatusOK, fail(de.Error()))
	case errors.Is(err, correlator.ErrTimeout):
		c.JSON(http.StatusOK, fail("broker did not answer in time"))
	default:
		c.JSON(http.StatusInternalServerError, fail(err.Error()))
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	info := r.sess.Current()
	c.JSON(http.StatusOK, ok(gin.H{
		"connected":        r.sess.Connected(),
		"mode":             r.mode,
		"server_time":      time.Now().Format("20060102150405"),
		"user_id":          info.UserID,
		"account":          info.Account,
		"pending_requests": r.corr.PendingCount(),
		"subscribers": gin.H{
			stream.StreamRealtime:  r.hub.Count(stream.StreamRealtime),
			stream.StreamExecution: r.hub.Count(stream.StreamExecution),
		},
	}))
}

func (r *Router) handleLogin(c *gin.Context) {
	info, err := r.sess.Login(c.Request.Context())
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(info))
}

func (r *Router) handleSymbol(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, fail("code is required"))
		return
	}
	info, err := r.market.SymbolInfo(c.Request.Context(), code)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(info))
}

func (r *Router) handleDailyCandles(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, fail("code is required"))
		return
	}
	rows, err := r.market.DailyCandles(c.Request.Context(), code, c.Query("date"), c.Query("stop_date"))
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(rows))
}

func (r *Router) handleMinuteCandles(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, fail("code is required"))
		return
	}
	tick := c.DefaultQuery("tick", "1")
	rows, err := r.market.MinuteCandles(c.Request.Context(), code, tick, c.Query("stop_time"))
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(rows))
}

func (r *Router) handleTickCandles(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, fail("code is required"))
		return
	}
	tick := c.DefaultQuery("tick", "1")
	rows, err := r.market.TickCandles(c.Request.Context(), code, tick)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(rows))
}

func (r *Router) handleConditionList(c *gin.Context) {
	list, err := r.conditions.List(c.Request.Context())
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(list))
}

func (r *Router) bindCondition(c *gin.Context) (market.Condition, bool) {
	var body ConditionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, fail("name is required"))
		return market.Condition{}, false
	}
	return market.Condition{Index: body.Index, Name: body.Name}, true
}

func (r *Router) handleConditionSearch(c *gin.Context) {
	cond, ok2 := r.bindCondition(c)
	if !ok2 {
		return
	}
	res, err := r.conditions.Search(c.Request.Context(), cond)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(res))
}

func (r *Router) handleConditionStart(c *gin.Context) {
	cond, ok2 := r.bindCondition(c)
	if !ok2 {
		return
	}
	if err := r.conditions.StartRealtime(c.Request.Context(), cond); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(nil))
}

func (r *Router) handleConditionStop(c *gin.Context) {
	cond, ok2 := r.bindCondition(c)
	if !ok2 {
		return
	}
	if err := r.conditions.StopRealtime(c.Request.Context(), cond); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(nil))
}

func (r *Router) handleSubscribe(c *gin.Context) {
	var body CodesBody
	if err := c.ShouldBindJSON(&body); err != nil || len(body.Codes) == 0 {
		c.JSON(http.StatusBadRequest, fail("codes are required"))
		return
	}
	if err := r.market.Subscribe(c.Request.Context(), body.Codes); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(nil))
}

func (r *Router) handleUnsubscribe(c *gin.Context) {
	var body CodesBody
	// An empty body means unsubscribe everything.
	_ = c.ShouldBindJSON(&body)
	if err := r.market.Unsubscribe(c.Request.Context(), body.Codes); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(nil))
}

func (r *Router) handleBalance(c *gin.Context) {
	rows, err := r.accounts.Balance(c.Request.Context())
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(rows))
}

func (r *Router) handleDeposit(c *gin.Context) {
	row, err := r.accounts.Deposit(c.Request.Context())
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(row))
}

func (r *Router) handleOutstanding(c *gin.Context) {
	rows, err := r.accounts.Outstanding(c.Request.Context())
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(rows))
}

func (r *Router) handleSendOrder(c *gin.Context) {
	var body OrderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, fail("code, order_type and quantity are required"))
		return
	}
	quoteType := body.QuoteType
	if quoteType == "" {
		quoteType = "00"
	}
	err := r.accounts.SendOrder(c.Request.Context(), broker.OrderRequest{
		Code:      body.Code,
		OrderType: body.OrderType,
		Quantity:  body.Quantity,
		Price:     body.Price,
		QuoteType: quoteType,
		OrigOrder: body.OrigOrder,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(nil))
}

func (r *Router) handleDashboard(c *gin.Context) {
	snap, exists := r.accounts.Snapshot()
	if !exists {
		c.JSON(http.StatusOK, fail("no snapshot yet, refresh first"))
		return
	}
	c.JSON(http.StatusOK, ok(snap))
}

func (r *Router) handleDashboardRefresh(c *gin.Context) {
	snap, err := r.accounts.RefreshDashboard(c.Request.Context())
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(snap))
}

func (r *Router) handleAnalyticsPush(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, fail("unreadable body"))
		return
	}
	sent, err := r.analytics.Push(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error()))
		return
	}
	c.JSON(http.StatusOK, ok(gin.H{"delivered": sent}))
}
