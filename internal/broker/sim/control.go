// Package sim implements broker.Control without the proprietary
// control host. It synthesizes plausible TR results, realtime ticks and
// chejan events so the full pipeline can run in development and off
// broker hours. Callbacks are posted through an injected scheduler so
// they arrive on the exclusive context exactly like the real control's.
package sim

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"kiwoomd/internal/broker"
	"kiwoomd/internal/logger"
)

const (
	simAccount = "5550005231"
	simUserID  = "sim"
)

type instrument struct {
	code   string
	price  int
	open   int
	high   int
	low    int
	volume int
}

type trResult struct {
	rows    []map[string]string
	summary map[string]string
}

// Control is the simulated broker. Post must be set before Connect;
// every callback goes through it.
type Control struct {
	// Post schedules fn onto the exclusive context.
	Post func(fn func())
	// TickInterval controls the synthetic realtime feed rate.
	TickInterval time.Duration

	mu        sync.Mutex
	handlers  broker.Handlers
	connected bool
	rng       *rand.Rand
	inputs    map[string]string
	results   map[string]trResult
	realFlds  map[string]map[int]string
	chejan    map[int]string
	instrs    map[string]*instrument
	realCodes map[string]map[string]bool // screen -> codes
	orderSeq  int
	stopCh    chan struct{}
	ticking   bool
}

func NewControl(seed int64) *Control {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Control{
		TickInterval: time.Second,
		rng:          rand.New(rand.NewSource(seed)),
		inputs:       make(map[string]string),
		results:      make(map[string]trResult),
		realFlds:     make(map[string]map[int]string),
		instrs:       make(map[string]*instrument),
		realCodes:    make(map[string]map[string]bool),
		stopCh:       make(chan struct{}),
	}
}

func (c *Control) post(fn func()) {
	if c.Post != nil {
		c.Post(fn)
		return
	}
	fn()
}

func (c *Control) Connect() int {
	c.post(func() {
		c.mu.Lock()
		c.connected = true
		h := c.handlers.OnConnect
		c.mu.Unlock()
		logger.Infof("sim: connected")
		if h != nil {
			h(0)
		}
	})
	return 0
}

func (c *Control) Disconnect() {
	c.mu.Lock()
	c.connected = false
	if c.ticking {
		close(c.stopCh)
		c.ticking = false
	}
	c.mu.Unlock()
}

func (c *Control) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Control) LoginInfo(tag string) string {
	switch tag {
	case "ACCNO":
		return simAccount + ";"
	case "USER_ID":
		return simUserID
	default:
		return ""
	}
}

func (c *Control) SetInput(key, value string) {
	c.mu.Lock()
	c.inputs[key] = value
	c.mu.Unlock()
}

func (c *Control) Dispatch(rqName, trCode string, next int, screen string) int {
	c.mu.Lock()
	input := c.inputs
	c.inputs = make(map[string]string)
	res := c.synthesize(strings.ToLower(trCode), input)
	c.mu.Unlock()

	c.post(func() {
		c.mu.Lock()
		c.results[trCode] = res
		h := c.handlers.OnTrData
		c.mu.Unlock()
		if h != nil {
			h(broker.TrDataEvent{RQName: rqName, TrCode: trCode, Continuation: "0"})
		}
	})
	return 0
}

func (c *Control) RowCount(trCode, rqName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results[trCode].rows)
}

func (c *Control) Field(trCode, rqName string, row int, field string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := c.results[trCode]
	if row == 0 {
		if v, ok := res.summary[field]; ok {
			return v
		}
	}
	if row < 0 || row >= len(res.rows) {
		return ""
	}
	return res.rows[row][field]
}

func (c *Control) RealtimeField(code string, fid int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.realFlds[code][fid]
}

func (c *Control) ChejanField(fid int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chejan[fid]
}

func (c *Control) RegisterReal(screen, codes, fids string) int {
	c.mu.Lock()
	set := c.realCodes[screen]
	if set == nil {
		set = make(map[string]bool)
		c.realCodes[screen] = set
	}
	for _, code := range strings.Split(codes, ";") {
		if code = strings.TrimSpace(code); code != "" {
			set[code] = true
			c.instrument(code)
		}
	}
	start := !c.ticking
	if start {
		c.ticking = true
		c.stopCh = make(chan struct{})
	}
	c.mu.Unlock()

	if start {
		go c.tickLoop()
	}
	return 0
}

func (c *Control) UnregisterReal(screen, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if code == "ALL" {
		delete(c.realCodes, screen)
		return
	}
	delete(c.realCodes[screen], code)
}

func (c *Control) SendOrder(req broker.OrderRequest) int {
	c.mu.Lock()
	c.orderSeq++
	orderNo := fmt.Sprintf("%07d", c.orderSeq)
	inst := c.instrument(req.Code)
	price := req.Price
	if price <= 0 {
		price = inst.price
	}
	c.mu.Unlock()

	// Accept, fill, then report the balance delta, the way the broker
	// streams a happy-path order.
	c.postChejan("0", map[int]string{
		9201: simAccount,
		9203: orderNo,
		9001: "A" + req.Code,
		900:  strconv.Itoa(req.Quantity),
		901:  strconv.Itoa(price),
		902:  "0",
		905:  orderLabel(req.OrderType),
		908:  time.Now().Format("150405"),
		910:  strconv.Itoa(price),
		911:  strconv.Itoa(req.Quantity),
	})
	c.postChejan("1", map[int]string{
		9201: simAccount,
		9001: "A" + req.Code,
		930:  strconv.Itoa(req.Quantity),
		931:  strconv.Itoa(price),
		932:  strconv.Itoa(price * req.Quantity),
		10:   strconv.Itoa(price),
		951:  "10000000",
	})
	return 0
}

func (c *Control) postChejan(gubun string, fields map[int]string) {
	c.post(func() {
		c.mu.Lock()
		c.chejan = fields
		h := c.handlers.OnChejan
		c.mu.Unlock()
		if h != nil {
			h(gubun, len(fields))
		}
	})
}

func (c *Control) LoadConditions() bool { return true }

func (c *Control) ConditionNames() string { return "000^급등주;001^거래량급증" }

func (c *Control) SendCondition(screen, name string, index, realtime int) bool {
	if realtime != 0 {
		return true
	}
	c.post(func() {
		c.mu.Lock()
		codes := make([]string, 0, len(c.instrs))
		for code := range c.instrs {
			codes = append(codes, code)
		}
		h := c.handlers.OnConditionResult
		c.mu.Unlock()
		if h != nil {
			h(screen, strings.Join(codes, ";"), name, strconv.Itoa(index))
		}
	})
	return true
}

func (c *Control) StopCondition(screen, name string, index int) {}

func (c *Control) SetHandlers(h broker.Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = h
}

// instrument returns the state for code, seeding a fresh random walk on
// first sight. Called with the lock held.
func (c *Control) instrument(code string) *instrument {
	inst := c.instrs[code]
	if inst == nil {
		base := 10000 + c.rng.Intn(90)*1000
		inst = &instrument{code: code, price: base, open: base, high: base, low: base}
		c.instrs[code] = inst
	}
	return inst
}

func (c *Control) tickLoop() {
	c.mu.Lock()
	interval := c.TickInterval
	stop := c.stopCh
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.emitTicks()
		case <-stop:
			return
		}
	}
}

func (c *Control) emitTicks() {
	c.mu.Lock()
	var codes []string
	for _, set := range c.realCodes {
		for code := range set {
			codes = append(codes, code)
		}
	}
	c.mu.Unlock()

	for _, code := range codes {
		code := code
		c.post(func() { c.emitTick(code) })
	}
}

// emitTick advances one instrument's random walk and delivers a tick
// record. Runs on the exclusive context.
func (c *Control) emitTick(code string) {
	c.mu.Lock()
	inst := c.instrument(code)
	step := (c.rng.Intn(7) - 3) * tickSize(inst.price)
	inst.price += step
	if inst.price < tickSize(inst.price) {
		inst.price = tickSize(inst.price)
	}
	if inst.price > inst.high {
		inst.high = inst.price
	}
	if inst.low == 0 || inst.price < inst.low {
		inst.low = inst.price
	}
	qty := 1 + c.rng.Intn(100)
	if c.rng.Intn(2) == 1 {
		qty = -qty
	}
	inst.volume += abs(qty)
	diff := inst.price - inst.open

	c.realFlds[code] = map[int]string{
		20:  time.Now().Format("150405"),
		10:  signedPrice(inst.price, diff),
		11:  strconv.Itoa(diff),
		12:  fmt.Sprintf("%.2f", float64(diff)/float64(inst.open)*100),
		13:  strconv.Itoa(inst.volume),
		15:  strconv.Itoa(qty),
		16:  strconv.Itoa(inst.open),
		17:  strconv.Itoa(inst.high),
		18:  strconv.Itoa(inst.low),
		228: fmt.Sprintf("%.2f", 80+float64(c.rng.Intn(4000))/100),
	}
	h := c.handlers.OnRealData
	c.mu.Unlock()
	if h != nil {
		h(code, "주식체결")
	}
}

// synthesize builds a TR result from the staged inputs. Called with the
// lock held.
func (c *Control) synthesize(trCode string, input map[string]string) trResult {
	switch trCode {
	case "opt10079", "opt10080", "opt10081":
		return c.candleRows(trCode, input["종목코드"])
	case "opt10001":
		code := input["종목코드"]
		inst := c.instrument(code)
		return trResult{summary: map[string]string{
			"종목명":  "모의종목" + code,
			"현재가":  strconv.Itoa(inst.price),
			"시가":   strconv.Itoa(inst.open),
			"고가":   strconv.Itoa(inst.high),
			"저가":   strconv.Itoa(inst.low),
			"거래량":  strconv.Itoa(inst.volume),
			"PER":  "11.20",
			"PBR":  "1.10",
			"액면가":  "100",
			"상장주식": "5969783",
		}}
	case "opw00001":
		return trResult{summary: map[string]string{
			"예수금":      "10000000",
			"d+2추정예수금": "10000000",
			"출금가능금액":   "10000000",
		}}
	case "opw00018":
		return trResult{
			rows: []map[string]string{},
			summary: map[string]string{
				"총매입금액":   "0",
				"총평가금액":   "0",
				"총평가손익금액": "0",
				"총수익률(%)":  "0.00",
				"당일실현손익":   "0",
			},
		}
	case "opt10075":
		return trResult{rows: []map[string]string{}}
	default:
		logger.Warnf("sim: unsupported tr %s, returning empty result", trCode)
		return trResult{}
	}
}

func (c *Control) candleRows(trCode, code string) trResult {
	inst := c.instrument(code)
	rows := make([]map[string]string, 0, 30)
	price := inst.price
	now := time.Now()
	for i := 0; i < 30; i++ {
		open := price + (c.rng.Intn(5)-2)*tickSize(price)
		high := max(open, price) + c.rng.Intn(3)*tickSize(price)
		low := min(open, price) - c.rng.Intn(3)*tickSize(price)
		row := map[string]string{
			"시가":  strconv.Itoa(open),
			"고가":  strconv.Itoa(high),
			"저가":  strconv.Itoa(low),
			"현재가": strconv.Itoa(price),
			"거래량": strconv.Itoa(1000 + c.rng.Intn(100000)),
		}
		switch trCode {
		case "opt10081":
			row["일자"] = now.AddDate(0, 0, -i).Format("20060102")
		default:
			row["체결시간"] = now.Add(-time.Duration(i) * time.Minute).Format("20060102150405")
		}
		rows = append(rows, row)
		price = open + (c.rng.Intn(5)-2)*tickSize(price)
		if price < tickSize(price) {
			price = tickSize(price)
		}
	}
	return trResult{rows: rows}
}

// tickSize follows the KRX price-unit table closely enough for a sim.
func tickSize(price int) int {
	switch {
	case price < 2000:
		return 1
	case price < 5000:
		return 5
	case price < 20000:
		return 10
	case price < 50000:
		return 50
	case price < 200000:
		return 100
	case price < 500000:
		return 500
	default:
		return 1000
	}
}

func orderLabel(orderType int) string {
	switch orderType {
	case 1:
		return "+매수"
	case 2:
		return "-매도"
	case 3:
		return "매수취소"
	case 4:
		return "매도취소"
	default:
		return "정정"
	}
}

func signedPrice(price, diff int) string {
	if diff > 0 {
		return "+" + strconv.Itoa(price)
	}
	if diff < 0 {
		return "-" + strconv.Itoa(price)
	}
	return strconv.Itoa(price)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

var _ broker.Control = (*Control)(nil)
