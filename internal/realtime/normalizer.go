// Package realtime reshapes the broker's field-indexed realtime records
// into canonical typed events for the stream fan-out.
package realtime

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"kiwoomd/internal/broker"
	"kiwoomd/internal/logger"
)

// Event is the canonical streamed record. Data values are either
// float64 or string.
type Event struct {
	Type      string         `json:"type"`
	Code      string         `json:"code,omitempty"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Event types.
const (
	TypeTick         = "tick"
	TypeQuote        = "quote"
	TypeCondition    = "condition"
	TypeProgramTrade = "program_trade"
	TypeUnknown      = "unknown"
)

const timestampLayout = "20060102150405"

// Normalizer converts OnRealData callbacks into Events and hands them
// to emit. It keeps a last-known-price cache per code so quote events
// without a tradable price can still carry one.
type Normalizer struct {
	ctrl broker.Control
	emit func(Event)
	now  func() time.Time

	mu        sync.Mutex
	lastPrice map[string]float64
}

func NewNormalizer(ctrl broker.Control, emit func(Event)) *Normalizer {
	return &Normalizer{
		ctrl:      ctrl,
		emit:      emit,
		now:       time.Now,
		lastPrice: make(map[string]float64),
	}
}

// HandleReal processes one realtime record. Runs on the exclusive
// context; field reads are only valid inside this call.
func (n *Normalizer) HandleReal(code, realType string) {
	ev := Event{
		Code:      code,
		Timestamp: n.now().Format(timestampLayout),
		Data:      make(map[string]any),
	}

	var fields []fieldSpec
	switch {
	case strings.Contains(realType, "프로그램"):
		ev.Type = TypeProgramTrade
		fields = programFields
	case strings.Contains(realType, "호가"):
		ev.Type = TypeQuote
		fields = quoteFields
	case strings.Contains(realType, "체결"):
		ev.Type = TypeTick
		fields = tickFields
	default:
		ev.Type = TypeUnknown
		ev.Data["real_type"] = realType
		n.emit(ev)
		return
	}

	for _, f := range fields {
		raw := n.ctrl.RealtimeField(code, f.fid)
		switch f.mode {
		case modeRaw:
			if v := strings.TrimSpace(raw); v != "" {
				ev.Data[f.key] = v
			}
		default:
			if v, ok := cleanNumber(raw, f.mode == modeSigned); ok {
				ev.Data[f.key] = v
			}
		}
	}

	switch ev.Type {
	case TypeTick:
		if p, ok := ev.Data["current_price"].(float64); ok && p > 0 {
			n.cachePrice(code, p)
		}
	case TypeQuote:
		n.fillQuotePrice(code, ev.Data)
	}

	n.emit(ev)
}

// fillQuotePrice derives current_price for a quote record that has
// none: best bid, then best ask, then the cached last price. A positive
// hit also refreshes the cache.
func (n *Normalizer) fillQuotePrice(code string, data map[string]any) {
	if p, ok := data["current_price"].(float64); ok && p > 0 {
		n.cachePrice(code, p)
		return
	}
	for _, key := range []string{"bid_price", "ask_price"} {
		if p, ok := data[key].(float64); ok && p > 0 {
			data["current_price"] = p
			n.cachePrice(code, p)
			return
		}
	}
	n.mu.Lock()
	cached := n.lastPrice[code]
	n.mu.Unlock()
	if cached > 0 {
		data["current_price"] = cached
	}
}

func (n *Normalizer) cachePrice(code string, p float64) {
	n.mu.Lock()
	n.lastPrice[code] = p
	n.mu.Unlock()
}

// HandleCondition converts a realtime condition hit into an Event.
// insertDelete is "I" when the code enters the condition's result set
// and "D" when it leaves.
func (n *Normalizer) HandleCondition(code, insertDelete, condName, condIndex string) {
	n.emit(Event{
		Type:      TypeCondition,
		Code:      code,
		Timestamp: n.now().Format(timestampLayout),
		Data: map[string]any{
			"event":           strings.TrimSpace(insertDelete),
			"condition_name":  condName,
			"condition_index": strings.TrimSpace(condIndex),
		},
	})
}

// cleanNumber parses a broker numeric string: commas stripped, the sign
// token honored only when signed. Bare signs and blanks are
// placeholders and report !ok; anything else unparseable degrades to 0.
func cleanNumber(raw string, signed bool) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if s == "" || s == "+" || s == "-" {
		return 0, false
	}
	neg := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		neg = true
		s = s[1:]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		logger.Debugf("realtime: unparseable numeric %q", raw)
		return 0, true
	}
	if neg && signed {
		v = -v
	}
	return v, true
}
