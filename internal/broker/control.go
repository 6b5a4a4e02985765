// Package broker defines the narrow capability surface of the Kiwoom
// OpenAPI control and the exclusive execution context it must be driven
// from. The control itself is proprietary and single-threaded: every call
// into it, and every callback out of it, happens on one logical thread.
// Implementations bind that contract to the real OCX host, to the bundled
// simulator (sim), or to a scripted fake (brokertest).
package broker

import "fmt"

// TrDataEvent describes one bulk-query (TR) result callback.
// RQName is the request name handed to Dispatch; the control is allowed
// to report it with surrounding whitespace or truncated, so consumers
// must not rely on an exact match.
type TrDataEvent struct {
	RQName       string
	TrCode       string
	Continuation string // "2" when more pages remain, "0"/"" otherwise
}

// OrderRequest carries a SendOrder call. OrderType follows the broker
// convention: 1 buy, 2 sell, 3 cancel buy, 4 cancel sell, 5 modify buy,
// 6 modify sell. QuoteType "00" is a limit order, "03" market.
type OrderRequest struct {
	RQName    string
	Screen    string
	AccountNo string
	OrderType int
	Code      string
	Quantity  int
	Price     int
	QuoteType string
	OrigOrder string
}

// Handlers receives the four callback classes of the control. All of
// them are invoked on the exclusive context, strictly serialized.
type Handlers struct {
	// OnConnect reports the login attempt result; 0 means success.
	OnConnect func(errCode int)
	// OnTrData fires once per bulk-query page. Row data must be read
	// back through RowCount/Field inside this callback.
	OnTrData func(ev TrDataEvent)
	// OnRealData fires per realtime tick/quote record. Field values
	// must be read back through RealtimeField inside this callback.
	OnRealData func(code, realType string)
	// OnChejan fires per execution/balance record (체결잔고); gubun is
	// "0" for order events and "1" for balance events. Field values
	// must be read back through ChejanField inside this callback.
	OnChejan func(gubun string, itemCount int)
	// OnCondition fires when a realtime condition (조건검색) match
	// enters ("I") or leaves ("D") the result set.
	OnCondition func(code, insertDelete, condName, condIndex string)
	// OnConditionResult fires with the one-shot condition search result.
	OnConditionResult func(screen, codes, condName, condIndex string)
}

// Control is the capability interface over the broker control. Every
// method must be called on the exclusive context (see Invoker); the
// implementations are free to assume single-threaded access.
type Control interface {
	// Connect triggers the login flow; the outcome arrives via
	// Handlers.OnConnect. Non-zero return means the trigger itself
	// was rejected.
	Connect() int
	Disconnect()
	IsConnected() bool

	// LoginInfo exposes session values such as "ACCNO" (a ";" joined
	// account list) and "USER_ID".
	LoginInfo(tag string) string

	// SetInput stages one TR input value for the next Dispatch.
	SetInput(key, value string)
	// Dispatch issues a staged TR request under rqName. next is 0 for
	// a fresh query and 2 to continue a paged one. Returns the broker
	// status code; 0 means the request was accepted.
	Dispatch(rqName, trCode string, next int, screen string) int
	// RowCount reports the number of rows available for a TR result.
	RowCount(trCode, rqName string) int
	// Field reads one field of one row of a TR result, verbatim.
	Field(trCode, rqName string, row int, field string) string

	// RealtimeField reads a FID of the realtime record currently being
	// delivered through OnRealData.
	RealtimeField(code string, fid int) string
	// ChejanField reads a FID of the execution record currently being
	// delivered through OnChejan.
	ChejanField(fid int) string

	// RegisterReal subscribes codes (";"-joined) on a screen for
	// realtime updates; fids is the ";"-joined FID list.
	RegisterReal(screen, codes, fids string) int
	// UnregisterReal drops a code ("ALL" for every code) from a screen.
	UnregisterReal(screen, code string)

	SendOrder(req OrderRequest) int

	// LoadConditions pulls the saved condition list; ConditionNames
	// then returns it as "index^name;index^name;...".
	LoadConditions() bool
	ConditionNames() string
	// SendCondition runs a condition search; realtime 1 keeps it
	// registered for OnCondition pushes.
	SendCondition(screen, name string, index, realtime int) bool
	StopCondition(screen, name string, index int)

	// SetHandlers wires the callback sinks. Must be called before
	// Connect and never concurrently with callback delivery.
	SetHandlers(h Handlers)
}

// DispatchError reports a call the control rejected outright, before any
// callback was possible.
type DispatchError struct {
	Op   string
	Code int
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("broker rejected %s (code %d)", e.Op, e.Code)
}

// Well-known broker status codes, kept for log readability.
const (
	ErrCodeNone          = 0
	ErrCodeDisconnected  = -100
	ErrCodeOrderSpec     = -300
	ErrCodeRateLimited   = -308
	ErrCodeQueryOverload = -200
)
