// Package brokertest provides a scripted in-memory Control for tests.
// Results are staged per TR code; dispatching fires the matching
// callback inline, which mimics how the real control delivers events on
// the exclusive context.
package brokertest

import (
	"fmt"
	"strings"
	"sync"

	"kiwoomd/internal/broker"
)

// TrResult is the staged answer for one TR code.
type TrResult struct {
	Rows         []map[string]string
	Summary      map[string]string
	Continuation string
}

// DispatchCall records one Dispatch with the inputs staged before it.
type DispatchCall struct {
	RQName string
	TrCode string
	Next   int
	Screen string
	Input  map[string]string
}

// Fake implements broker.Control. Zero value is not usable; construct
// with New.
type Fake struct {
	mu sync.Mutex

	connected bool
	loginInfo map[string]string
	handlers  broker.Handlers

	inputs  map[string]string
	results map[string]TrResult
	// current result being delivered, readable during the callback
	delivering map[string]TrResult

	realFields   map[string]map[int]string // code -> fid -> value
	chejanFields map[int]string

	conditions     string
	conditionsOK   bool
	sendCondOK     bool
	registeredReal map[string]string // screen -> codes

	dispatches []DispatchCall
	orders     []broker.OrderRequest

	// DispatchCode is returned by Dispatch; non-zero simulates outright
	// rejection and suppresses the callback.
	DispatchCode int
	// OrderCode is returned by SendOrder.
	OrderCode int
	// Silent suppresses the OnTrData callback so timeouts can be tested.
	Silent bool
	// MangleRQName rewrites the rqName reported to OnTrData, forcing the
	// consumer onto its TR-code fallback.
	MangleRQName func(rqName string) string
	// ConnectCode is delivered through OnConnect by Connect.
	ConnectCode int
}

func New() *Fake {
	return &Fake{
		loginInfo:      map[string]string{"ACCNO": "8012345611;", "USER_ID": "tester"},
		inputs:         make(map[string]string),
		results:        make(map[string]TrResult),
		delivering:     make(map[string]TrResult),
		realFields:     make(map[string]map[int]string),
		chejanFields:   make(map[int]string),
		registeredReal: make(map[string]string),
		conditionsOK:   true,
		sendCondOK:     true,
	}
}

// StageResult sets the answer delivered for the next dispatch of trCode.
func (f *Fake) StageResult(trCode string, r TrResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[trCode] = r
}

// StageReal sets one realtime FID value for a code.
func (f *Fake) StageReal(code string, fid int, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.realFields[code]
	if m == nil {
		m = make(map[int]string)
		f.realFields[code] = m
	}
	m[fid] = value
}

// StageChejan sets the chejan FID table delivered by the next FireChejan.
func (f *Fake) StageChejan(fields map[int]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chejanFields = fields
}

// SetLoginInfo overrides one session value.
func (f *Fake) SetLoginInfo(tag, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginInfo[tag] = value
}

// SetConditions stages the saved condition list.
func (f *Fake) SetConditions(list string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conditions = list
	f.conditionsOK = ok
}

// Dispatches returns a copy of every recorded Dispatch.
func (f *Fake) Dispatches() []DispatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]DispatchCall, len(f.dispatches))
	copy(out, f.dispatches)
	return out
}

// Orders returns a copy of every recorded SendOrder.
func (f *Fake) Orders() []broker.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]broker.OrderRequest, len(f.orders))
	copy(out, f.orders)
	return out
}

// RegisteredReal reports the codes registered on a screen.
func (f *Fake) RegisteredReal(screen string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registeredReal[screen]
}

// FireTrData delivers the staged result of trCode through OnTrData under
// an arbitrary rqName, decoupled from any dispatch. Combined with Silent
// this lets tests control callback ordering.
func (f *Fake) FireTrData(rqName, trCode string) {
	f.mu.Lock()
	res := f.results[trCode]
	f.delivering[trCode] = res
	h := f.handlers.OnTrData
	f.mu.Unlock()
	if h != nil {
		h(broker.TrDataEvent{RQName: rqName, TrCode: trCode, Continuation: res.Continuation})
	}
}

// FireReal delivers one realtime record through OnRealData.
func (f *Fake) FireReal(code, realType string) {
	f.mu.Lock()
	h := f.handlers.OnRealData
	f.mu.Unlock()
	if h != nil {
		h(code, realType)
	}
}

// FireChejan delivers one execution record through OnChejan.
func (f *Fake) FireChejan(gubun string, itemCount int) {
	f.mu.Lock()
	h := f.handlers.OnChejan
	f.mu.Unlock()
	if h != nil {
		h(gubun, itemCount)
	}
}

// FireCondition delivers one realtime condition event.
func (f *Fake) FireCondition(code, insertDelete, condName, condIndex string) {
	f.mu.Lock()
	h := f.handlers.OnCondition
	f.mu.Unlock()
	if h != nil {
		h(code, insertDelete, condName, condIndex)
	}
}

// broker.Control implementation.

func (f *Fake) Connect() int {
	f.mu.Lock()
	f.connected = f.ConnectCode == 0
	h := f.handlers.OnConnect
	code := f.ConnectCode
	f.mu.Unlock()
	if h != nil {
		h(code)
	}
	return 0
}

func (f *Fake) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) LoginInfo(tag string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginInfo[tag]
}

func (f *Fake) SetInput(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs[key] = value
}

func (f *Fake) Dispatch(rqName, trCode string, next int, screen string) int {
	f.mu.Lock()
	call := DispatchCall{
		RQName: rqName,
		TrCode: trCode,
		Next:   next,
		Screen: screen,
		Input:  f.inputs,
	}
	f.inputs = make(map[string]string)
	f.dispatches = append(f.dispatches, call)
	if f.DispatchCode != 0 {
		code := f.DispatchCode
		f.mu.Unlock()
		return code
	}
	res := f.results[trCode]
	reported := rqName
	if f.MangleRQName != nil {
		reported = f.MangleRQName(rqName)
	}
	f.delivering[trCode] = res
	silent := f.Silent
	h := f.handlers.OnTrData
	f.mu.Unlock()

	if !silent && h != nil {
		h(broker.TrDataEvent{RQName: reported, TrCode: trCode, Continuation: res.Continuation})
	}
	return 0
}

func (f *Fake) RowCount(trCode, rqName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivering[trCode].Rows)
}

func (f *Fake) Field(trCode, rqName string, row int, field string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.delivering[trCode]
	if row == 0 {
		if v, ok := res.Summary[field]; ok {
			return v
		}
	}
	if row < 0 || row >= len(res.Rows) {
		return ""
	}
	return res.Rows[row][field]
}

func (f *Fake) RealtimeField(code string, fid int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.realFields[code][fid]
}

func (f *Fake) ChejanField(fid int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chejanFields[fid]
}

func (f *Fake) RegisterReal(screen, codes, fids string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing := f.registeredReal[screen]
	if existing == "" {
		f.registeredReal[screen] = codes
	} else {
		f.registeredReal[screen] = existing + ";" + codes
	}
	return 0
}

func (f *Fake) UnregisterReal(screen, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code == "ALL" {
		delete(f.registeredReal, screen)
		return
	}
	parts := strings.Split(f.registeredReal[screen], ";")
	kept := parts[:0]
	for _, p := range parts {
		if p != code && p != "" {
			kept = append(kept, p)
		}
	}
	f.registeredReal[screen] = strings.Join(kept, ";")
}

func (f *Fake) SendOrder(req broker.OrderRequest) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	return f.OrderCode
}

func (f *Fake) LoadConditions() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conditionsOK
}

func (f *Fake) ConditionNames() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conditions
}

func (f *Fake) SendCondition(screen, name string, index, realtime int) bool {
	f.mu.Lock()
	ok := f.sendCondOK
	h := f.handlers.OnConditionResult
	f.mu.Unlock()
	if ok && realtime == 0 && h != nil {
		h(screen, "", name, fmt.Sprintf("%d", index))
	}
	return ok
}

func (f *Fake) StopCondition(screen, name string, index int) {}

func (f *Fake) SetHandlers(h broker.Handlers) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = h
}

var _ broker.Control = (*Fake)(nil)
