// Package market serves bulk market data queries and realtime
// subscription management. Candle queries page through the broker's
// continuation protocol; rows keep the TR's native field keys so
// clients see exactly what the broker reports.
package market

import (
	"context"
	"strings"
	"time"

	"kiwoomd/internal/broker"
	"kiwoomd/internal/correlator"
	"kiwoomd/internal/logger"
)

// TR codes served by this package.
const (
	trTickCandles   = "opt10079"
	trMinuteCandles = "opt10080"
	trDailyCandles  = "opt10081"
	trSymbolInfo    = "opt10001"
)

// Screen numbers, one per concern so unsubscribing a screen never
// disturbs another feed.
const (
	screenCandles  = "1001"
	screenRealtime = "2001"
	screenSymbol   = "1002"
)

// realtimeFIDs covers tick, quote and program-trade records in one
// registration.
const realtimeFIDs = "10;11;12;13;15;16;17;18;20;21;27;28;121;125;202;204;206;228"

// maxCandlePages bounds a runaway paged query; the broker throttles
// around this volume anyway.
const maxCandlePages = 10

var (
	dailyFields  = []string{"일자", "시가", "고가", "저가", "현재가", "거래량"}
	minuteFields = []string{"체결시간", "시가", "고가", "저가", "현재가", "거래량"}
	tickFields   = []string{"체결시간", "현재가", "전일대비", "거래량"}
	symbolFields = []string{
		"종목명", "현재가", "기준가", "시가", "고가", "저가",
		"거래량", "시가총액", "액면가", "상장주식", "PER", "PBR", "EPS", "ROE",
	}
)

// Service issues market TRs through the correlator and manages
// realtime registrations through the invoker.
type Service struct {
	corr *correlator.Correlator
	ctrl broker.Control
	iv   *broker.Invoker

	queryTimeout time.Duration
}

func NewService(corr *correlator.Correlator, ctrl broker.Control, iv *broker.Invoker, queryTimeout time.Duration) *Service {
	return &Service{corr: corr, ctrl: ctrl, iv: iv, queryTimeout: queryTimeout}
}

// DailyCandles returns daily rows for code starting at date (yyyyMMdd,
// empty for today) going backwards, paging until stopDate is passed or
// the page cap is hit.
func (s *Service) DailyCandles(ctx context.Context, code, date, stopDate string) ([]map[string]string, error) {
	input := map[string]string{
		"종목코드":   code,
		"기준일자":   date,
		"수정주가구분": "1",
	}
	return s.pagedQuery(ctx, trDailyCandles, input, dailyFields, "일자", stopDate)
}

// MinuteCandles returns minute rows for code at the given tick interval
// ("1", "3", "5", ...), paging until stopTime (yyyyMMddHHmmss) is
// passed or the page cap is hit.
func (s *Service) MinuteCandles(ctx context.Context, code, tick, stopTime string) ([]map[string]string, error) {
	input := map[string]string{
		"종목코드":   code,
		"틱범위":    tick,
		"수정주가구분": "1",
	}
	return s.pagedQuery(ctx, trMinuteCandles, input, minuteFields, "체결시간", stopTime)
}

// TickCandles returns tick-aggregated rows; one page only, the tick TR
// floods otherwise.
func (s *Service) TickCandles(ctx context.Context, code, tick string) ([]map[string]string, error) {
	res, err := s.corr.Query(ctx, correlator.Request{
		TrCode: trTickCandles,
		Input: map[string]string{
			"종목코드":   code,
			"틱범위":    tick,
			"수정주가구분": "1",
		},
		Fields:  tickFields,
		Screen:  screenCandles,
		Timeout: s.queryTimeout,
	})
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// pagedQuery re-dispatches with the continuation flag while the broker
// reports more pages. Rows are ordered newest first, so the stop bound
// is reached when the last row's key field sorts below it.
func (s *Service) pagedQuery(ctx context.Context, trCode string, input map[string]string, fields []string, boundField, stopBound string) ([]map[string]string, error) {
	var rows []map[string]string
	next := 0
	for page := 0; page < maxCandlePages; page++ {
		res, err := s.corr.Query(ctx, correlator.Request{
			TrCode:  trCode,
			Input:   input,
			Fields:  fields,
			Screen:  screenCandles,
			Next:    next,
			Timeout: s.queryTimeout,
		})
		if err != nil {
			if len(rows) > 0 {
				logger.Warnf("market: %s page %d failed, returning partial result: %v", trCode, page, err)
				return rows, nil
			}
			return nil, err
		}
		rows = append(rows, res.Rows...)
		if res.Continuation != "2" {
			break
		}
		if stopBound != "" && len(res.Rows) > 0 {
			last := strings.TrimSpace(res.Rows[len(res.Rows)-1][boundField])
			if last != "" && last <= stopBound {
				break
			}
		}
		next = 2
	}
	return rows, nil
}

// SymbolInfo returns the master record (주식기본정보) for one code.
func (s *Service) SymbolInfo(ctx context.Context, code string) (map[string]string, error) {
	res, err := s.corr.Query(ctx, correlator.Request{
		TrCode:  trSymbolInfo,
		Input:   map[string]string{"종목코드": code},
		Summary: symbolFields,
		Screen:  screenSymbol,
		Timeout: s.queryTimeout,
	})
	if err != nil {
		return nil, err
	}
	info := res.Summary
	if info == nil {
		info = map[string]string{}
	}
	info["종목코드"] = code
	return info, nil
}

// Subscribe registers codes for realtime updates on the shared screen.
func (s *Service) Subscribe(ctx context.Context, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	return s.iv.InvokeSync(ctx, func() error {
		joined := strings.Join(codes, ";")
		if code := s.ctrl.RegisterReal(screenRealtime, joined, realtimeFIDs); code != 0 {
			return &broker.DispatchError{Op: "SetRealReg " + joined, Code: code}
		}
		logger.Infof("market: realtime subscribed %s", joined)
		return nil
	})
}

// Unsubscribe drops codes from the realtime screen; empty drops all.
func (s *Service) Unsubscribe(ctx context.Context, codes []string) error {
	return s.iv.InvokeSync(ctx, func() error {
		if len(codes) == 0 {
			s.ctrl.UnregisterReal(screenRealtime, "ALL")
			return nil
		}
		for _, code := range codes {
			s.ctrl.UnregisterReal(screenRealtime, code)
		}
		return nil
	})
}
