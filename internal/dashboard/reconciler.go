package dashboard

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kiwoomd/internal/logger"
)

// SummaryTag marks the synthetic aggregate row the account service
// prepends to balance rows. Non-summary rows never carry it.
const SummaryTag = "summary"

// Korean field keys of the balance (opw00018), deposit (opw00001) and
// outstanding (opt10075) bulk rows, plus the chejan FIDs the balance
// patch reads. Kept in one place so the reconciler and the account
// service cannot drift apart.
const (
	keyStockCode   = "종목번호"
	keyStockName   = "종목명"
	keyQuantity    = "보유수량"
	keyAvgPrice    = "매입가"
	keyPrice       = "현재가"
	keyEvalAmount  = "평가금액"
	keyPurchase    = "매입금액"
	keyPnL         = "평가손익"
	keyPnLRate     = "수익률(%)"
	keyTotPurchase = "총매입금액"
	keyTotEval     = "총평가금액"
	keyTotPnL      = "총평가손익금액"
	keyTotPnLRate  = "총수익률(%)"
	keyRealized    = "당일실현손익"

	keyDeposit      = "예수금"
	keyDepositD2    = "d+2추정예수금"
	keyWithdrawable = "출금가능금액"

	keyOrderNo     = "주문번호"
	keyOrderCode   = "종목코드"
	keyOrderType   = "주문구분"
	keyOrderStatus = "주문상태"
	keyOrderPrice  = "주문가격"
	keyOrderQty    = "주문수량"
	keyOrderRemain = "미체결수량"
	keyOrderFilled = "체결량"
	keyOrderTime   = "시간"

	fidAccount  = "9201"
	fidCode     = "9001"
	fidName     = "302"
	fidQty      = "930"
	fidAvgPrice = "931"
	fidPurchase = "932"
	fidPrice    = "10"
	fidDeposit  = "951"
	fidPnLRate  = "8019"
)

// Reconciler folds full bulk refreshes and incremental chejan patches
// into one account snapshot. A single mutex covers every entry point so
// refresh and patch can never interleave their aggregate recomputation.
type Reconciler struct {
	mu      sync.Mutex
	account string
	snap    *Snapshot
	now     func() time.Time
}

func NewReconciler(account string) *Reconciler {
	return &Reconciler{account: account, now: time.Now}
}

// SetAccount binds the reconciler to an account number once login has
// resolved it. A configured account is never replaced.
func (r *Reconciler) SetAccount(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.account == "" {
		r.account = account
	}
}

// Snapshot returns a deep copy of the current state; ok is false before
// the first refresh or patch.
func (r *Reconciler) Snapshot() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap == nil {
		return Snapshot{}, false
	}
	return r.snap.clone(), true
}

// ApplyFullRefresh replaces the snapshot wholesale from bulk query
// rows. The summary row among balanceRows (tagged, or the first row
// when untagged) sources the aggregates; the rest become holdings.
func (r *Reconciler) ApplyFullRefresh(balanceRows, depositRows, outstandingRows []map[string]string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := &Snapshot{
		AccountNo:      r.account,
		FetchedAt:      r.now().Format("20060102150405"),
		RawBalance:     cloneRows(balanceRows),
		RawDeposit:     cloneRows(depositRows),
		RawOutstanding: cloneRows(outstandingRows),
	}

	summary, holdings := splitSummary(balanceRows)
	if summary != nil {
		snap.TotalPurchase = reformat(summary[keyTotPurchase], 0, true)
		snap.TotalEvaluation = reformat(summary[keyTotEval], 0, true)
		snap.TotalPnL = reformat(summary[keyTotPnL], 0, false)
		snap.TotalPnLRate = reformat(summary[keyTotPnLRate], 2, false)
		snap.RealizedPnL = reformat(summary[keyRealized], 0, false)
	} else {
		snap.TotalPurchase = formatAmount(decimal.Zero, 0)
		snap.TotalEvaluation = formatAmount(decimal.Zero, 0)
		snap.TotalPnL = formatAmount(decimal.Zero, 0)
		snap.TotalPnLRate = formatAmount(decimal.Zero, 2)
		snap.RealizedPnL = formatAmount(decimal.Zero, 0)
	}

	for _, row := range holdings {
		code := normalizeCode(row[keyStockCode])
		if code == "" {
			continue
		}
		snap.Holdings = append(snap.Holdings, Holding{
			Code:           code,
			Name:           row[keyStockName],
			Quantity:       reformat(row[keyQuantity], 0, true),
			AvgPrice:       reformat(row[keyAvgPrice], 0, true),
			Price:          reformat(row[keyPrice], 0, true),
			EvalAmount:     reformat(row[keyEvalAmount], 0, true),
			PurchaseAmount: reformat(row[keyPurchase], 0, true),
			PnL:            reformat(row[keyPnL], 0, false),
			PnLRate:        reformat(row[keyPnLRate], 2, false),
		})
	}

	if len(depositRows) > 0 {
		dep := depositRows[0]
		avail := dep[keyDepositD2]
		if parseAmount(avail).IsZero() {
			avail = dep[keyDeposit]
		}
		snap.DepositAvailable = reformat(avail, 0, true)
		snap.DepositWithdrawable = reformat(dep[keyWithdrawable], 0, true)
	}

	for _, row := range outstandingRows {
		snap.Outstanding = append(snap.Outstanding, Order{
			OrderNo:  row[keyOrderNo],
			Code:     normalizeCode(row[keyOrderCode]),
			Name:     row[keyStockName],
			Type:     row[keyOrderType],
			Status:   row[keyOrderStatus],
			Price:    reformat(row[keyOrderPrice], 0, true),
			Quantity: reformat(row[keyOrderQty], 0, true),
			Remain:   reformat(row[keyOrderRemain], 0, true),
			Filled:   reformat(row[keyOrderFilled], 0, true),
			Time:     row[keyOrderTime],
		})
	}

	r.snap = snap
	return snap.clone()
}

// ApplyBalancePatch upserts one holding from a chejan balance event and
// recomputes the aggregates. ok is false when the patch does not apply
// (wrong account, missing code); the caller is expected to fall back to
// a full refresh in that case.
func (r *Reconciler) ApplyBalancePatch(fields map[string]string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acct := fields[fidAccount]; acct != r.account {
		logger.Debugf("dashboard: balance patch for foreign account %q dropped", acct)
		return Snapshot{}, false
	}
	code := normalizeCode(fields[fidCode])
	if code == "" {
		logger.Warnf("dashboard: balance patch without stock code dropped")
		return Snapshot{}, false
	}

	if r.snap == nil {
		r.snap = &Snapshot{
			AccountNo:           r.account,
			TotalPurchase:       formatAmount(decimal.Zero, 0),
			TotalEvaluation:     formatAmount(decimal.Zero, 0),
			TotalPnL:            formatAmount(decimal.Zero, 0),
			TotalPnLRate:        formatAmount(decimal.Zero, 2),
			RealizedPnL:         formatAmount(decimal.Zero, 0),
			DepositAvailable:    formatAmount(decimal.Zero, 0),
			DepositWithdrawable: formatAmount(decimal.Zero, 0),
		}
	}
	snap := r.snap

	qty := parseAmount(fields[fidQty]).Abs()
	price := parseAmount(fields[fidPrice]).Abs()
	purchase := parseAmount(fields[fidPurchase]).Abs()

	eval := purchase
	if qty.IsPositive() && price.IsPositive() {
		eval = price.Mul(qty)
	}
	pnl := eval.Sub(purchase)

	h := Holding{
		Code:           code,
		Name:           fields[fidName],
		Quantity:       formatAmount(qty, 0),
		AvgPrice:       reformat(fields[fidAvgPrice], 0, true),
		Price:          formatAmount(price, 0),
		EvalAmount:     formatAmount(eval, 0),
		PurchaseAmount: formatAmount(purchase, 0),
		PnL:            formatAmount(pnl, 0),
		PnLRate:        formatAmount(rate(pnl, purchase), 2),
	}
	if v := fields[fidPnLRate]; v != "" {
		h.PnLRate = reformat(v, 2, false)
	}

	replaced := false
	for i := range snap.Holdings {
		if snap.Holdings[i].Code == code {
			snap.Holdings[i] = h
			replaced = true
			break
		}
	}
	if !replaced {
		snap.Holdings = append(snap.Holdings, h)
	}

	r.recomputeAggregates(snap)

	if dep := parseAmount(fields[fidDeposit]); dep.IsPositive() {
		snap.DepositAvailable = formatAmount(dep, 0)
		if parseAmount(snap.DepositWithdrawable).IsZero() {
			snap.DepositWithdrawable = snap.DepositAvailable
		}
	}

	snap.FetchedAt = r.now().Format("20060102150405")
	return snap.clone(), true
}

// recomputeAggregates rebuilds the totals from the holdings table.
// Called with the lock held.
func (r *Reconciler) recomputeAggregates(snap *Snapshot) {
	totalEval := decimal.Zero
	totalPurchase := decimal.Zero
	for _, h := range snap.Holdings {
		totalEval = totalEval.Add(parseAmount(h.EvalAmount))
		totalPurchase = totalPurchase.Add(parseAmount(h.PurchaseAmount))
	}
	pnl := totalEval.Sub(totalPurchase)
	snap.TotalEvaluation = formatAmount(totalEval, 0)
	snap.TotalPurchase = formatAmount(totalPurchase, 0)
	snap.TotalPnL = formatAmount(pnl, 0)
	snap.TotalPnLRate = formatAmount(rate(pnl, totalPurchase), 2)
}

// rate is round(pnl/purchase*100, 2), zero when purchase is zero.
func rate(pnl, purchase decimal.Decimal) decimal.Decimal {
	if purchase.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(purchase).Mul(decimal.NewFromInt(100)).Round(2)
}

// splitSummary separates the tagged summary row from holding rows.
// An untagged first row is treated as the summary for compatibility
// with older clients that send plain opw00018 output.
func splitSummary(rows []map[string]string) (map[string]string, []map[string]string) {
	if len(rows) == 0 {
		return nil, nil
	}
	for i, row := range rows {
		if row[SummaryTag] != "" {
			rest := make([]map[string]string, 0, len(rows)-1)
			rest = append(rest, rows[:i]...)
			rest = append(rest, rows[i+1:]...)
			return row, rest
		}
	}
	return rows[0], rows[1:]
}
