// Package dashboard owns the authoritative account snapshot: holdings,
// outstanding orders, and the aggregate totals shown on the dashboard
// stream. All monetary figures are published as display-ready strings
// with comma grouping, matching what the terminal UIs render verbatim.
package dashboard

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Holding is one display row of the holdings table.
type Holding struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	Quantity       string `json:"qty"`
	AvgPrice       string `json:"avg_price"`
	Price          string `json:"price"`
	EvalAmount     string `json:"eval_amount"`
	PurchaseAmount string `json:"purchase_amount"`
	PnL            string `json:"pnl"`
	PnLRate        string `json:"pnl_rate"`
}

// Order is one display row of the outstanding-orders table.
type Order struct {
	OrderNo  string `json:"order_no"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Price    string `json:"price"`
	Quantity string `json:"qty"`
	Remain   string `json:"remain"`
	Filled   string `json:"filled"`
	Time     string `json:"time"`
}

// Snapshot is the reconciled account state. Raw rows are retained for
// the bulk-query endpoints but excluded from the dashboard payload.
type Snapshot struct {
	AccountNo           string    `json:"account_no"`
	FetchedAt           string    `json:"fetched_at"`
	TotalPurchase       string    `json:"total_purchase"`
	TotalEvaluation     string    `json:"total_evaluation"`
	TotalPnL            string    `json:"total_pnl"`
	TotalPnLRate        string    `json:"total_pnl_rate"`
	RealizedPnL         string    `json:"realized_pnl"`
	DepositAvailable    string    `json:"deposit_available"`
	DepositWithdrawable string    `json:"deposit_withdrawable"`
	Holdings            []Holding `json:"holdings"`
	Outstanding         []Order   `json:"outstanding"`

	RawBalance     []map[string]string `json:"-"`
	RawDeposit     []map[string]string `json:"-"`
	RawOutstanding []map[string]string `json:"-"`
}

// clone deep-copies the snapshot so broadcast serialization can never
// race a later mutation.
func (s *Snapshot) clone() Snapshot {
	out := *s
	out.Holdings = append([]Holding(nil), s.Holdings...)
	out.Outstanding = append([]Order(nil), s.Outstanding...)
	out.RawBalance = cloneRows(s.RawBalance)
	out.RawDeposit = cloneRows(s.RawDeposit)
	out.RawOutstanding = cloneRows(s.RawOutstanding)
	return out
}

func cloneRows(rows []map[string]string) []map[string]string {
	if rows == nil {
		return nil
	}
	out := make([]map[string]string, len(rows))
	for i, row := range rows {
		m := make(map[string]string, len(row))
		for k, v := range row {
			m[k] = v
		}
		out[i] = m
	}
	return out
}

// normalizeCode strips the one-letter venue prefix the chejan feed and
// some TRs attach ("A005930" -> "005930"). Only the fixed 7-char form
// is touched; anything else passes through trimmed.
func normalizeCode(raw string) string {
	code := strings.TrimSpace(raw)
	if len(code) == 7 && code[0] >= 'A' && code[0] <= 'Z' {
		return code[1:]
	}
	return code
}

// parseAmount reads a broker numeric string into a decimal. Commas are
// stripped and the sign is kept; unparseable input degrades to zero.
func parseAmount(raw string) decimal.Decimal {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if s == "" || s == "+" || s == "-" {
		return decimal.Zero
	}
	if s[0] == '+' {
		s = s[1:]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// formatAmount renders a decimal as a comma-grouped display string with
// a fixed number of decimal places (2 for rate-like fields, 0 for the
// rest).
func formatAmount(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, ch := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

// reformat normalizes one raw numeric field into display form. abs
// drops the direction sign prices carry.
func reformat(raw string, places int32, abs bool) string {
	d := parseAmount(raw)
	if abs {
		d = d.Abs()
	}
	return formatAmount(d, places)
}
