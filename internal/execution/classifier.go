// Package execution classifies the broker's chejan (체결잔고) callbacks
// into order-lifecycle and balance-delta events.
package execution

import (
	"strconv"
	"strings"
	"time"
)

// Event types.
const (
	TypeOrder   = "order"
	TypeBalance = "balance"
	TypeUnknown = "unknown"
)

// Chejan FIDs extracted for every event. Keys in Event.Fields are the
// decimal FID as a string, values are the trimmed raw broker strings.
var chejanFIDs = []int{
	9201, // account number
	9203, // order number
	9001, // stock code (venue prefixed)
	302,  // stock name
	900,  // order quantity
	901,  // order price
	902,  // outstanding quantity
	903,  // executed amount
	904,  // original order number
	905,  // order classification
	908,  // order/execution time
	910,  // executed price
	911,  // executed quantity
	10,   // current price
	930,  // holding quantity
	931,  // purchase unit price
	932,  // total purchase amount
	933,  // orderable quantity
	950,  // realized profit of the day
	951,  // deposit
	8019, // profit rate
}

// Event is one classified chejan record.
type Event struct {
	Type      string            `json:"type"`
	Timestamp string            `json:"timestamp"`
	Fields    map[string]string `json:"fields"`
}

// FieldReader reads one chejan FID of the record currently being
// delivered. broker.Control's ChejanField satisfies it.
type FieldReader func(fid int) string

// Classifier turns chejan callbacks into Events. The zero value is
// ready to use; now is swappable for tests.
type Classifier struct {
	now func() time.Time
}

func NewClassifier() *Classifier {
	return &Classifier{now: time.Now}
}

// Classify reads the fixed FID set through read and labels the record
// by gubun: "0" is an order event, "1" a balance event, anything else
// unknown. Absent fields are left out rather than carried as blanks.
func (c *Classifier) Classify(gubun string, read FieldReader) Event {
	ev := Event{
		Timestamp: c.now().Format("20060102150405"),
		Fields:    make(map[string]string, len(chejanFIDs)),
	}
	switch strings.TrimSpace(gubun) {
	case "0":
		ev.Type = TypeOrder
	case "1":
		ev.Type = TypeBalance
	default:
		ev.Type = TypeUnknown
	}
	for _, fid := range chejanFIDs {
		if v := strings.TrimSpace(read(fid)); v != "" {
			ev.Fields[strconv.Itoa(fid)] = v
		}
	}
	return ev
}
