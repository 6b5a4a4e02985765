package httpapi

// Envelope is the response shape of every request/response call. The
// field casing is part of the wire contract with existing clients.
type Envelope struct {
	Success bool   `json:"Success"`
	Message string `json:"Message"`
	Data    any    `json:"Data"`
}

func ok(data any) Envelope {
	return Envelope{Success: true, Message: "", Data: data}
}

func fail(msg string) Envelope {
	return Envelope{Success: false, Message: msg, Data: nil}
}

// OrderBody is the /api/orders request payload.
type OrderBody struct {
	Code      string `json:"code" binding:"required"`
	OrderType int    `json:"order_type" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
	Price     int    `json:"price"`
	QuoteType string `json:"quote_type"`
	OrigOrder string `json:"orig_order"`
}

// CodesBody carries a code list for subscribe/unsubscribe calls.
type CodesBody struct {
	Codes []string `json:"codes"`
}

// ConditionBody addresses one saved condition.
type ConditionBody struct {
	Index string `json:"index"`
	Name  string `json:"name" binding:"required"`
}
