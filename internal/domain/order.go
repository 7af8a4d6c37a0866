package domain

import "time"

// OrderStatus tracks the order lifecycle as reported by the exchange.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusActive          OrderStatus = "active"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusComplete        OrderStatus = "complete"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status ends the order's life on the
// exchange. Rejected is handled separately by the reconciler (it short
// circuits to a zero-amount completion).
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusComplete || s == OrderStatusCanceled
}

// PendingOrder is a locally issued order awaiting reconciliation. The
// ClientOrderID is process-assigned and persisted before submission so
// a restart can still recognize the order once the exchange reports it.
// The ExchangeOrderID arrives asynchronously with the first status
// event; fill events reference it, not the client id.
type PendingOrder struct {
	ClientOrderID   int64
	ExchangeOrderID string
	Pair            string
	Amount          float64 // signed: >0 buy, <0 sell
	Price           float64
	Status          OrderStatus

	FeeAccumulated   float64
	FeeCurrency      string
	FeeCoveredAmount float64

	// CompletionEmitted guards at-most-once emission of the completion
	// notification for this order.
	CompletionEmitted bool

	CreatedAt  time.Time
	TerminalAt *time.Time
}

// OrderCompletion is the single authoritative completion signal emitted
// per order. A rejected order carries Amount == 0 and the rejection
// reason, so consumers do not special-case submission failure versus
// execution.
type OrderCompletion struct {
	Exchange      string
	ClientOrderID int64
	Pair          string
	Amount        float64
	Price         float64
	Status        OrderStatus
	Fee           float64
	FeeCurrency   string
	// FeeEstimated is set when the fee grace timeout elapsed and a
	// nominal fee rate was substituted for missing fill events.
	FeeEstimated bool
	Reason       string
}
