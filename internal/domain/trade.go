package domain

import "time"

// Trade is a single public trade reported by an exchange. Amount is
// signed: positive for a buy, negative for a sell. ID is the
// exchange-assigned trade id, used as a recency proxy by the ledger.
type Trade struct {
	ID        int64
	Timestamp time.Time
	Amount    float64
	Price     float64
}

// Buy reports whether the trade was buyer-initiated.
func (t Trade) Buy() bool { return t.Amount > 0 }
