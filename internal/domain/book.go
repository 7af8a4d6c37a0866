package domain

import "strings"

// Side identifies one half of an order book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// PriceLevel is an aggregated order book entry at one price tick.
// Count is the number of orders merged at this price; Amount is the
// total magnitude available. A level with Count == 0 must not exist
// in a book: it is removed, never stored as zero.
type PriceLevel struct {
	Price  float64
	Count  int64
	Amount float64
}

// FundingPair reports whether the pair is a funding-style instrument,
// identified by a leading "f" symbol marker (e.g. "fUSD"). Funding
// instruments invert the usual sign-to-side mapping.
func FundingPair(pair string) bool {
	return strings.HasPrefix(pair, "f")
}

// SideFromAmount derives the book side of an update from the sign of
// the reported signed amount, inverted for funding pairs.
func SideFromAmount(pair string, amount float64) Side {
	bid := amount > 0
	if FundingPair(pair) {
		bid = !bid
	}
	if bid {
		return SideBid
	}
	return SideAsk
}

// Quote is the result of a volume-weighted execution price query.
type Quote struct {
	// AvgPrice is the volume-weighted average price over the levels touched.
	AvgPrice float64
	// LimitPrice is the price of the worst (last) level touched.
	LimitPrice float64
	// MaxVolume is the volume actually obtainable. It equals the requested
	// volume when depth sufficed, otherwise the maximum the book can fill.
	MaxVolume float64
}
