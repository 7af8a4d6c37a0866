package notify

import (
	"context"
	"fmt"

	"github.com/mbehr1/cryptotrader/internal/domain"
)

// Event type names used for operator-side filtering.
const (
	EventOrder       = "order"
	EventTimeout     = "timeout"
	EventWallet      = "wallet"
	EventMaintenance = "maintenance"
)

// OrderCompleted formats and dispatches the completion signal for one
// order. It satisfies the reconciler's notifier contract.
func (n *Notifier) OrderCompleted(c domain.OrderCompletion) {
	title := fmt.Sprintf("Order %d %s", c.ClientOrderID, c.Status)
	msg := fmt.Sprintf("%s %s amount=%v price=%v fee=%v %s",
		c.Exchange, c.Pair, c.Amount, c.Price, c.Fee, c.FeeCurrency)
	if c.FeeEstimated {
		msg += " (fee estimated)"
	}
	if c.Reason != "" {
		msg += "\n" + c.Reason
	}
	_ = n.Notify(context.Background(), EventOrder, title, msg)
}

// ChannelTimeout reports a channel liveness edge. It satisfies the
// liveness monitor's notify contract.
func (n *Notifier) ChannelTimeout(t domain.ChannelTimeout) {
	state := "recovered"
	if t.TimedOut {
		state = "timed out"
	}
	title := fmt.Sprintf("Channel %s", state)
	_ = n.Notify(context.Background(), EventTimeout, title,
		fmt.Sprintf("%s/%s", t.Exchange, t.Channel))
}

// WalletUpdate reports a balance change on an exchange account.
func (n *Notifier) WalletUpdate(exchange string, w domain.WalletUpdateEvent) {
	title := fmt.Sprintf("Wallet %s %s", w.AccountType, w.Currency)
	_ = n.Notify(context.Background(), EventWallet, title,
		fmt.Sprintf("%s balance=%v delta=%v", exchange, w.Balance, w.Delta))
}

// Maintenance reports server maintenance mode starting or ending.
func (n *Notifier) Maintenance(exchange string, active bool) {
	state := "ended"
	if active {
		state = "started"
	}
	_ = n.Notify(context.Background(), EventMaintenance,
		fmt.Sprintf("Maintenance %s", state), exchange)
}
