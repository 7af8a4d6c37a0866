// Package exchange contains the per-exchange connection state machine,
// the channel registry, and the contracts that wire-format
// normalization adapters implement. Adapters reduce every exchange's
// incompatible incremental protocol to the canonical event set in the
// domain package; nothing downstream sees exchange-specific shapes.
package exchange

import (
	"github.com/mbehr1/cryptotrader/internal/crypto"
	"github.com/mbehr1/cryptotrader/internal/domain"
)

// Adapter normalizes one exchange's raw wire messages. channel is a
// routing hint supplied by poll transports that know which endpoint
// a payload came from; WebSocket exchanges pass "" because their
// messages self-identify.
//
// A returned error means the message matched no known variant
// (protocol violation): the caller logs and drops it, the channel is
// otherwise unaffected.
type Adapter interface {
	Name() string
	Parse(channel string, raw []byte) ([]domain.Event, error)
}

// Subscriber is implemented by adapters whose exchange uses explicit
// subscribe commands over the wire.
type Subscriber interface {
	Subscriptions(pairs []string) [][]byte
}

// Authenticator is implemented by adapters whose exchange requires a
// signed session authentication request.
type Authenticator interface {
	AuthRequest(auth *crypto.HMACAuth) []byte
}

// OrderWriter is implemented by adapters that can serialize a new
// order request for their exchange.
type OrderWriter interface {
	OrderRequest(o domain.PendingOrder) ([]byte, error)
}

// Resubscriber is implemented by adapters that may demand a fresh
// subscription for a pair after a sequence gap. A nil return means the
// adapter re-baselined in place and the stream continues as-is.
type Resubscriber interface {
	ResubscribeRequests(pair string) [][]byte
}
