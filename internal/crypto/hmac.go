// Package crypto provides HMAC request signing for exchange
// authentication and encrypted storage of API secrets at rest.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// HMACAuth holds one exchange's API credentials and produces signed
// authentication payloads. Nonces are strictly increasing per
// credential set, as exchanges reject reused or decreasing nonces.
type HMACAuth struct {
	Key    string
	Secret string

	mu        sync.Mutex
	lastNonce int64
}

// Nonce returns a strictly increasing nonce based on the current time
// in microseconds.
func (h *HMACAuth) Nonce() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := time.Now().UnixMicro()
	if n <= h.lastNonce {
		n = h.lastNonce + 1
	}
	h.lastNonce = n
	return n
}

// SignSHA384 computes HMAC-SHA384 over payload and returns it hex
// encoded. Used by exchanges that authenticate WebSocket sessions with
// a signed "AUTH<nonce>" payload.
func (h *HMACAuth) SignSHA384(payload string) string {
	mac := hmac.New(sha512.New384, []byte(h.Secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignSHA256 computes HMAC-SHA256 over payload and returns it hex
// encoded. Used by exchanges that sign REST query strings.
func (h *HMACAuth) SignSHA256(payload string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// AuthPayload returns the nonce and signature for a WebSocket auth
// request: the signed message is "AUTH" + nonce.
func (h *HMACAuth) AuthPayload() (nonce int64, payload, signature string) {
	nonce = h.Nonce()
	payload = "AUTH" + strconv.FormatInt(nonce, 10)
	return nonce, payload, h.SignSHA384(payload)
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
