package x402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// DefaultSettlementTTL is how long a completed settlement response stays
// replayable for retried requests.
const DefaultSettlementTTL = 10 * time.Minute

// SettlementKey derives the idempotency key of a payment payload. The payload
// embeds the signed transaction bytes, so the key is unique per payment
// attempt.
func SettlementKey(payload PaymentPayload) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// SettlementCache deduplicates settle calls for the same payload. A client
// retrying after a timeout gets the original response replayed instead of a
// second broadcast; concurrent duplicates wait for the first call to finish.
type SettlementCache struct {
	mu       sync.Mutex
	results  map[string]*SettleResponse
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewSettlementCache builds a cache holding completed responses for ttl.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	if ttl <= 0 {
		ttl = DefaultSettlementTTL
	}
	return &SettlementCache{
		results:  make(map[string]*SettleResponse),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// SettlementStatus is the outcome of claiming a settlement key.
type SettlementStatus int

const (
	// SettlementClaimed means this caller owns the settlement and must
	// finish with Complete or Abandon.
	SettlementClaimed SettlementStatus = iota
	// SettlementReplayed means a completed response was found.
	SettlementReplayed
	// SettlementInFlight means another caller is settling the same payload.
	SettlementInFlight
)

// Claim atomically resolves a settlement key: a cached response is replayed,
// an in-flight settlement hands back its wait channel, and an unseen key is
// marked in-flight for this caller.
func (c *SettlementCache) Claim(key string) (SettlementStatus, *SettleResponse, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, ok := c.expiry[key]; ok {
		if time.Now().Before(expiry) {
			if result, ok := c.results[key]; ok {
				return SettlementReplayed, result, nil
			}
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if done, ok := c.inFlight[key]; ok {
		return SettlementInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return SettlementClaimed, nil, done
}

// Await blocks until the in-flight owner finishes, then returns the cached
// response. A nil response means the owner abandoned the attempt and the
// caller may settle itself.
func (c *SettlementCache) Await(ctx context.Context, key string, done chan struct{}) (*SettleResponse, error) {
	select {
	case <-done:
		return c.lookup(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *SettlementCache) lookup(key string) *SettleResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, ok := c.expiry[key]
	if !ok || time.Now().After(expiry) {
		delete(c.results, key)
		delete(c.expiry, key)
		return nil
	}
	return c.results[key]
}

// Complete records the response, releases the key, and wakes all waiters.
func (c *SettlementCache) Complete(key string, response *SettleResponse, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = response
	c.expiry[key] = time.Now().Add(c.ttl)
	delete(c.inFlight, key)
	close(done)

	c.evictExpiredLocked()
}

// Abandon releases the key without caching anything, so the settlement can
// be retried.
func (c *SettlementCache) Abandon(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}

func (c *SettlementCache) evictExpiredLocked() {
	now := time.Now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
