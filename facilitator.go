package x402

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SchemeNetworkFacilitator is one payment mechanism: it verifies and settles
// payments for a single scheme on the networks it was registered for.
type SchemeNetworkFacilitator interface {
	Scheme() string
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) VerifyResponse
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) SettleResponse
}

// Facilitator routes verify/settle calls to the mechanism registered for the
// requirements' scheme and network. Registration happens at startup; the maps
// are read-only afterwards, the lock only guards late registration.
type Facilitator struct {
	mu      sync.RWMutex
	schemes map[Network]map[string]SchemeNetworkFacilitator
	extras  map[Network]map[string]map[string]interface{}
	hooks   *Hooks
	cache   *SettlementCache
}

// FacilitatorOption customizes a Facilitator at construction time.
type FacilitatorOption func(*Facilitator)

// WithHooks installs verify/settle hooks.
func WithHooks(hooks Hooks) FacilitatorOption {
	return func(f *Facilitator) { f.hooks = &hooks }
}

// WithSettlementCache enables settle idempotency: retried payloads replay the
// original response instead of broadcasting twice.
func WithSettlementCache(ttl time.Duration) FacilitatorOption {
	return func(f *Facilitator) { f.cache = NewSettlementCache(ttl) }
}

func NewFacilitator(opts ...FacilitatorOption) *Facilitator {
	f := &Facilitator{
		schemes: make(map[Network]map[string]SchemeNetworkFacilitator),
		extras:  make(map[Network]map[string]map[string]interface{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register adds a mechanism for a network. The optional extra map is
// advertised verbatim in /supported (e.g. the fee-payer address).
func (f *Facilitator) Register(network Network, mech SchemeNetworkFacilitator, extra map[string]interface{}) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.schemes[network] == nil {
		f.schemes[network] = make(map[string]SchemeNetworkFacilitator)
	}
	f.schemes[network][mech.Scheme()] = mech

	if extra != nil {
		if f.extras[network] == nil {
			f.extras[network] = make(map[string]map[string]interface{})
		}
		f.extras[network][mech.Scheme()] = extra
	}
	return f
}

func (f *Facilitator) lookup(scheme string, network Network) (SchemeNetworkFacilitator, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	schemes := f.schemes[network]
	if schemes == nil {
		return nil, fmt.Errorf("no facilitator for network %s", network)
	}
	mech := schemes[scheme]
	if mech == nil {
		return nil, fmt.Errorf("no facilitator for %s on %s", scheme, network)
	}
	return mech, nil
}

// Verify routes a verification request. An unknown scheme or network is an
// expected outcome, reported in the response rather than as an error.
func (f *Facilitator) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) VerifyResponse {
	if err := f.hooks.beforeVerify(ctx, payload, requirements); err != nil {
		res := VerifyResponse{IsValid: false, InvalidReason: ReasonOf(err, ReasonUnexpectedVerifyError)}
		f.hooks.afterVerify(ctx, requirements, res)
		return res
	}

	var res VerifyResponse
	mech, err := f.lookup(requirements.Scheme, requirements.Network)
	if err != nil {
		res = VerifyResponse{IsValid: false, InvalidReason: ReasonInvalidNetwork}
	} else {
		res = mech.Verify(ctx, payload, requirements)
	}
	f.hooks.afterVerify(ctx, requirements, res)
	return res
}

// Settle routes a settlement request. With a settlement cache configured,
// duplicate payloads replay the first response rather than settling again.
func (f *Facilitator) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) SettleResponse {
	if err := f.hooks.beforeSettle(ctx, payload, requirements); err != nil {
		res := SettleResponse{
			Success:     false,
			ErrorReason: ReasonOf(err, ReasonUnexpectedSettleError),
			Network:     requirements.Network,
		}
		f.hooks.afterSettle(ctx, requirements, res)
		return res
	}

	res := f.settleOnce(ctx, payload, requirements)
	f.hooks.afterSettle(ctx, requirements, res)
	return res
}

func (f *Facilitator) settleOnce(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) SettleResponse {
	if f.cache == nil {
		return f.dispatchSettle(ctx, payload, requirements)
	}

	key := SettlementKey(payload)
	for {
		status, cached, done := f.cache.Claim(key)
		switch status {
		case SettlementReplayed:
			return *cached

		case SettlementInFlight:
			replayed, err := f.cache.Await(ctx, key, done)
			if err != nil {
				return SettleResponse{
					Success:     false,
					ErrorReason: ReasonUnexpectedSettleError,
					Network:     requirements.Network,
				}
			}
			if replayed != nil {
				return *replayed
			}
			// The owner abandoned; try to claim the key ourselves.
			continue

		default:
			res := f.dispatchSettle(ctx, payload, requirements)
			if res.Success {
				f.cache.Complete(key, &res, done)
			} else {
				f.cache.Abandon(key, done)
			}
			return res
		}
	}
}

func (f *Facilitator) dispatchSettle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) SettleResponse {
	mech, err := f.lookup(requirements.Scheme, requirements.Network)
	if err != nil {
		return SettleResponse{
			Success:     false,
			ErrorReason: ReasonInvalidNetwork,
			Network:     requirements.Network,
		}
	}
	return mech.Settle(ctx, payload, requirements)
}

// Supported enumerates every scheme/network combination with its advertised
// extra payload.
func (f *Facilitator) Supported() SupportedResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	kinds := make([]SupportedKind, 0, len(f.schemes))
	for network, schemeMap := range f.schemes {
		for scheme := range schemeMap {
			kind := SupportedKind{
				X402Version: X402Version,
				Scheme:      scheme,
				Network:     network,
			}
			if byScheme := f.extras[network]; byScheme != nil {
				kind.Extra = byScheme[scheme]
			}
			kinds = append(kinds, kind)
		}
	}
	return SupportedResponse{Kinds: kinds}
}

// HasNetwork reports whether any mechanism is registered for the network.
func (f *Facilitator) HasNetwork(network Network) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.schemes[network]) > 0
}
