package x402

import "context"

// Hooks lets deployments observe and gate verify/settle without touching the
// mechanisms. Before hooks run ahead of routing; a returned error aborts the
// operation, with PaymentError kinds carried through to the response reason.
// After hooks run on every outcome and must not block for long.
type Hooks struct {
	BeforeVerify func(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) error
	AfterVerify  func(ctx context.Context, requirements PaymentRequirements, result VerifyResponse)
	BeforeSettle func(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) error
	AfterSettle  func(ctx context.Context, requirements PaymentRequirements, result SettleResponse)
}

func (h *Hooks) beforeVerify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) error {
	if h == nil || h.BeforeVerify == nil {
		return nil
	}
	return h.BeforeVerify(ctx, payload, requirements)
}

func (h *Hooks) afterVerify(ctx context.Context, requirements PaymentRequirements, result VerifyResponse) {
	if h == nil || h.AfterVerify == nil {
		return
	}
	h.AfterVerify(ctx, requirements, result)
}

func (h *Hooks) beforeSettle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) error {
	if h == nil || h.BeforeSettle == nil {
		return nil
	}
	return h.BeforeSettle(ctx, payload, requirements)
}

func (h *Hooks) afterSettle(ctx context.Context, requirements PaymentRequirements, result SettleResponse) {
	if h == nil || h.AfterSettle == nil {
		return
	}
	h.AfterSettle(ctx, requirements, result)
}
