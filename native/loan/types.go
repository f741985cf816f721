package loan

import (
	"fmt"
	"math/big"

	"edulend/native/currency"
)

// Phase is a loan's lifecycle stage. Phases only ever advance; Canceled and
// Finalized are terminal.
type Phase uint8

const (
	// PhaseFunding: the loan has not yet been fully funded. Lenders may
	// deposit currency.
	PhaseFunding Phase = iota
	// PhaseExpired: funding did not reach the requested value before the
	// deadline. Lenders may retrieve deposited currency.
	PhaseExpired
	// PhaseCanceled: the loan was canceled before being fully funded.
	// Lenders may retrieve deposited currency.
	PhaseCanceled
	// PhaseActive: the loan was fully funded and tokens distributed. The
	// student is in debt and payments may occur.
	PhaseActive
	// PhaseFinalized: the student is exempt from further payments. Token
	// holders may redeem tokens for currency.
	PhaseFinalized
)

// String returns the phase name used in events and errors.
func (p Phase) String() string {
	switch p {
	case PhaseFunding:
		return "funding"
	case PhaseExpired:
		return "expired"
	case PhaseCanceled:
		return "canceled"
	case PhaseActive:
		return "active"
	case PhaseFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Valid reports whether the phase value is within the supported range.
func (p Phase) Valid() bool {
	return p <= PhaseFinalized
}

// Params is the immutable configuration fixed at loan construction.
type Params struct {
	// FeeRecipient receives funding and payment fees.
	FeeRecipient [20]byte
	// LoanRecipient receives the principal once funding completes.
	LoanRecipient [20]byte
	// SecondsToExpiration bounds the funding phase; must be positive.
	SecondsToExpiration int64
	// FundingFeeAttoPerWhole is the funding fee rate in atto currency per
	// whole unit funded or withdrawn.
	FundingFeeAttoPerWhole *big.Int
	// PaymentFeeAttoPerWhole is the payment fee rate in atto currency per
	// whole unit paid.
	PaymentFeeAttoPerWhole *big.Int
	// RequestedValueAtto is the loan principal; a positive multiple of one
	// whole currency unit.
	RequestedValueAtto *big.Int
}

func (p Params) validate() (*big.Int, error) {
	if p.SecondsToExpiration <= 0 {
		return nil, fmt.Errorf("%w: seconds to expiration must be positive", currency.ErrInvalidAmount)
	}
	if p.FundingFeeAttoPerWhole == nil || p.FundingFeeAttoPerWhole.Sign() < 0 {
		return nil, fmt.Errorf("%w: funding fee rate must be non-negative", currency.ErrInvalidAmount)
	}
	if p.PaymentFeeAttoPerWhole == nil || p.PaymentFeeAttoPerWhole.Sign() < 0 {
		return nil, fmt.Errorf("%w: payment fee rate must be non-negative", currency.ErrInvalidAmount)
	}
	requestedTokens, err := currency.WholeFromAtto(p.RequestedValueAtto)
	if err != nil {
		return nil, fmt.Errorf("requested value: %w", err)
	}
	return requestedTokens, nil
}

// State is a consistent snapshot of a loan's mutable fields.
type State struct {
	Phase Phase
	// FundedValueAtto equals the requested value once the phase is Active or
	// Finalized.
	FundedValueAtto *big.Int
	// PaidValueAtto only advances while the loan is Active.
	PaidValueAtto *big.Int
	// RedemptionAttoPerToken is zero until the loan is Finalized, then fixed
	// forever.
	RedemptionAttoPerToken *big.Int
}
