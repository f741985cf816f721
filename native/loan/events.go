package loan

import (
	"math/big"
	"strconv"

	"edulend/core/types"
	"edulend/crypto"
)

const (
	EventTypeLoanCreated    = "loan.created"
	EventTypePhaseChanged   = "loan.phase_changed"
	EventTypeFundsProvided  = "loan.funds_provided"
	EventTypeFundsWithdrawn = "loan.funds_withdrawn"
	EventTypePaymentMade    = "loan.payment_made"
	EventTypeTokensRedeemed = "loan.tokens_redeemed"
)

// NewCreatedEvent returns the canonical payload for a newly created loan.
func NewCreatedEvent(l *Loan) *types.Event {
	return &types.Event{
		Type: EventTypeLoanCreated,
		Attributes: map[string]string{
			"loan":               crypto.MustAddress(l.id).String(),
			"token":              crypto.MustAddress(l.tok.ID()).String(),
			"loanRecipient":      crypto.MustAddress(l.loanRecipient).String(),
			"feeRecipient":       crypto.MustAddress(l.feeRecipient).String(),
			"requestedValueAtto": l.requestedValueAtto.String(),
			"expirationTime":     formatInt(l.expiresAt),
		},
	}
}

// NewPhaseChangedEvent returns the payload emitted on every phase
// transition.
func NewPhaseChangedEvent(loan [20]byte, phase Phase) *types.Event {
	return &types.Event{
		Type: EventTypePhaseChanged,
		Attributes: map[string]string{
			"loan":  crypto.MustAddress(loan).String(),
			"phase": phase.String(),
		},
	}
}

// NewFinalizedEvent returns the phase transition payload for finalization,
// carrying the redemption rate fixed by it.
func NewFinalizedEvent(loan [20]byte, rateAttoPerToken *big.Int) *types.Event {
	evt := NewPhaseChangedEvent(loan, PhaseFinalized)
	evt.Attributes["redemptionAttoPerToken"] = rateAttoPerToken.String()
	return evt
}

// NewFundsProvidedEvent carries the deposited value and the running funded
// total.
func NewFundsProvidedEvent(loan, funder [20]byte, valueAtto, fundedAtto *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeFundsProvided,
		Attributes: map[string]string{
			"loan":            crypto.MustAddress(loan).String(),
			"funder":          crypto.MustAddress(funder).String(),
			"valueAtto":       valueAtto.String(),
			"fundedValueAtto": fundedAtto.String(),
		},
	}
}

// NewFundsWithdrawnEvent carries the withdrawn value and the running funded
// total.
func NewFundsWithdrawnEvent(loan, funder [20]byte, valueAtto, fundedAtto *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeFundsWithdrawn,
		Attributes: map[string]string{
			"loan":            crypto.MustAddress(loan).String(),
			"funder":          crypto.MustAddress(funder).String(),
			"valueAtto":       valueAtto.String(),
			"fundedValueAtto": fundedAtto.String(),
		},
	}
}

// NewPaymentMadeEvent carries the payment value and the running paid total.
func NewPaymentMadeEvent(loan, payer [20]byte, valueAtto, paidAtto *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypePaymentMade,
		Attributes: map[string]string{
			"loan":          crypto.MustAddress(loan).String(),
			"payer":         crypto.MustAddress(payer).String(),
			"valueAtto":     valueAtto.String(),
			"paidValueAtto": paidAtto.String(),
		},
	}
}

// NewTokensRedeemedEvent carries the burned token amount and the currency
// paid out for it.
func NewTokensRedeemedEvent(loan, holder [20]byte, amountTokens, valueAtto *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeTokensRedeemed,
		Attributes: map[string]string{
			"loan":         crypto.MustAddress(loan).String(),
			"holder":       crypto.MustAddress(holder).String(),
			"amountTokens": amountTokens.String(),
			"valueAtto":    valueAtto.String(),
		},
	}
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
