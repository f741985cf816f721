package market

import (
	"math/big"

	"edulend/core/types"
	"edulend/crypto"
)

const (
	EventTypeFeeUpdated      = "market.fee_updated"
	EventTypePositionCreated = "market.position_created"
	EventTypePositionUpdated = "market.position_updated"
	EventTypePositionRemoved = "market.position_removed"
	EventTypePurchase        = "market.purchase"
)

// NewFeeUpdatedEvent returns the payload emitted when the purchase fee rate
// changes.
func NewFeeUpdatedEvent(feeAttoPerNano *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeFeeUpdated,
		Attributes: map[string]string{
			"feeAttoPerNano": feeAttoPerNano.String(),
		},
	}
}

// NewPositionCreatedEvent returns the payload for a freshly listed position.
func NewPositionCreatedEvent(p *Position) *types.Event {
	return newPositionEvent(EventTypePositionCreated, p)
}

// NewPositionUpdatedEvent returns the payload emitted when a position's
// amount or price changes without the position being removed.
func NewPositionUpdatedEvent(p *Position) *types.Event {
	return newPositionEvent(EventTypePositionUpdated, p)
}

// NewPositionRemovedEvent returns the payload emitted when a position leaves
// the book, whether by removal, decrease to zero, or full purchase.
func NewPositionRemovedEvent(tokenID, seller [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypePositionRemoved,
		Attributes: map[string]string{
			"token":  crypto.MustAddress(tokenID).String(),
			"seller": crypto.MustAddress(seller).String(),
		},
	}
}

// NewPurchaseEvent returns the payload for a completed purchase.
func NewPurchaseEvent(tokenID, seller, buyer [20]byte, amountTokens, priceAttoPerToken, feeAtto *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypePurchase,
		Attributes: map[string]string{
			"token":             crypto.MustAddress(tokenID).String(),
			"seller":            crypto.MustAddress(seller).String(),
			"buyer":             crypto.MustAddress(buyer).String(),
			"amountTokens":      amountTokens.String(),
			"priceAttoPerToken": priceAttoPerToken.String(),
			"feeAtto":           feeAtto.String(),
		},
	}
}

func newPositionEvent(eventType string, p *Position) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"token":             crypto.MustAddress(p.Token).String(),
			"seller":            crypto.MustAddress(p.Seller).String(),
			"amountTokens":      p.AmountTokens.String(),
			"priceAttoPerToken": p.PriceAttoPerToken.String(),
		},
	}
}
