package market

import (
	"errors"
	"fmt"
	"math/big"

	"edulend/core/events"
	"edulend/core/types"
	"edulend/native/common"
	"edulend/native/currency"
	"edulend/native/token"
)

var (
	ErrNotFound           = errors.New("market: sell position not found")
	ErrAlreadyExists      = errors.New("market: sell position already exists")
	ErrPriceOrFeeMismatch = errors.New("market: price or fee mismatch")
	ErrTokenNotAllowed    = errors.New("market: token not allowed for sale")
	ErrUnauthorized       = errors.New("market: unauthorized caller")

	errNilLedger = errors.New("market: currency ledger not configured")
)

const moduleName = "market"

// Asset is the token-side collaborator surface the market needs: escrowing
// tokens from sellers, releasing them back, and delivering purchases.
// token.Token satisfies it.
type Asset interface {
	Transfer(from, to [20]byte, amount *big.Int) error
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
	BalanceOf(holder [20]byte) *big.Int
	Allowance(owner, spender [20]byte) *big.Int
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine is the sell-position order book. Sellers list loan tokens at a
// fixed price; buyers purchase against standing positions, paying the
// market's fee on top of the principal. Listed tokens are escrowed under the
// engine's own handle 1:1 with the listed amounts.
//
// Every state-mutating operation follows checks, effects, interactions
// ordering, mirroring the loan engine.
type Engine struct {
	id           [20]byte
	controller   [20]byte
	feeRecipient [20]byte

	ledger         currency.Ledger
	feeAttoPerNano *big.Int
	allowed        map[[20]byte]bool
	assets         map[[20]byte]Asset
	book           *book

	emitter events.Emitter
	pauses  common.PauseView
}

// NewEngine constructs an empty market. The controller handle is the only
// caller allowed to mutate the allow-set and the fee rate.
func NewEngine(id, controller, feeRecipient [20]byte, ledger currency.Ledger) (*Engine, error) {
	if ledger == nil {
		return nil, errNilLedger
	}
	return &Engine{
		id:             id,
		controller:     controller,
		feeRecipient:   feeRecipient,
		ledger:         ledger,
		feeAttoPerNano: big.NewInt(0),
		allowed:        make(map[[20]byte]bool),
		assets:         make(map[[20]byte]Asset),
		book:           newBook(),
		emitter:        events.NoopEmitter{},
	}, nil
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the module pause view.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: evt})
}

// ID returns the market's escrow account handle.
func (e *Engine) ID() [20]byte { return e.id }

// Fee returns the current purchase fee rate in atto currency per nano unit
// of principal.
func (e *Engine) Fee() *big.Int { return new(big.Int).Set(e.feeAttoPerNano) }

// SetFee updates the purchase fee rate. Only the controller may call.
func (e *Engine) SetFee(caller [20]byte, feeAttoPerNano *big.Int) error {
	if caller != e.controller {
		return fmt.Errorf("%w: only the controller may set the fee", ErrUnauthorized)
	}
	if feeAttoPerNano == nil || feeAttoPerNano.Sign() < 0 {
		return fmt.Errorf("%w: fee rate must be non-negative", currency.ErrInvalidAmount)
	}
	e.feeAttoPerNano = new(big.Int).Set(feeAttoPerNano)
	e.emit(NewFeeUpdatedEvent(e.feeAttoPerNano))
	return nil
}

// AllowToken registers the asset and admits it to the allow-set. Only the
// controller may call. The asset reference is retained even after a later
// disallow so existing sellers can always exit.
func (e *Engine) AllowToken(caller [20]byte, asset *token.Token) error {
	if caller != e.controller {
		return fmt.Errorf("%w: only the controller may allow tokens", ErrUnauthorized)
	}
	if asset == nil {
		return fmt.Errorf("market: nil token")
	}
	e.assets[asset.ID()] = asset
	e.allowed[asset.ID()] = true
	return nil
}

// DisallowToken removes the token from the allow-set, blocking new listings.
// Existing positions remain and may still be decreased or removed. Only the
// controller may call.
func (e *Engine) DisallowToken(caller [20]byte, tokenID [20]byte) error {
	if caller != e.controller {
		return fmt.Errorf("%w: only the controller may disallow tokens", ErrUnauthorized)
	}
	delete(e.allowed, tokenID)
	return nil
}

// IsAllowed reports whether the token may currently be listed for sale.
func (e *Engine) IsAllowed(tokenID [20]byte) bool { return e.allowed[tokenID] }

// Exists reports whether a position exists for the (token, seller) pair.
func (e *Engine) Exists(tokenID, seller [20]byte) bool {
	_, ok := e.book.get(tokenID, seller)
	return ok
}

// NumSellPositions returns the number of live positions.
func (e *Engine) NumSellPositions() int { return e.book.len() }

// SellPositionAt returns the position in the given slot. Slot assignment is
// unspecified and unstable across any removal.
func (e *Engine) SellPositionAt(i int) (*Position, error) {
	if i < 0 || i >= e.book.len() {
		return nil, fmt.Errorf("%w: slot %d out of range", ErrNotFound, i)
	}
	return e.book.at(i).Clone(), nil
}

// GetSellPosition returns the position for the (token, seller) pair.
func (e *Engine) GetSellPosition(tokenID, seller [20]byte) (*Position, bool) {
	pos, ok := e.book.get(tokenID, seller)
	if !ok {
		return nil, false
	}
	return pos.Clone(), true
}

// SellPositionsByToken returns all positions offering the given token, in no
// particular order.
func (e *Engine) SellPositionsByToken(tokenID [20]byte) []*Position {
	out := make([]*Position, 0)
	for i := 0; i < e.book.len(); i++ {
		if pos := e.book.at(i); pos.Token == tokenID {
			out = append(out, pos.Clone())
		}
	}
	return out
}

// SellPositionsBySeller returns all positions by the given seller, in no
// particular order.
func (e *Engine) SellPositionsBySeller(seller [20]byte) []*Position {
	out := make([]*Position, 0)
	for i := 0; i < e.book.len(); i++ {
		if pos := e.book.at(i); pos.Seller == seller {
			out = append(out, pos.Clone())
		}
	}
	return out
}

func (e *Engine) asset(tokenID [20]byte) (Asset, error) {
	asset, ok := e.assets[tokenID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", ErrNotFound)
	}
	return asset, nil
}

// ensureCanEscrow verifies the asset transfer from seller into the market's
// escrow would succeed, so it can run after effects without failing.
func ensureCanEscrow(asset Asset, from, spender [20]byte, amount *big.Int) error {
	if asset.BalanceOf(from).Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance below %s", token.ErrInsufficientBalance, amount)
	}
	if asset.Allowance(from, spender).Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowance below %s", token.ErrInsufficientAllowance, amount)
	}
	return nil
}

// CreateSellPosition lists amountTokens of the token at the given price (in
// atto currency per token, which must be a positive multiple of one nano
// unit). The tokens are escrowed by the market. At most one position may
// exist per (token, seller) pair.
func (e *Engine) CreateSellPosition(seller, tokenID [20]byte, amountTokens, priceAttoPerToken *big.Int) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !e.allowed[tokenID] {
		return fmt.Errorf("%w: token is not listable", ErrTokenNotAllowed)
	}
	asset, err := e.asset(tokenID)
	if err != nil {
		return err
	}
	if amountTokens == nil || amountTokens.Sign() <= 0 {
		return fmt.Errorf("%w: token amount must be positive", currency.ErrInvalidAmount)
	}
	if _, err := currency.NanoFromAtto(priceAttoPerToken); err != nil {
		return fmt.Errorf("price: %w", err)
	}
	if e.Exists(tokenID, seller) {
		return fmt.Errorf("%w: one position per token and seller", ErrAlreadyExists)
	}
	if err := ensureCanEscrow(asset, seller, e.id, amountTokens); err != nil {
		return err
	}

	// effects
	pos := &Position{
		Token:             tokenID,
		Seller:            seller,
		AmountTokens:      new(big.Int).Set(amountTokens),
		PriceAttoPerToken: new(big.Int).Set(priceAttoPerToken),
	}
	e.book.insert(pos)

	// interactions
	if err := asset.TransferFrom(e.id, seller, e.id, amountTokens); err != nil {
		return err
	}
	e.emit(NewPositionCreatedEvent(pos))
	return nil
}

// IncreaseSellPositionAmount escrows deltaTokens more of the seller's tokens
// into an existing position.
func (e *Engine) IncreaseSellPositionAmount(seller, tokenID [20]byte, deltaTokens *big.Int) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	pos, ok := e.book.get(tokenID, seller)
	if !ok {
		return ErrNotFound
	}
	if deltaTokens == nil || deltaTokens.Sign() <= 0 {
		return fmt.Errorf("%w: token amount must be positive", currency.ErrInvalidAmount)
	}
	asset, err := e.asset(tokenID)
	if err != nil {
		return err
	}
	if err := ensureCanEscrow(asset, seller, e.id, deltaTokens); err != nil {
		return err
	}

	// effects
	pos.AmountTokens = new(big.Int).Add(pos.AmountTokens, deltaTokens)

	// interactions
	if err := asset.TransferFrom(e.id, seller, e.id, deltaTokens); err != nil {
		return err
	}
	e.emit(NewPositionUpdatedEvent(pos))
	return nil
}

// DecreaseSellPositionAmount releases deltaTokens from the position's escrow
// back to the seller. Decreasing to exactly zero removes the position.
func (e *Engine) DecreaseSellPositionAmount(seller, tokenID [20]byte, deltaTokens *big.Int) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	pos, ok := e.book.get(tokenID, seller)
	if !ok {
		return ErrNotFound
	}
	if deltaTokens == nil || deltaTokens.Sign() <= 0 {
		return fmt.Errorf("%w: token amount must be positive", currency.ErrInvalidAmount)
	}
	if deltaTokens.Cmp(pos.AmountTokens) > 0 {
		return fmt.Errorf("%w: decrease exceeds position amount", currency.ErrInvalidAmount)
	}
	asset, err := e.asset(tokenID)
	if err != nil {
		return err
	}

	// effects
	pos.AmountTokens = new(big.Int).Sub(pos.AmountTokens, deltaTokens)
	removed := pos.AmountTokens.Sign() == 0
	if removed {
		e.book.remove(tokenID, seller)
	}

	// interactions
	if err := asset.Transfer(e.id, seller, deltaTokens); err != nil {
		return err
	}
	if removed {
		e.emit(NewPositionRemovedEvent(tokenID, seller))
		return nil
	}
	e.emit(NewPositionUpdatedEvent(pos))
	return nil
}

// UpdateSellPositionPrice overwrites the position's price. The new price
// must be a positive multiple of one nano unit.
func (e *Engine) UpdateSellPositionPrice(seller, tokenID [20]byte, newPriceAttoPerToken *big.Int) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	pos, ok := e.book.get(tokenID, seller)
	if !ok {
		return ErrNotFound
	}
	if _, err := currency.NanoFromAtto(newPriceAttoPerToken); err != nil {
		return fmt.Errorf("price: %w", err)
	}

	pos.PriceAttoPerToken = new(big.Int).Set(newPriceAttoPerToken)
	e.emit(NewPositionUpdatedEvent(pos))
	return nil
}

// RemoveSellPosition removes the position unconditionally, returning all
// escrowed tokens to the seller. It works even for tokens no longer in the
// allow-set, so sellers are never stuck holding a delisted listing.
func (e *Engine) RemoveSellPosition(seller, tokenID [20]byte) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	pos, ok := e.book.get(tokenID, seller)
	if !ok {
		return ErrNotFound
	}
	asset, err := e.asset(tokenID)
	if err != nil {
		return err
	}
	amount := new(big.Int).Set(pos.AmountTokens)

	// effects
	e.book.remove(tokenID, seller)

	// interactions
	if err := asset.Transfer(e.id, seller, amount); err != nil {
		return err
	}
	e.emit(NewPositionRemovedEvent(tokenID, seller))
	return nil
}

// Purchase buys amountTokens from the seller's position. The buyer supplies
// the price and fee rate they observed; the purchase fails with
// ErrPriceOrFeeMismatch if either has moved since. The buyer pays principal
// plus fee; the seller receives the full principal.
//
// The fee base is the stored position price, which was validated as a nano
// multiple at listing or update time; it is not re-validated here.
func (e *Engine) Purchase(buyer, tokenID, seller [20]byte, amountTokens, priceAttoPerToken, feeAttoPerNano *big.Int) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	pos, ok := e.book.get(tokenID, seller)
	if !ok {
		return ErrNotFound
	}
	if amountTokens == nil || amountTokens.Sign() <= 0 {
		return fmt.Errorf("%w: token amount must be positive", currency.ErrInvalidAmount)
	}
	if amountTokens.Cmp(pos.AmountTokens) > 0 {
		return fmt.Errorf("%w: purchase exceeds position amount", currency.ErrInvalidAmount)
	}
	if priceAttoPerToken == nil || priceAttoPerToken.Cmp(pos.PriceAttoPerToken) != 0 {
		return fmt.Errorf("%w: expected price does not match position", ErrPriceOrFeeMismatch)
	}
	if feeAttoPerNano == nil || feeAttoPerNano.Cmp(e.feeAttoPerNano) != 0 {
		return fmt.Errorf("%w: expected fee rate does not match market", ErrPriceOrFeeMismatch)
	}
	asset, err := e.asset(tokenID)
	if err != nil {
		return err
	}
	principal := new(big.Int).Mul(pos.PriceAttoPerToken, amountTokens)
	feeBase := new(big.Int).Quo(principal, currency.AttoPerNano)
	fee := new(big.Int).Mul(e.feeAttoPerNano, feeBase)
	total := new(big.Int).Add(principal, fee)
	if e.ledger.BalanceOf(buyer).Cmp(total) < 0 {
		return fmt.Errorf("%w: balance below %s", currency.ErrInsufficientBalance, total)
	}
	if e.ledger.Allowance(buyer, e.id).Cmp(total) < 0 {
		return fmt.Errorf("%w: allowance below %s", currency.ErrInsufficientAllowance, total)
	}

	// effects
	pos.AmountTokens = new(big.Int).Sub(pos.AmountTokens, amountTokens)
	removed := pos.AmountTokens.Sign() == 0
	if removed {
		e.book.remove(tokenID, seller)
	}

	// interactions
	if err := e.ledger.TransferFrom(e.id, buyer, seller, principal); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err := e.ledger.TransferFrom(e.id, buyer, e.feeRecipient, fee); err != nil {
			return err
		}
	}
	if err := asset.Transfer(e.id, buyer, amountTokens); err != nil {
		return err
	}
	e.emit(NewPurchaseEvent(tokenID, seller, buyer, amountTokens, priceAttoPerToken, fee))
	if removed {
		e.emit(NewPositionRemovedEvent(tokenID, seller))
	}
	return nil
}
