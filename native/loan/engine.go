package loan

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"edulend/core/events"
	"edulend/core/types"
	"edulend/crypto"
	"edulend/native/common"
	"edulend/native/currency"
	"edulend/native/token"
)

var (
	ErrWrongPhase   = errors.New("loan: wrong phase")
	ErrUnauthorized = errors.New("loan: unauthorized caller")

	errNilLedger = errors.New("loan: currency ledger not configured")
)

const moduleName = "loan"

// Activator is notified exactly once when a loan transitions to Active. The
// controller is the sole implementation; it registers the loan's token with
// the market's allow-set.
type Activator interface {
	NotifyLoanActivation(loan [20]byte) error
}

type loanEvent struct {
	evt *types.Event
}

func (e loanEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e loanEvent) Event() *types.Event { return e.evt }

// Loan is the per-loan funding/repayment/redemption state machine. It owns
// the loan's token for the token's entire lifetime and escrows funding
// principal, routing fees out as they are earned.
//
// Every state-mutating operation follows checks, effects, interactions
// ordering: all validation (including transfer pre-flight) happens before any
// field is written, and external asset transfers happen only after the
// loan's own state is consistent.
type Loan struct {
	id         [20]byte
	controller [20]byte

	feeRecipient  [20]byte
	loanRecipient [20]byte
	createdAt     int64
	expiresAt     int64

	fundingFeeAttoPerWhole *big.Int
	paymentFeeAttoPerWhole *big.Int
	requestedValueAtto     *big.Int
	requestedTokens        *big.Int

	phase                  Phase
	fundedValueAtto        *big.Int
	paidValueAtto          *big.Int
	redemptionAttoPerToken *big.Int

	tok       *token.Token
	ledger    currency.Ledger
	activator Activator
	emitter   events.Emitter
	nowFn     func() int64
	pauses    common.PauseView
}

// New constructs a loan in phase Funding, minting the full token supply to
// itself. The controller handle is the only caller allowed to cancel or
// finalize.
func New(id, controller [20]byte, ledger currency.Ledger, params Params) (*Loan, error) {
	if ledger == nil {
		return nil, errNilLedger
	}
	requestedTokens, err := params.validate()
	if err != nil {
		return nil, err
	}
	l := &Loan{
		id:                     id,
		controller:             controller,
		feeRecipient:           params.FeeRecipient,
		loanRecipient:          params.LoanRecipient,
		fundingFeeAttoPerWhole: new(big.Int).Set(params.FundingFeeAttoPerWhole),
		paymentFeeAttoPerWhole: new(big.Int).Set(params.PaymentFeeAttoPerWhole),
		requestedValueAtto:     new(big.Int).Set(params.RequestedValueAtto),
		requestedTokens:        requestedTokens,
		phase:                  PhaseFunding,
		fundedValueAtto:        big.NewInt(0),
		paidValueAtto:          big.NewInt(0),
		redemptionAttoPerToken: big.NewInt(0),
		ledger:                 ledger,
		emitter:                events.NoopEmitter{},
		nowFn:                  func() int64 { return time.Now().Unix() },
	}
	tok, err := token.New(crypto.DeriveHandle(id, 0, "loan-token"), id, requestedTokens)
	if err != nil {
		return nil, err
	}
	l.tok = tok
	l.createdAt = l.now()
	l.expiresAt = l.createdAt + params.SecondsToExpiration
	return l, nil
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (l *Loan) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests. Passing nil
// restores the wall clock. Creation and expiration times are re-derived so a
// test clock installed right after construction behaves as if it had been
// present from the start.
func (l *Loan) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
	if l.phase == PhaseFunding && l.fundedValueAtto.Sign() == 0 {
		secondsToExpiration := l.expiresAt - l.createdAt
		l.createdAt = now()
		l.expiresAt = l.createdAt + secondsToExpiration
	}
}

// SetActivator configures the activation callback.
func (l *Loan) SetActivator(a Activator) { l.activator = a }

// SetPauses configures the module pause view.
func (l *Loan) SetPauses(p common.PauseView) { l.pauses = p }

func (l *Loan) now() int64 {
	if l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

func (l *Loan) emit(evt *types.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(loanEvent{evt: evt})
}

// ID returns the loan's handle.
func (l *Loan) ID() [20]byte { return l.id }

// Token returns the loan's token registry.
func (l *Loan) Token() *token.Token { return l.tok }

// Phase returns the current phase without lazily expiring.
func (l *Loan) Phase() Phase { return l.phase }

// FeeRecipient returns the address receiving funding and payment fees.
func (l *Loan) FeeRecipient() [20]byte { return l.feeRecipient }

// LoanRecipient returns the address receiving the principal on activation.
func (l *Loan) LoanRecipient() [20]byte { return l.loanRecipient }

// CreationTime returns the unix time the loan was created at.
func (l *Loan) CreationTime() int64 { return l.createdAt }

// ExpirationTime returns the unix time the funding phase expires at.
func (l *Loan) ExpirationTime() int64 { return l.expiresAt }

// FundingFeeAttoPerWhole returns the funding fee rate.
func (l *Loan) FundingFeeAttoPerWhole() *big.Int {
	return new(big.Int).Set(l.fundingFeeAttoPerWhole)
}

// PaymentFeeAttoPerWhole returns the payment fee rate.
func (l *Loan) PaymentFeeAttoPerWhole() *big.Int {
	return new(big.Int).Set(l.paymentFeeAttoPerWhole)
}

// RequestedValueAtto returns the loan principal.
func (l *Loan) RequestedValueAtto() *big.Int {
	return new(big.Int).Set(l.requestedValueAtto)
}

// State returns a consistent snapshot of the loan's mutable fields.
func (l *Loan) State() State {
	return State{
		Phase:                  l.phase,
		FundedValueAtto:        new(big.Int).Set(l.fundedValueAtto),
		PaidValueAtto:          new(big.Int).Set(l.paidValueAtto),
		RedemptionAttoPerToken: new(big.Int).Set(l.redemptionAttoPerToken),
	}
}

// ProvideFundsCost returns the total currency a funder must allow for a
// ProvideFunds call of the given value: the value itself plus the funding
// fee.
func (l *Loan) ProvideFundsCost(valueAtto *big.Int) (*big.Int, error) {
	whole, err := currency.WholeFromAtto(valueAtto)
	if err != nil {
		return nil, err
	}
	fee := new(big.Int).Mul(l.fundingFeeAttoPerWhole, whole)
	return fee.Add(fee, valueAtto), nil
}

// MakePaymentCost returns the total currency a payer must allow for a
// MakePayment call of the given value: the value itself plus the payment
// fee.
func (l *Loan) MakePaymentCost(valueAtto *big.Int) (*big.Int, error) {
	whole, err := currency.WholeFromAtto(valueAtto)
	if err != nil {
		return nil, err
	}
	fee := new(big.Int).Mul(l.paymentFeeAttoPerWhole, whole)
	return fee.Add(fee, valueAtto), nil
}

// expireIfDue flips a Funding loan whose deadline has passed into Expired.
// It runs at the top of every state-changing call so expiration needs no
// background timer.
func (l *Loan) expireIfDue() {
	if l.phase != PhaseFunding {
		return
	}
	if l.now() < l.expiresAt {
		return
	}
	l.phase = PhaseExpired
	l.emit(NewPhaseChangedEvent(l.id, PhaseExpired))
}

func wrongPhase(observed Phase, allowed ...Phase) error {
	names := make([]byte, 0, 32)
	for i, p := range allowed {
		if i > 0 {
			names = append(names, ", "...)
		}
		names = append(names, p.String()...)
	}
	return fmt.Errorf("%w: loan is in phase %s, expected %s", ErrWrongPhase, observed, names)
}

// ensureCanPull verifies the ledger transfer TransferFrom(l.id, from, l.id,
// amount) would succeed, so it can run after effects without failing.
func (l *Loan) ensureCanPull(from [20]byte, amount *big.Int) error {
	if l.ledger.BalanceOf(from).Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance below %s", currency.ErrInsufficientBalance, amount)
	}
	if from == l.id {
		return nil
	}
	if l.ledger.Allowance(from, l.id).Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowance below %s", currency.ErrInsufficientAllowance, amount)
	}
	return nil
}

func (l *Loan) ensureCanPullTokens(from [20]byte, amount *big.Int) error {
	if l.tok.BalanceOf(from).Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance below %s", token.ErrInsufficientBalance, amount)
	}
	if from == l.id {
		return nil
	}
	if l.tok.Allowance(from, l.id).Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowance below %s", token.ErrInsufficientAllowance, amount)
	}
	return nil
}

// ProvideFunds deposits valueAtto of currency into the loan in exchange for
// the matching number of tokens. The caller pays the value plus the funding
// fee. Completing the requested value activates the loan: the principal is
// forwarded to the loan recipient, the accumulated funding fee to the fee
// recipient, and the activator is notified.
func (l *Loan) ProvideFunds(caller [20]byte, valueAtto *big.Int) error {
	if err := common.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	l.expireIfDue()
	if l.phase != PhaseFunding {
		return wrongPhase(l.phase, PhaseFunding)
	}
	whole, err := currency.WholeFromAtto(valueAtto)
	if err != nil {
		return err
	}
	newFunded := new(big.Int).Add(l.fundedValueAtto, valueAtto)
	if newFunded.Cmp(l.requestedValueAtto) > 0 {
		return fmt.Errorf("%w: funding would exceed requested value", currency.ErrInvalidAmount)
	}
	fee := new(big.Int).Mul(l.fundingFeeAttoPerWhole, whole)
	total := new(big.Int).Add(valueAtto, fee)
	if err := l.ensureCanPull(caller, total); err != nil {
		return err
	}

	// effects
	l.fundedValueAtto = newFunded
	completed := newFunded.Cmp(l.requestedValueAtto) == 0
	if completed {
		l.phase = PhaseActive
	}

	// interactions
	if err := l.ledger.TransferFrom(l.id, caller, l.id, total); err != nil {
		return err
	}
	if err := l.tok.Transfer(l.id, caller, whole); err != nil {
		return err
	}
	l.emit(NewFundsProvidedEvent(l.id, caller, valueAtto, l.fundedValueAtto))
	if !completed {
		return nil
	}
	if err := l.ledger.Transfer(l.id, l.loanRecipient, l.requestedValueAtto); err != nil {
		return err
	}
	totalFee := new(big.Int).Mul(l.fundingFeeAttoPerWhole, l.requestedTokens)
	if totalFee.Sign() > 0 {
		if err := l.ledger.Transfer(l.id, l.feeRecipient, totalFee); err != nil {
			return err
		}
	}
	l.emit(NewPhaseChangedEvent(l.id, PhaseActive))
	if l.activator != nil {
		if err := l.activator.NotifyLoanActivation(l.id); err != nil {
			return err
		}
	}
	return nil
}

// WithdrawFunds returns previously provided currency (value plus the funding
// fee paid on it) to the caller in exchange for the matching number of
// tokens. Permitted while the loan is Funding, Expired, or Canceled.
func (l *Loan) WithdrawFunds(caller [20]byte, valueAtto *big.Int) error {
	if err := common.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	l.expireIfDue()
	switch l.phase {
	case PhaseFunding, PhaseExpired, PhaseCanceled:
	default:
		return wrongPhase(l.phase, PhaseFunding, PhaseExpired, PhaseCanceled)
	}
	whole, err := currency.WholeFromAtto(valueAtto)
	if err != nil {
		return err
	}
	if l.fundedValueAtto.Cmp(valueAtto) < 0 {
		return fmt.Errorf("%w: withdrawal exceeds funded value", currency.ErrInvalidAmount)
	}
	if err := l.ensureCanPullTokens(caller, whole); err != nil {
		return err
	}

	// effects
	l.fundedValueAtto = new(big.Int).Sub(l.fundedValueAtto, valueAtto)

	// interactions
	if err := l.tok.TransferFrom(l.id, caller, l.id, whole); err != nil {
		return err
	}
	fee := new(big.Int).Mul(l.fundingFeeAttoPerWhole, whole)
	refund := new(big.Int).Add(valueAtto, fee)
	if err := l.ledger.Transfer(l.id, caller, refund); err != nil {
		return err
	}
	l.emit(NewFundsWithdrawnEvent(l.id, caller, valueAtto, l.fundedValueAtto))
	return nil
}

// MakePayment deposits a repayment of valueAtto plus the payment fee. The
// fee is forwarded to the fee recipient immediately; the principal stays
// escrowed for redemption.
func (l *Loan) MakePayment(caller [20]byte, valueAtto *big.Int) error {
	if err := common.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	l.expireIfDue()
	if l.phase != PhaseActive {
		return wrongPhase(l.phase, PhaseActive)
	}
	whole, err := currency.WholeFromAtto(valueAtto)
	if err != nil {
		return err
	}
	fee := new(big.Int).Mul(l.paymentFeeAttoPerWhole, whole)
	total := new(big.Int).Add(valueAtto, fee)
	if err := l.ensureCanPull(caller, total); err != nil {
		return err
	}

	// effects
	l.paidValueAtto = new(big.Int).Add(l.paidValueAtto, valueAtto)

	// interactions
	if err := l.ledger.TransferFrom(l.id, caller, l.id, total); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err := l.ledger.Transfer(l.id, l.feeRecipient, fee); err != nil {
			return err
		}
	}
	l.emit(NewPaymentMadeEvent(l.id, caller, valueAtto, l.paidValueAtto))
	return nil
}

// RedeemTokens burns amountTokens of the caller's tokens in exchange for
// their share of the repayment pool at the redemption rate fixed on
// finalization.
func (l *Loan) RedeemTokens(caller [20]byte, amountTokens *big.Int) error {
	if err := common.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if l.phase != PhaseFinalized {
		return wrongPhase(l.phase, PhaseFinalized)
	}
	if amountTokens == nil || amountTokens.Sign() <= 0 {
		return fmt.Errorf("%w: token amount must be positive", currency.ErrInvalidAmount)
	}
	if err := l.ensureCanPullTokens(caller, amountTokens); err != nil {
		return err
	}
	payout := new(big.Int).Mul(l.redemptionAttoPerToken, amountTokens)

	// interactions
	if err := l.tok.BurnFrom(l.id, caller, amountTokens); err != nil {
		return err
	}
	if payout.Sign() > 0 {
		if err := l.ledger.Transfer(l.id, caller, payout); err != nil {
			return err
		}
	}
	l.emit(NewTokensRedeemedEvent(l.id, caller, amountTokens, payout))
	return nil
}

// CheckExpiration lazily expires the loan and reports whether it is now
// Expired. Fails with ErrWrongPhase outside Funding and Expired.
func (l *Loan) CheckExpiration() (bool, error) {
	if err := common.Guard(l.pauses, moduleName); err != nil {
		return false, err
	}
	if l.phase != PhaseFunding && l.phase != PhaseExpired {
		return false, wrongPhase(l.phase, PhaseFunding, PhaseExpired)
	}
	l.expireIfDue()
	return l.phase == PhaseExpired, nil
}

// TryExpire lazily expires the loan and reports whether it is now Expired.
// Unlike CheckExpiration it never fails on phase: loans past Funding simply
// report false.
func (l *Loan) TryExpire() (bool, error) {
	if err := common.Guard(l.pauses, moduleName); err != nil {
		return false, err
	}
	l.expireIfDue()
	return l.phase == PhaseExpired, nil
}

// Cancel terminates a Funding loan. Only the controller may cancel, and only
// while the funding deadline has not yet passed.
func (l *Loan) Cancel(caller [20]byte) error {
	if err := common.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if caller != l.controller {
		return fmt.Errorf("%w: only the controller may cancel", ErrUnauthorized)
	}
	l.expireIfDue()
	if l.phase != PhaseFunding {
		return wrongPhase(l.phase, PhaseFunding)
	}

	l.phase = PhaseCanceled
	l.emit(NewPhaseChangedEvent(l.id, PhaseCanceled))
	return nil
}

// Finalize exempts the student from further payments and fixes the
// redemption rate at paidValue / requestedTokens, truncated in atto units.
// Only the controller may finalize.
func (l *Loan) Finalize(caller [20]byte) error {
	if err := common.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if caller != l.controller {
		return fmt.Errorf("%w: only the controller may finalize", ErrUnauthorized)
	}
	if l.phase != PhaseActive {
		return wrongPhase(l.phase, PhaseActive)
	}

	l.phase = PhaseFinalized
	l.redemptionAttoPerToken = new(big.Int).Quo(l.paidValueAtto, l.requestedTokens)
	l.emit(NewFinalizedEvent(l.id, l.redemptionAttoPerToken))
	return nil
}
