package controller

import (
	"errors"
	"fmt"
	"math/big"

	"edulend/core/events"
	"edulend/crypto"
	"edulend/native/common"
	"edulend/native/currency"
	"edulend/native/loan"
	"edulend/native/market"
)

var (
	ErrUnauthorized = errors.New("controller: unauthorized caller")
	ErrUnknownLoan  = errors.New("controller: unknown loan")

	errNilLedger = errors.New("controller: currency ledger not configured")
)

// Controller is the thin orchestrator owning one market and the registry of
// loans it created. It is the single privileged operator surface: loan
// creation, cancelation, finalization, market fee updates, and module
// pausing all route through it. Loan activation flows back through
// NotifyLoanActivation, the sole channel by which a loan's token becomes
// tradeable.
type Controller struct {
	id       [20]byte
	operator [20]byte

	ledger currency.Ledger
	market *market.Engine

	loans     []*loan.Loan
	valid     map[[20]byte]*loan.Loan
	loanNonce uint64

	emitter events.Emitter
	nowFn   func() int64
	pauses  *common.PauseSet
}

// New constructs a controller operated by the given address. The market's
// purchase fees are routed to the operator.
func New(operator [20]byte, ledger currency.Ledger) (*Controller, error) {
	if ledger == nil {
		return nil, errNilLedger
	}
	c := &Controller{
		operator: operator,
		ledger:   ledger,
		valid:    make(map[[20]byte]*loan.Loan),
		emitter:  events.NoopEmitter{},
		pauses:   &common.PauseSet{},
	}
	c.id = crypto.DeriveHandle(operator, 0, "controller")
	mkt, err := market.NewEngine(crypto.DeriveHandle(c.id, 0, "market"), c.id, operator, ledger)
	if err != nil {
		return nil, err
	}
	mkt.SetPauses(c.pauses)
	c.market = mkt
	return c, nil
}

// SetEmitter configures the event emitter for the controller, its market,
// and every loan it created so far and creates later. Passing nil resets to
// a no-op.
func (c *Controller) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	c.emitter = emitter
	c.market.SetEmitter(emitter)
	for _, l := range c.loans {
		l.SetEmitter(emitter)
	}
}

// SetNowFunc overrides the time source for the controller and every loan,
// primarily used in tests.
func (c *Controller) SetNowFunc(now func() int64) {
	c.nowFn = now
	for _, l := range c.loans {
		l.SetNowFunc(now)
	}
}

// ID returns the controller's handle.
func (c *Controller) ID() [20]byte { return c.id }

// Operator returns the privileged operator address.
func (c *Controller) Operator() [20]byte { return c.operator }

// Market returns the controller's order book.
func (c *Controller) Market() *market.Engine { return c.market }

// SetModulePaused pauses or resumes a named module ("loan", "market"). Only
// the operator may call.
func (c *Controller) SetModulePaused(caller [20]byte, module string, paused bool) error {
	if caller != c.operator {
		return fmt.Errorf("%w: only the operator may pause modules", ErrUnauthorized)
	}
	c.pauses.SetPaused(module, paused)
	return nil
}

// CreateLoan instantiates a new loan, registers it, and returns it. Only the
// operator may call. Constructor precondition failures propagate verbatim.
func (c *Controller) CreateLoan(caller [20]byte, params loan.Params) (*loan.Loan, error) {
	if caller != c.operator {
		return nil, fmt.Errorf("%w: only the operator may create loans", ErrUnauthorized)
	}
	c.loanNonce++
	id := crypto.DeriveHandle(c.id, c.loanNonce, "loan")
	l, err := loan.New(id, c.id, c.ledger, params)
	if err != nil {
		return nil, err
	}
	l.SetEmitter(c.emitter)
	if c.nowFn != nil {
		l.SetNowFunc(c.nowFn)
	}
	l.SetActivator(c)
	l.SetPauses(c.pauses)
	c.loans = append(c.loans, l)
	c.valid[id] = l
	c.emitter.Emit(controllerEvent{evt: loan.NewCreatedEvent(l)})
	return l, nil
}

// CancelLoan cancels a loan this controller created. Only the operator may
// call.
func (c *Controller) CancelLoan(caller [20]byte, loanID [20]byte) error {
	if caller != c.operator {
		return fmt.Errorf("%w: only the operator may cancel loans", ErrUnauthorized)
	}
	l, ok := c.valid[loanID]
	if !ok {
		return ErrUnknownLoan
	}
	return l.Cancel(c.id)
}

// FinalizeLoan finalizes a loan this controller created and delists its
// token from the market's allow-set, so only existing positions can be
// unwound afterwards. Only the operator may call.
func (c *Controller) FinalizeLoan(caller [20]byte, loanID [20]byte) error {
	if caller != c.operator {
		return fmt.Errorf("%w: only the operator may finalize loans", ErrUnauthorized)
	}
	l, ok := c.valid[loanID]
	if !ok {
		return ErrUnknownLoan
	}
	if err := l.Finalize(c.id); err != nil {
		return err
	}
	return c.market.DisallowToken(c.id, l.Token().ID())
}

// SetMarketFee updates the market purchase fee rate. Only the operator may
// call.
func (c *Controller) SetMarketFee(caller [20]byte, feeAttoPerNano *big.Int) error {
	if caller != c.operator {
		return fmt.Errorf("%w: only the operator may set the market fee", ErrUnauthorized)
	}
	return c.market.SetFee(c.id, feeAttoPerNano)
}

// NotifyLoanActivation implements loan.Activator. Only loans this controller
// created may self-identify; their token joins the market allow-set.
func (c *Controller) NotifyLoanActivation(loanID [20]byte) error {
	l, ok := c.valid[loanID]
	if !ok {
		return fmt.Errorf("%w: caller is not a loan of this controller", ErrUnauthorized)
	}
	return c.market.AllowToken(c.id, l.Token())
}

// NumLoans returns the number of loans ever created.
func (c *Controller) NumLoans() int { return len(c.loans) }

// LoanAt returns the i-th loan in creation order.
func (c *Controller) LoanAt(i int) (*loan.Loan, error) {
	if i < 0 || i >= len(c.loans) {
		return nil, fmt.Errorf("%w: index %d out of range", ErrUnknownLoan, i)
	}
	return c.loans[i], nil
}

// LoanByID returns the loan with the given handle, if this controller
// created it.
func (c *Controller) LoanByID(loanID [20]byte) (*loan.Loan, bool) {
	l, ok := c.valid[loanID]
	return l, ok
}

// LoanIsValid reports whether the handle belongs to a loan this controller
// created.
func (c *Controller) LoanIsValid(loanID [20]byte) bool {
	_, ok := c.valid[loanID]
	return ok
}

// Loans returns all loans in creation order.
func (c *Controller) Loans() []*loan.Loan {
	out := make([]*loan.Loan, len(c.loans))
	copy(out, c.loans)
	return out
}

// LoansByRecipient returns all loans paying out to the given recipient, in
// creation order.
func (c *Controller) LoansByRecipient(recipient [20]byte) []*loan.Loan {
	out := make([]*loan.Loan, 0)
	for _, l := range c.loans {
		if l.LoanRecipient() == recipient {
			out = append(out, l)
		}
	}
	return out
}

// LoansByTokenHolder returns all loans whose token the holder has a positive
// balance of, in creation order.
func (c *Controller) LoansByTokenHolder(holder [20]byte) []*loan.Loan {
	out := make([]*loan.Loan, 0)
	for _, l := range c.loans {
		if l.Token().BalanceOf(holder).Sign() > 0 {
			out = append(out, l)
		}
	}
	return out
}
