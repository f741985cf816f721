package controller

import (
	"errors"
	"math/big"
	"testing"

	"edulend/native/common"
	"edulend/native/currency"
	"edulend/native/loan"
)

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func atto(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), currency.AttoPerWhole)
}

var operator = addr(0x01)

type fixture struct {
	ctrl   *Controller
	ledger *currency.MemoryLedger
	now    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger: currency.NewMemoryLedger(),
		now:    1_700_000_000,
	}
	ctrl, err := New(operator, f.ledger)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	ctrl.SetNowFunc(func() int64 { return f.now })
	f.ctrl = ctrl
	return f
}

func testParams(requestedWhole int64) loan.Params {
	return loan.Params{
		FeeRecipient:           addr(0xFE),
		LoanRecipient:          addr(0x10),
		SecondsToExpiration:    3_600,
		FundingFeeAttoPerWhole: big.NewInt(0),
		PaymentFeeAttoPerWhole: big.NewInt(0),
		RequestedValueAtto:     atto(requestedWhole),
	}
}

// fundFully pushes the loan through its funding phase with a single funder.
func (f *fixture) fundFully(t *testing.T, l *loan.Loan, funder [20]byte, whole int64) {
	t.Helper()
	total, err := l.ProvideFundsCost(atto(whole))
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	if err := f.ledger.Mint(funder, total); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.ledger.Approve(funder, l.ID(), total); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := l.ProvideFunds(funder, atto(whole)); err != nil {
		t.Fatalf("provide funds: %v", err)
	}
}

func TestCreateLoanOperatorOnly(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ctrl.CreateLoan(addr(0x99), testParams(100)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	l, err := f.ctrl.CreateLoan(operator, testParams(100))
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if !f.ctrl.LoanIsValid(l.ID()) {
		t.Fatalf("created loan must be registered")
	}
	if f.ctrl.NumLoans() != 1 {
		t.Fatalf("num loans: %d", f.ctrl.NumLoans())
	}
	got, err := f.ctrl.LoanAt(0)
	if err != nil || got != l {
		t.Fatalf("loan at 0: %v, %v", got, err)
	}
	byID, ok := f.ctrl.LoanByID(l.ID())
	if !ok || byID != l {
		t.Fatalf("loan by id: %v, %v", byID, ok)
	}
}

func TestCreateLoanDerivesDistinctHandles(t *testing.T) {
	f := newFixture(t)
	a, err := f.ctrl.CreateLoan(operator, testParams(100))
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	b, err := f.ctrl.CreateLoan(operator, testParams(100))
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if a.ID() == b.ID() {
		t.Fatalf("loan handles must be unique")
	}
	if a.Token().ID() == b.Token().ID() {
		t.Fatalf("token handles must be unique")
	}
}

func TestCreateLoanPropagatesParamErrors(t *testing.T) {
	f := newFixture(t)
	params := testParams(100)
	params.RequestedValueAtto = big.NewInt(7)
	if _, err := f.ctrl.CreateLoan(operator, params); !errors.Is(err, currency.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if f.ctrl.NumLoans() != 0 {
		t.Fatalf("failed creation must not register a loan")
	}
}

func TestActivationAllowsTokenOnMarket(t *testing.T) {
	f := newFixture(t)
	l, err := f.ctrl.CreateLoan(operator, testParams(100))
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	mkt := f.ctrl.Market()
	if mkt.IsAllowed(l.Token().ID()) {
		t.Fatalf("token must not be listable before activation")
	}

	funder := addr(0x0A)
	f.fundFully(t, l, funder, 100)
	if l.Phase() != loan.PhaseActive {
		t.Fatalf("phase: %s", l.Phase())
	}
	if !mkt.IsAllowed(l.Token().ID()) {
		t.Fatalf("activation must admit the token to the allow-set")
	}

	// the admitted token is immediately listable
	if err := l.Token().Approve(funder, mkt.ID(), big.NewInt(10)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := mkt.CreateSellPosition(funder, l.Token().ID(), big.NewInt(10), atto(1)); err != nil {
		t.Fatalf("create position: %v", err)
	}
}

func TestNotifyLoanActivationRejectsStrangers(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.NotifyLoanActivation(addr(0x55)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestCancelLoan(t *testing.T) {
	f := newFixture(t)
	l, err := f.ctrl.CreateLoan(operator, testParams(100))
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if err := f.ctrl.CancelLoan(addr(0x99), l.ID()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.ctrl.CancelLoan(operator, addr(0x55)); !errors.Is(err, ErrUnknownLoan) {
		t.Fatalf("expected unknown loan, got %v", err)
	}
	if err := f.ctrl.CancelLoan(operator, l.ID()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if l.Phase() != loan.PhaseCanceled {
		t.Fatalf("phase: %s", l.Phase())
	}
}

func TestFinalizeLoanDelistsToken(t *testing.T) {
	f := newFixture(t)
	l, err := f.ctrl.CreateLoan(operator, testParams(100))
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	funder := addr(0x0A)
	f.fundFully(t, l, funder, 100)
	mkt := f.ctrl.Market()

	// a standing position listed before finalization
	if err := l.Token().Approve(funder, mkt.ID(), big.NewInt(10)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := mkt.CreateSellPosition(funder, l.Token().ID(), big.NewInt(10), atto(1)); err != nil {
		t.Fatalf("create position: %v", err)
	}

	if err := f.ctrl.FinalizeLoan(addr(0x99), l.ID()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.ctrl.FinalizeLoan(operator, addr(0x55)); !errors.Is(err, ErrUnknownLoan) {
		t.Fatalf("expected unknown loan, got %v", err)
	}
	if err := f.ctrl.FinalizeLoan(operator, l.ID()); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if l.Phase() != loan.PhaseFinalized {
		t.Fatalf("phase: %s", l.Phase())
	}
	if mkt.IsAllowed(l.Token().ID()) {
		t.Fatalf("finalization must delist the token")
	}
	// the standing position can still be unwound
	if err := mkt.RemoveSellPosition(funder, l.Token().ID()); err != nil {
		t.Fatalf("remove position after delist: %v", err)
	}
}

func TestSetMarketFee(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.SetMarketFee(addr(0x99), big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.ctrl.SetMarketFee(operator, big.NewInt(42)); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if got := f.ctrl.Market().Fee().Int64(); got != 42 {
		t.Fatalf("fee: %d", got)
	}
}

func TestSetModulePaused(t *testing.T) {
	f := newFixture(t)
	l, err := f.ctrl.CreateLoan(operator, testParams(100))
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if err := f.ctrl.SetModulePaused(addr(0x99), "loan", true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.ctrl.SetModulePaused(operator, "loan", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := l.ProvideFunds(addr(0x0A), atto(1)); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected module paused, got %v", err)
	}
	if err := f.ctrl.SetModulePaused(operator, "market", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := f.ctrl.Market().RemoveSellPosition(addr(0x0A), addr(0x22)); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected module paused, got %v", err)
	}
	if err := f.ctrl.SetModulePaused(operator, "loan", false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := l.ProvideFunds(addr(0x0A), atto(1)); errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("resumed module must not report paused, got %v", err)
	}
}

func TestLoanQueries(t *testing.T) {
	f := newFixture(t)
	paramsA := testParams(100)
	paramsA.LoanRecipient = addr(0x10)
	paramsB := testParams(50)
	paramsB.LoanRecipient = addr(0x20)

	a, err := f.ctrl.CreateLoan(operator, paramsA)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if _, err := f.ctrl.CreateLoan(operator, paramsB); err != nil {
		t.Fatalf("create loan: %v", err)
	}

	if got := len(f.ctrl.Loans()); got != 2 {
		t.Fatalf("loans: %d", got)
	}
	if got := f.ctrl.LoansByRecipient(addr(0x10)); len(got) != 1 || got[0] != a {
		t.Fatalf("loans by recipient: %v", got)
	}
	if got := len(f.ctrl.LoansByRecipient(addr(0x99))); got != 0 {
		t.Fatalf("unknown recipient loans: %d", got)
	}

	holder := addr(0x0A)
	f.fundFully(t, a, holder, 100)
	if got := f.ctrl.LoansByTokenHolder(holder); len(got) != 1 || got[0] != a {
		t.Fatalf("loans by holder: %v", got)
	}
	if got := len(f.ctrl.LoansByTokenHolder(addr(0x99))); got != 0 {
		t.Fatalf("unknown holder loans: %d", got)
	}

	if _, err := f.ctrl.LoanAt(5); !errors.Is(err, ErrUnknownLoan) {
		t.Fatalf("expected unknown loan, got %v", err)
	}
	if !f.ctrl.LoanIsValid(a.ID()) || f.ctrl.LoanIsValid(addr(0x55)) {
		t.Fatalf("validity checks wrong")
	}
}

func TestLazyExpirationThroughController(t *testing.T) {
	f := newFixture(t)
	l, err := f.ctrl.CreateLoan(operator, testParams(100))
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	f.now += 3_601
	expired, err := l.CheckExpiration()
	if err != nil {
		t.Fatalf("check expiration: %v", err)
	}
	if !expired {
		t.Fatalf("expected expired")
	}
	if err := f.ctrl.CancelLoan(operator, l.ID()); !errors.Is(err, loan.ErrWrongPhase) {
		t.Fatalf("expected wrong phase, got %v", err)
	}
}
