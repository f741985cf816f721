package token

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrInvalidAmount         = errors.New("token: invalid amount")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrUnauthorized          = errors.New("token: unauthorized caller")
)

// Token is a zero-decimals fungible asset representing claims on a single
// loan's repayment pool. The entire supply is minted to the owning loan at
// construction and can only shrink through loan-driven redemption burns.
type Token struct {
	id         [20]byte
	loan       [20]byte
	supply     *big.Int
	balances   map[[20]byte]*big.Int
	allowances map[[20]byte]map[[20]byte]*big.Int
}

// New mints supplyTokens to the owning loan and returns the registry. The
// supply is fixed for the token's lifetime.
func New(id, loan [20]byte, supplyTokens *big.Int) (*Token, error) {
	if supplyTokens == nil || supplyTokens.Sign() <= 0 {
		return nil, fmt.Errorf("%w: supply must be positive", ErrInvalidAmount)
	}
	t := &Token{
		id:         id,
		loan:       loan,
		supply:     new(big.Int).Set(supplyTokens),
		balances:   make(map[[20]byte]*big.Int),
		allowances: make(map[[20]byte]map[[20]byte]*big.Int),
	}
	t.balances[loan] = new(big.Int).Set(supplyTokens)
	return t, nil
}

// ID returns the token's handle.
func (t *Token) ID() [20]byte { return t.id }

// Loan returns the handle of the loan that owns this token.
func (t *Token) Loan() [20]byte { return t.loan }

// Decimals is always zero: one token is one whole unit of repayment claim.
func (t *Token) Decimals() uint8 { return 0 }

// TotalSupply reports the current (possibly burned-down) supply.
func (t *Token) TotalSupply() *big.Int { return new(big.Int).Set(t.supply) }

// BalanceOf reports the holder's current token balance.
func (t *Token) BalanceOf(holder [20]byte) *big.Int {
	if bal, ok := t.balances[holder]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Transfer moves amount tokens out of the caller's own balance.
func (t *Token) Transfer(from, to [20]byte, amount *big.Int) error {
	return t.move(from, to, amount)
}

// TransferFrom moves amount tokens out of from's balance on behalf of
// spender, consuming spender's allowance unless spender == from. The balance
// is checked before the allowance is consumed; a failed transfer leaves the
// allowance intact.
func (t *Token) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: transfer amount must be non-negative", ErrInvalidAmount)
	}
	if spender != from {
		if err := t.checkBalance(from, amount); err != nil {
			return err
		}
		if err := t.consumeAllowance(from, spender, amount); err != nil {
			return err
		}
	}
	return t.move(from, to, amount)
}

// Approve sets spender's allowance over owner's balance.
func (t *Token) Approve(owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: allowance must be non-negative", ErrInvalidAmount)
	}
	grants, ok := t.allowances[owner]
	if !ok {
		grants = make(map[[20]byte]*big.Int)
		t.allowances[owner] = grants
	}
	if amount.Sign() == 0 {
		delete(grants, spender)
		return nil
	}
	grants[spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance reports the remaining allowance spender holds over owner.
func (t *Token) Allowance(owner, spender [20]byte) *big.Int {
	if grants, ok := t.allowances[owner]; ok {
		if granted, ok := grants[spender]; ok {
			return new(big.Int).Set(granted)
		}
	}
	return big.NewInt(0)
}

// BurnFrom destroys amount tokens held by holder, shrinking total supply.
// Only the owning loan may burn, and burning another holder's tokens consumes
// the loan's allowance over them.
func (t *Token) BurnFrom(caller, holder [20]byte, amount *big.Int) error {
	if caller != t.loan {
		return fmt.Errorf("%w: only the owning loan may burn", ErrUnauthorized)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: burn amount must be positive", ErrInvalidAmount)
	}
	if err := t.checkBalance(holder, amount); err != nil {
		return err
	}
	if holder != caller {
		if err := t.consumeAllowance(holder, caller, amount); err != nil {
			return err
		}
	}
	t.balances[holder] = new(big.Int).Sub(t.balances[holder], amount)
	t.supply = new(big.Int).Sub(t.supply, amount)
	return nil
}

// checkBalance fails when the holder cannot cover amount. It runs before any
// allowance mutation so error paths commit nothing.
func (t *Token) checkBalance(holder [20]byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	bal, ok := t.balances[holder]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance below %s", ErrInsufficientBalance, amount)
	}
	return nil
}

func (t *Token) move(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: transfer amount must be non-negative", ErrInvalidAmount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	bal, ok := t.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance below %s", ErrInsufficientBalance, amount)
	}
	t.balances[from] = new(big.Int).Sub(bal, amount)
	if dst, ok := t.balances[to]; ok {
		t.balances[to] = new(big.Int).Add(dst, amount)
	} else {
		t.balances[to] = new(big.Int).Set(amount)
	}
	return nil
}

func (t *Token) consumeAllowance(owner, spender [20]byte, amount *big.Int) error {
	granted := big.NewInt(0)
	if grants, ok := t.allowances[owner]; ok {
		if g, ok := grants[spender]; ok {
			granted = g
		}
	}
	if granted.Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowance %s below %s", ErrInsufficientAllowance, granted, amount)
	}
	remaining := new(big.Int).Sub(granted, amount)
	if remaining.Sign() == 0 {
		delete(t.allowances[owner], spender)
		return nil
	}
	t.allowances[owner][spender] = remaining
	return nil
}
