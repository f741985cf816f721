package currency

import (
	"fmt"
	"math/big"
	"sync"
)

// MemoryLedger is an in-memory reference implementation of the Ledger
// interface with standard balance and allowance semantics. It backs the test
// suites and local tooling; production deployments bind a real stablecoin
// service instead.
type MemoryLedger struct {
	mu         sync.Mutex
	balances   map[[20]byte]*big.Int
	allowances map[[20]byte]map[[20]byte]*big.Int
	supply     *big.Int
}

// NewMemoryLedger returns an empty ledger with zero total supply.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[[20]byte]*big.Int),
		allowances: make(map[[20]byte]map[[20]byte]*big.Int),
		supply:     big.NewInt(0),
	}
}

// Mint credits the holder and grows total supply. Only test and bootstrap
// code paths call this; the platform engines never inflate currency.
func (l *MemoryLedger) Mint(to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: mint amount must be non-negative", ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(to, amount)
	l.supply = new(big.Int).Add(l.supply, amount)
	return nil
}

// TotalSupply reports the sum of all balances.
func (l *MemoryLedger) TotalSupply() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.supply)
}

// Transfer implements the Ledger interface.
func (l *MemoryLedger) Transfer(from, to [20]byte, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// TransferFrom implements the Ledger interface. The balance is checked before
// the allowance is consumed; a failed transfer leaves the allowance intact.
func (l *MemoryLedger) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: transfer amount must be non-negative", ErrInvalidAmount)
	}
	if spender != from {
		if err := l.checkBalance(from, amount); err != nil {
			return err
		}
		granted := l.allowance(from, spender)
		if granted.Cmp(amount) < 0 {
			return fmt.Errorf("%w: allowance %s below %s", ErrInsufficientAllowance, granted, amount)
		}
		l.setAllowance(from, spender, new(big.Int).Sub(granted, amount))
	}
	return l.move(from, to, amount)
}

// Approve implements the Ledger interface.
func (l *MemoryLedger) Approve(owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: allowance must be non-negative", ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setAllowance(owner, spender, new(big.Int).Set(amount))
	return nil
}

// Allowance implements the Ledger interface.
func (l *MemoryLedger) Allowance(owner, spender [20]byte) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.allowance(owner, spender))
}

// BalanceOf implements the Ledger interface.
func (l *MemoryLedger) BalanceOf(holder [20]byte) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.balances[holder]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (l *MemoryLedger) move(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: transfer amount must be non-negative", ErrInvalidAmount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := l.checkBalance(from, amount); err != nil {
		return err
	}
	l.balances[from] = new(big.Int).Sub(l.balances[from], amount)
	l.credit(to, amount)
	return nil
}

// checkBalance fails when the holder cannot cover amount. It runs before any
// allowance mutation so error paths commit nothing. Callers hold l.mu.
func (l *MemoryLedger) checkBalance(holder [20]byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	bal, ok := l.balances[holder]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance below %s", ErrInsufficientBalance, amount)
	}
	return nil
}

func (l *MemoryLedger) credit(to [20]byte, amount *big.Int) {
	if bal, ok := l.balances[to]; ok {
		l.balances[to] = new(big.Int).Add(bal, amount)
		return
	}
	l.balances[to] = new(big.Int).Set(amount)
}

func (l *MemoryLedger) allowance(owner, spender [20]byte) *big.Int {
	if grants, ok := l.allowances[owner]; ok {
		if granted, ok := grants[spender]; ok {
			return granted
		}
	}
	return big.NewInt(0)
}

func (l *MemoryLedger) setAllowance(owner, spender [20]byte, amount *big.Int) {
	grants, ok := l.allowances[owner]
	if !ok {
		grants = make(map[[20]byte]*big.Int)
		l.allowances[owner] = grants
	}
	if amount.Sign() == 0 {
		delete(grants, spender)
		return
	}
	grants[spender] = amount
}
