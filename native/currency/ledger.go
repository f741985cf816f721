package currency

import "math/big"

// Ledger is the external stablecoin collaborator. Implementations must treat
// every call as all-or-nothing and conserve total supply across transfers.
type Ledger interface {
	// Transfer moves amount from the caller's own balance.
	Transfer(from, to [20]byte, amount *big.Int) error
	// TransferFrom moves amount out of from's balance on behalf of spender,
	// consuming spender's allowance unless spender == from.
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
	// Approve sets spender's allowance over owner's balance.
	Approve(owner, spender [20]byte, amount *big.Int) error
	// Allowance reports the remaining allowance spender holds over owner.
	Allowance(owner, spender [20]byte) *big.Int
	// BalanceOf reports the holder's current balance.
	BalanceOf(holder [20]byte) *big.Int
}
