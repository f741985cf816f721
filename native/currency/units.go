package currency

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrInvalidAmount         = errors.New("currency: invalid amount")
	ErrInsufficientBalance   = errors.New("currency: insufficient balance")
	ErrInsufficientAllowance = errors.New("currency: insufficient allowance")
)

// Scale factors between the atto accounting unit and the coarser
// denominations used by the ledger. Loan and trade principals are always a
// whole number of currency units; fee rates use the intermediate nano unit
// for sub-unit precision.
var (
	AttoPerWhole = mustBigInt("1000000000000000000") // 1e18
	AttoPerNano  = big.NewInt(1_000_000_000)         // 1e9
	NanoPerWhole = big.NewInt(1_000_000_000)         // 1e9
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// WholeFromAtto converts an atto amount to whole currency units. It fails
// with ErrInvalidAmount unless the amount is a positive multiple of 1e18.
func WholeFromAtto(amount *big.Int) (*big.Int, error) {
	return unitsFromAtto(amount, AttoPerWhole, "whole")
}

// NanoFromAtto converts an atto amount to nano currency units. It fails with
// ErrInvalidAmount unless the amount is a positive multiple of 1e9.
func NanoFromAtto(amount *big.Int) (*big.Int, error) {
	return unitsFromAtto(amount, AttoPerNano, "nano")
}

// unitsFromAtto performs the exact division that every user-supplied primary
// amount must survive. Remainders are never rounded away.
func unitsFromAtto(amount, scale *big.Int, unit string) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: must be a positive multiple of one %s unit", ErrInvalidAmount, unit)
	}
	quo, rem := new(big.Int).QuoRem(amount, scale, new(big.Int))
	if rem.Sign() != 0 {
		return nil, fmt.Errorf("%w: must be a positive multiple of one %s unit", ErrInvalidAmount, unit)
	}
	return quo, nil
}
