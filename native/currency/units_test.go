package currency

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func atto(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), AttoPerWhole)
}

func TestWholeFromAttoRoundTrips(t *testing.T) {
	cases := []int64{1, 2, 600, 1_000, 123_456}
	for _, whole := range cases {
		amount := atto(whole)
		got, err := WholeFromAtto(amount)
		require.NoError(t, err)
		require.Equal(t, big.NewInt(whole), got)
		require.Equal(t, amount, new(big.Int).Mul(got, AttoPerWhole))
	}
}

func TestWholeFromAttoRejectsInvalid(t *testing.T) {
	cases := []struct {
		name   string
		amount *big.Int
	}{
		{"nil", nil},
		{"zero", big.NewInt(0)},
		{"negative", atto(-3)},
		{"sub-unit", big.NewInt(1)},
		{"off by one", new(big.Int).Add(atto(5), big.NewInt(1))},
		{"nano but not whole", new(big.Int).Mul(big.NewInt(7), AttoPerNano)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := WholeFromAtto(tc.amount)
			require.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestNanoFromAtto(t *testing.T) {
	got, err := NanoFromAtto(new(big.Int).Mul(big.NewInt(42), AttoPerNano))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), got)

	_, err = NanoFromAtto(big.NewInt(999_999_999))
	require.ErrorIs(t, err, ErrInvalidAmount)

	// whole amounts are always nano amounts too
	got, err = NanoFromAtto(atto(3))
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Mul(big.NewInt(3), NanoPerWhole), got)
}
