package crypto

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DeriveHandle deterministically derives a fresh 20-byte handle from a parent
// handle, a per-parent nonce, and a domain salt. It is the address-like
// identity given to loans, their tokens, and the market escrow account.
func DeriveHandle(parent [20]byte, nonce uint64, salt string) [20]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	digest := ethcrypto.Keccak256(parent[:], buf[:], []byte(salt))
	var handle [20]byte
	copy(handle[:], digest[12:])
	return handle
}
