// Package wallet defines the handle the vault uses to reference HD wallets it
// does not own. Wallets live with the caller; identities only remember the
// seed hash and derivation index that produced them.
package wallet

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// SeedHash identifies a wallet by the hash of its seed.
type SeedHash [32]byte

func (h SeedHash) String() string { return hex.EncodeToString(h[:]) }

// Bytes returns a copy of the hash.
func (h SeedHash) Bytes() []byte { return append([]byte(nil), h[:]...) }

// IsZero reports whether the hash is unset.
func (h SeedHash) IsZero() bool { return h == SeedHash{} }

// SeedHashFromBytes converts a stored column into a SeedHash.
func SeedHashFromBytes(b []byte) (SeedHash, error) {
	var h SeedHash
	if len(b) != len(h) {
		return h, fmt.Errorf("wallet: seed hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ParseSeedHash decodes a hex encoded seed hash.
func ParseSeedHash(s string) (SeedHash, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return SeedHash{}, fmt.Errorf("wallet: invalid seed hash: %w", err)
	}
	return SeedHashFromBytes(raw)
}

// Wallet is an opaque handle supplied by the caller.
type Wallet struct {
	SeedHash SeedHash
	Alias    string
	IsMain   bool
}

// Resolver maps a seed hash to the caller's wallet handle.
type Resolver interface {
	Wallet(seed SeedHash) (*Wallet, bool)
}

// Set is a caller supplied seed-hash to wallet mapping.
type Set map[SeedHash]*Wallet

// Wallet implements Resolver.
func (s Set) Wallet(seed SeedHash) (*Wallet, bool) {
	if s == nil {
		return nil, false
	}
	w, ok := s[seed]
	return w, ok && w != nil
}

// NewSet indexes the supplied wallets by seed hash.
func NewSet(wallets ...*Wallet) Set {
	set := make(Set, len(wallets))
	for _, w := range wallets {
		if w == nil {
			continue
		}
		set[w.SeedHash] = w
	}
	return set
}

// Resolve looks seed up in r, tolerating a nil resolver.
func Resolve(r Resolver, seed SeedHash) *Wallet {
	if r == nil {
		return nil
	}
	w, ok := r.Wallet(seed)
	if !ok {
		return nil
	}
	return w
}
