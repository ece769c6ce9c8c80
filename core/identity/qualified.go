package identity

import (
	"fmt"

	"evovault/core/wallet"
)

// QualifiedIdentity is an identity enriched with locally known key material and
// bookkeeping. The codec persists the identity core; Alias, WalletIndex, TopUps
// and Wallet live in relational columns and are reattached after decoding.
type QualifiedIdentity struct {
	ID         Identifier
	Balance    uint64
	Revision   uint64
	PublicKeys map[uint32]PublicKey
	Type       IdentityType

	PrivateKeys       map[KeyRef]PrivateKeyEntry
	AssociatedWallets []wallet.SeedHash
	VoterID           *Identifier

	Alias       *string
	WalletIndex *uint32
	TopUps      map[uint32]uint32
	Wallet      *wallet.Wallet
}

// NewQualifiedIdentity returns an identity with its maps initialised.
func NewQualifiedIdentity(id Identifier, kind IdentityType) *QualifiedIdentity {
	return &QualifiedIdentity{
		ID:          id,
		Type:        kind,
		PublicKeys:  make(map[uint32]PublicKey),
		PrivateKeys: make(map[KeyRef]PrivateKeyEntry),
		TopUps:      make(map[uint32]uint32),
	}
}

// PublicKey looks up a registered key by id.
func (q *QualifiedIdentity) PublicKey(id uint32) (PublicKey, bool) {
	if q == nil || q.PublicKeys == nil {
		return PublicKey{}, false
	}
	key, ok := q.PublicKeys[id]
	return key, ok
}

// AddPublicKey registers key, replacing any key with the same id.
func (q *QualifiedIdentity) AddPublicKey(key PublicKey) {
	if q.PublicKeys == nil {
		q.PublicKeys = make(map[uint32]PublicKey)
	}
	q.PublicKeys[key.ID] = key.Clone()
}

// SetPrivateKey stores private material for a registered public key.
func (q *QualifiedIdentity) SetPrivateKey(pub PublicKey, private []byte) {
	if q.PrivateKeys == nil {
		q.PrivateKeys = make(map[KeyRef]PrivateKeyEntry)
	}
	q.PrivateKeys[KeyRef{Purpose: pub.Purpose, KeyID: pub.ID}] = PrivateKeyEntry{
		Public:  pub.Clone(),
		Private: append([]byte(nil), private...),
	}
}

// HasPrivateKey reports whether private material is held for the key.
func (q *QualifiedIdentity) HasPrivateKey(ref KeyRef) bool {
	if q == nil || q.PrivateKeys == nil {
		return false
	}
	_, ok := q.PrivateKeys[ref]
	return ok
}

// DisplayName returns the alias when set, the base58 identifier otherwise.
func (q *QualifiedIdentity) DisplayName() string {
	if q.Alias != nil && *q.Alias != "" {
		return *q.Alias
	}
	return q.ID.String()
}

func (q *QualifiedIdentity) String() string {
	return fmt.Sprintf("%s(%s)", q.Type, q.DisplayName())
}

// Clone deep copies the identity so callers cannot mutate shared state. The
// wallet handle is a reference and is shared, not copied.
func (q *QualifiedIdentity) Clone() *QualifiedIdentity {
	if q == nil {
		return nil
	}
	out := &QualifiedIdentity{
		ID:       q.ID,
		Balance:  q.Balance,
		Revision: q.Revision,
		Type:     q.Type,
		Wallet:   q.Wallet,
	}
	if q.PublicKeys != nil {
		out.PublicKeys = make(map[uint32]PublicKey, len(q.PublicKeys))
		for id, key := range q.PublicKeys {
			out.PublicKeys[id] = key.Clone()
		}
	}
	if q.PrivateKeys != nil {
		out.PrivateKeys = make(map[KeyRef]PrivateKeyEntry, len(q.PrivateKeys))
		for ref, entry := range q.PrivateKeys {
			out.PrivateKeys[ref] = entry.Clone()
		}
	}
	if q.AssociatedWallets != nil {
		out.AssociatedWallets = append([]wallet.SeedHash(nil), q.AssociatedWallets...)
	}
	if q.VoterID != nil {
		voter := *q.VoterID
		out.VoterID = &voter
	}
	if q.Alias != nil {
		alias := *q.Alias
		out.Alias = &alias
	}
	if q.WalletIndex != nil {
		index := *q.WalletIndex
		out.WalletIndex = &index
	}
	if q.TopUps != nil {
		out.TopUps = make(map[uint32]uint32, len(q.TopUps))
		for index, amount := range q.TopUps {
			out.TopUps[index] = amount
		}
	}
	return out
}
