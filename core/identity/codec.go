package identity

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	vaulterrors "evovault/core/errors"
	"evovault/core/wallet"
)

const (
	// CodecVersion is the current identity blob format.
	CodecVersion byte = 1

	checksumSize = 8
)

var (
	errBlobTooShort    = errors.New("identity: payload too short")
	errUnknownVersion  = errors.New("identity: unknown payload version")
	errChecksumInvalid = errors.New("identity: payload checksum mismatch")
)

type storedPublicKey struct {
	ID            uint32
	Purpose       uint8
	SecurityLevel uint8
	Type          uint8
	ReadOnly      bool
	Data          []byte
	DisabledAt    uint64
}

type storedPrivateKey struct {
	Purpose uint8
	KeyID   uint32
	Public  storedPublicKey
	Private []byte
}

// storedIdentity is the rlp shape of the blob. Alias, wallet index and top-ups
// are not part of the blob; they live in relational columns.
type storedIdentity struct {
	ID          []byte
	Balance     uint64
	Revision    uint64
	Type        uint8
	PublicKeys  []storedPublicKey
	PrivateKeys []storedPrivateKey
	Wallets     [][]byte
	VoterID     []byte
}

// Encode serialises the blob-carried fields of q into the versioned format:
// version byte, rlp body, then the first 8 bytes of a blake3 digest over both.
func Encode(q *QualifiedIdentity) ([]byte, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: nil identity", vaulterrors.ErrCodec)
	}
	stored := storedIdentity{
		ID:       q.ID.Bytes(),
		Balance:  q.Balance,
		Revision: q.Revision,
		Type:     uint8(q.Type),
	}

	keyIDs := make([]uint32, 0, len(q.PublicKeys))
	for id := range q.PublicKeys {
		keyIDs = append(keyIDs, id)
	}
	sort.Slice(keyIDs, func(i, j int) bool { return keyIDs[i] < keyIDs[j] })
	for _, id := range keyIDs {
		stored.PublicKeys = append(stored.PublicKeys, toStoredKey(q.PublicKeys[id]))
	}

	refs := make([]KeyRef, 0, len(q.PrivateKeys))
	for ref := range q.PrivateKeys {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Purpose != refs[j].Purpose {
			return refs[i].Purpose < refs[j].Purpose
		}
		return refs[i].KeyID < refs[j].KeyID
	})
	for _, ref := range refs {
		entry := q.PrivateKeys[ref]
		stored.PrivateKeys = append(stored.PrivateKeys, storedPrivateKey{
			Purpose: uint8(ref.Purpose),
			KeyID:   ref.KeyID,
			Public:  toStoredKey(entry.Public),
			Private: append([]byte(nil), entry.Private...),
		})
	}

	for _, seed := range q.AssociatedWallets {
		stored.Wallets = append(stored.Wallets, seed.Bytes())
	}
	if q.VoterID != nil {
		stored.VoterID = q.VoterID.Bytes()
	}

	body, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: encode identity: %w", vaulterrors.ErrCodec, err)
	}
	out := make([]byte, 0, 1+len(body)+checksumSize)
	out = append(out, CodecVersion)
	out = append(out, body...)
	sum := blake3.Sum256(out)
	return append(out, sum[:checksumSize]...), nil
}

// Decode parses a blob produced by Encode. The returned identity has Alias,
// WalletIndex, TopUps and Wallet unset.
func Decode(data []byte) (*QualifiedIdentity, error) {
	if len(data) < 1+checksumSize {
		return nil, fmt.Errorf("%w: %w", vaulterrors.ErrCodec, errBlobTooShort)
	}
	if data[0] != CodecVersion {
		return nil, fmt.Errorf("%w: %w %d", vaulterrors.ErrCodec, errUnknownVersion, data[0])
	}
	payload, trailer := data[:len(data)-checksumSize], data[len(data)-checksumSize:]
	sum := blake3.Sum256(payload)
	if !bytes.Equal(sum[:checksumSize], trailer) {
		return nil, fmt.Errorf("%w: %w", vaulterrors.ErrCodec, errChecksumInvalid)
	}

	var stored storedIdentity
	if err := rlp.DecodeBytes(payload[1:], &stored); err != nil {
		return nil, fmt.Errorf("%w: decode identity: %w", vaulterrors.ErrCodec, err)
	}
	id, err := IdentifierFromBytes(stored.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vaulterrors.ErrCodec, err)
	}
	kind := IdentityType(stored.Type)
	if kind > Evonode {
		return nil, fmt.Errorf("%w: identity: unknown identity type %d", vaulterrors.ErrCodec, stored.Type)
	}

	q := &QualifiedIdentity{
		ID:          id,
		Balance:     stored.Balance,
		Revision:    stored.Revision,
		Type:        kind,
		PublicKeys:  make(map[uint32]PublicKey, len(stored.PublicKeys)),
		PrivateKeys: make(map[KeyRef]PrivateKeyEntry, len(stored.PrivateKeys)),
	}
	for _, sk := range stored.PublicKeys {
		key, err := fromStoredKey(sk)
		if err != nil {
			return nil, err
		}
		q.PublicKeys[key.ID] = key
	}
	for _, sp := range stored.PrivateKeys {
		pub, err := fromStoredKey(sp.Public)
		if err != nil {
			return nil, err
		}
		ref := KeyRef{Purpose: Purpose(sp.Purpose), KeyID: sp.KeyID}
		if !ref.Purpose.Valid() {
			return nil, fmt.Errorf("%w: identity: unknown key purpose %d", vaulterrors.ErrCodec, sp.Purpose)
		}
		q.PrivateKeys[ref] = PrivateKeyEntry{Public: pub, Private: append([]byte(nil), sp.Private...)}
	}
	for _, raw := range stored.Wallets {
		seed, err := wallet.SeedHashFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", vaulterrors.ErrCodec, err)
		}
		q.AssociatedWallets = append(q.AssociatedWallets, seed)
	}
	if len(stored.VoterID) > 0 {
		voter, err := IdentifierFromBytes(stored.VoterID)
		if err != nil {
			return nil, fmt.Errorf("%w: voter: %w", vaulterrors.ErrCodec, err)
		}
		q.VoterID = &voter
	}
	return q, nil
}

func toStoredKey(k PublicKey) storedPublicKey {
	return storedPublicKey{
		ID:            k.ID,
		Purpose:       uint8(k.Purpose),
		SecurityLevel: uint8(k.SecurityLevel),
		Type:          uint8(k.Type),
		ReadOnly:      k.ReadOnly,
		Data:          append([]byte(nil), k.Data...),
		DisabledAt:    k.DisabledAt,
	}
}

func fromStoredKey(s storedPublicKey) (PublicKey, error) {
	key := PublicKey{
		ID:            s.ID,
		Purpose:       Purpose(s.Purpose),
		SecurityLevel: SecurityLevel(s.SecurityLevel),
		Type:          KeyType(s.Type),
		ReadOnly:      s.ReadOnly,
		Data:          append([]byte(nil), s.Data...),
		DisabledAt:    s.DisabledAt,
	}
	if !key.Purpose.Valid() || !key.SecurityLevel.Valid() || !key.Type.Valid() {
		return PublicKey{}, fmt.Errorf("%w: identity: key %d has unknown purpose, level or type", vaulterrors.ErrCodec, s.ID)
	}
	return key, nil
}
