package identity

import "fmt"

// Purpose describes what a public key may be used for.
type Purpose uint8

const (
	PurposeAuthentication Purpose = iota
	PurposeEncryption
	PurposeDecryption
	PurposeTransfer
	PurposeSystem
	PurposeVoting
	PurposeOwner
)

func (p Purpose) String() string {
	switch p {
	case PurposeAuthentication:
		return "AUTHENTICATION"
	case PurposeEncryption:
		return "ENCRYPTION"
	case PurposeDecryption:
		return "DECRYPTION"
	case PurposeTransfer:
		return "TRANSFER"
	case PurposeSystem:
		return "SYSTEM"
	case PurposeVoting:
		return "VOTING"
	case PurposeOwner:
		return "OWNER"
	default:
		return fmt.Sprintf("PURPOSE(%d)", uint8(p))
	}
}

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool { return p <= PurposeOwner }

// SecurityLevel orders keys from most to least privileged.
type SecurityLevel uint8

const (
	SecurityMaster SecurityLevel = iota
	SecurityCritical
	SecurityHigh
	SecurityMedium
)

func (l SecurityLevel) String() string {
	switch l {
	case SecurityMaster:
		return "MASTER"
	case SecurityCritical:
		return "CRITICAL"
	case SecurityHigh:
		return "HIGH"
	case SecurityMedium:
		return "MEDIUM"
	default:
		return fmt.Sprintf("SECURITY(%d)", uint8(l))
	}
}

// Valid reports whether l is a known security level.
func (l SecurityLevel) Valid() bool { return l <= SecurityMedium }

// KeyType is the algorithm and encoding of a public key's data.
type KeyType uint8

const (
	KeyECDSASecp256k1 KeyType = iota
	KeyBLS12381
	KeyECDSAHash160
	KeyBIP13ScriptHash
	KeyEdDSA25519Hash160
)

func (k KeyType) String() string {
	switch k {
	case KeyECDSASecp256k1:
		return "ECDSA_SECP256K1"
	case KeyBLS12381:
		return "BLS12_381"
	case KeyECDSAHash160:
		return "ECDSA_HASH160"
	case KeyBIP13ScriptHash:
		return "BIP13_SCRIPT_HASH"
	case KeyEdDSA25519Hash160:
		return "EDDSA_25519_HASH160"
	default:
		return fmt.Sprintf("KEYTYPE(%d)", uint8(k))
	}
}

// Valid reports whether k is a known key type.
func (k KeyType) Valid() bool { return k <= KeyEdDSA25519Hash160 }

// PublicKey is a key registered on an identity.
type PublicKey struct {
	ID            uint32
	Purpose       Purpose
	SecurityLevel SecurityLevel
	Type          KeyType
	ReadOnly      bool
	Data          []byte
	// DisabledAt is the platform timestamp (ms) the key was disabled at, 0 when active.
	DisabledAt uint64
}

// Clone returns a deep copy of the key.
func (k PublicKey) Clone() PublicKey {
	k.Data = append([]byte(nil), k.Data...)
	return k
}

// Disabled reports whether the key has been disabled on the platform.
func (k PublicKey) Disabled() bool { return k.DisabledAt != 0 }

// KeyRef addresses private key material by purpose and key id.
type KeyRef struct {
	Purpose Purpose
	KeyID   uint32
}

// PrivateKeyEntry pairs a public key with its locally held private key bytes.
type PrivateKeyEntry struct {
	Public  PublicKey
	Private []byte
}

// Clone returns a deep copy of the entry.
func (e PrivateKeyEntry) Clone() PrivateKeyEntry {
	return PrivateKeyEntry{Public: e.Public.Clone(), Private: append([]byte(nil), e.Private...)}
}
