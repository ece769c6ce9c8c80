package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // hash160 is defined over RIPEMD-160

	vaulterrors "evovault/core/errors"
	"evovault/core/identity"
)

const (
	// PrivateKeySize is the length of a raw secp256k1 scalar.
	PrivateKeySize = 32

	wifMainnetVersion byte = 0xcc
	wifTestnetVersion byte = 0xef
	wifCompressedFlag byte = 0x01
)

// PrivateKey wraps a secp256k1 key.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// GeneratePrivateKey returns a fresh random key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromBytes parses a raw 32 byte scalar.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

// CompressedPublicKey returns the 33 byte SEC1 compressed public key.
func (k *PrivateKey) CompressedPublicKey() []byte {
	return crypto.CompressPubkey(&k.PrivateKey.PublicKey)
}

// Hash160 returns RIPEMD160(SHA256(data)).
func Hash160(data []byte) []byte {
	sum := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil)
}

func wifVersion(network identity.Network) byte {
	if network == identity.Mainnet {
		return wifMainnetVersion
	}
	return wifTestnetVersion
}

// EncodeWIF renders a raw private key in wallet import format for network.
// Keys are always flagged as compressed.
func EncodeWIF(private []byte, network identity.Network) string {
	payload := make([]byte, 0, len(private)+1)
	payload = append(payload, private...)
	payload = append(payload, wifCompressedFlag)
	return base58.CheckEncode(payload, wifVersion(network))
}

// ParsePrivateKey accepts a 64 character hex scalar or a WIF string. A WIF
// key minted for a different network is rejected.
func ParsePrivateKey(input string, network identity.Network) ([]byte, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, vaulterrors.Validation("private key is empty")
	}
	if len(trimmed) == 2*PrivateKeySize {
		if raw, err := hex.DecodeString(trimmed); err == nil {
			return raw, nil
		}
	}
	payload, version, err := base58.CheckDecode(trimmed)
	if err != nil {
		return nil, vaulterrors.Validation("private key is neither hex nor WIF: %v", err)
	}
	if version != wifVersion(network) {
		return nil, vaulterrors.Validation("WIF key version 0x%02x does not belong to %s", version, network)
	}
	switch {
	case len(payload) == PrivateKeySize:
	case len(payload) == PrivateKeySize+1 && payload[PrivateKeySize] == wifCompressedFlag:
		payload = payload[:PrivateKeySize]
	default:
		return nil, vaulterrors.Validation("WIF payload has unexpected length %d", len(payload))
	}
	return payload, nil
}

// KeyValidator confirms that private key material belongs to a public key
// before the vault accepts it.
type KeyValidator interface {
	ValidatePrivateKey(pub identity.PublicKey, private []byte, network identity.Network) (bool, error)
}

// Secp256k1Validator validates ECDSA_SECP256K1 and ECDSA_HASH160 keys.
type Secp256k1Validator struct{}

// ValidatePrivateKey reports whether private derives pub. Malformed input and
// unsupported key types fail with ErrValidation; a well-formed key for a
// different public key returns false without error.
func (Secp256k1Validator) ValidatePrivateKey(pub identity.PublicKey, private []byte, _ identity.Network) (bool, error) {
	if len(private) != PrivateKeySize {
		return false, vaulterrors.Validation("private key must be %d bytes, got %d", PrivateKeySize, len(private))
	}
	key, err := PrivateKeyFromBytes(private)
	if err != nil {
		return false, vaulterrors.Validation("invalid private key: %v", err)
	}
	compressed := key.CompressedPublicKey()
	switch pub.Type {
	case identity.KeyECDSASecp256k1:
		return bytes.Equal(compressed, pub.Data), nil
	case identity.KeyECDSAHash160:
		return bytes.Equal(Hash160(compressed), pub.Data), nil
	default:
		return false, vaulterrors.Validation("key type %s is not supported", pub.Type)
	}
}
