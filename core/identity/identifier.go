package identity

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

// IdentifierLength is the size of a platform identifier in bytes.
const IdentifierLength = 32

// Identifier is the fixed-length binary id of a platform identity.
type Identifier [IdentifierLength]byte

// String renders the identifier in base58, the platform's display encoding.
func (id Identifier) String() string { return base58.Encode(id[:]) }

// Hex renders the identifier as lowercase hex.
func (id Identifier) Hex() string { return hex.EncodeToString(id[:]) }

// Bytes returns a copy of the raw identifier.
func (id Identifier) Bytes() []byte { return append([]byte(nil), id[:]...) }

// IsZero reports whether the identifier is unset.
func (id Identifier) IsZero() bool { return id == Identifier{} }

// IdentifierFromBytes converts a raw column value into an Identifier.
func IdentifierFromBytes(b []byte) (Identifier, error) {
	var id Identifier
	if len(b) != IdentifierLength {
		return id, fmt.Errorf("identity: identifier must be %d bytes, got %d", IdentifierLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ParseIdentifier accepts a base58 identifier or its 64 character hex form.
func ParseIdentifier(s string) (Identifier, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Identifier{}, fmt.Errorf("identity: empty identifier")
	}
	if len(trimmed) == 2*IdentifierLength {
		if raw, err := hex.DecodeString(trimmed); err == nil {
			return IdentifierFromBytes(raw)
		}
	}
	raw := base58.Decode(trimmed)
	if len(raw) == 0 {
		return Identifier{}, fmt.Errorf("identity: invalid identifier %q", s)
	}
	return IdentifierFromBytes(raw)
}

// MarshalText implements encoding.TextMarshaler.
func (id Identifier) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentifier(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
