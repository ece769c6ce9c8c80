package identity

import (
	"fmt"
	"strings"
)

// Network separates otherwise identical identifiers living on different deployments.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Devnet  Network = "devnet"
	Regtest Network = "regtest"
)

// ParseNetwork normalises a network name. "dash" and "local" are accepted as
// aliases for mainnet and regtest.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "dash":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	case "devnet":
		return Devnet, nil
	case "regtest", "local":
		return Regtest, nil
	default:
		return "", fmt.Errorf("identity: unknown network %q", s)
	}
}

func (n Network) String() string { return string(n) }

// Valid reports whether n is one of the known networks.
func (n Network) Valid() bool {
	switch n {
	case Mainnet, Testnet, Devnet, Regtest:
		return true
	}
	return false
}

// IdentityType distinguishes ordinary user identities from node-operated ones.
type IdentityType uint8

const (
	TypeUnknown IdentityType = iota
	User
	Masternode
	Evonode
)

func (t IdentityType) String() string {
	switch t {
	case User:
		return "User"
	case Masternode:
		return "Masternode"
	case Evonode:
		return "Evonode"
	default:
		return ""
	}
}

// ParseIdentityType maps the stored column value back onto the enum. The empty
// string is valid and denotes a remote stub whose type is not known yet.
func ParseIdentityType(s string) (IdentityType, error) {
	switch strings.TrimSpace(s) {
	case "":
		return TypeUnknown, nil
	case "User":
		return User, nil
	case "Masternode":
		return Masternode, nil
	case "Evonode":
		return Evonode, nil
	default:
		return TypeUnknown, fmt.Errorf("identity: unknown identity type %q", s)
	}
}

// TypeFilter selects identities by type when listing.
type TypeFilter uint8

const (
	TypeAny TypeFilter = iota
	TypeUser
	TypeOther
)

// ParseTypeFilter accepts "any", "user" and "other" (also "voting").
func ParseTypeFilter(s string) (TypeFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "all":
		return TypeAny, nil
	case "user":
		return TypeUser, nil
	case "other", "voting":
		return TypeOther, nil
	default:
		return TypeAny, fmt.Errorf("identity: unknown type filter %q", s)
	}
}

func (f TypeFilter) String() string {
	switch f {
	case TypeUser:
		return "user"
	case TypeOther:
		return "other"
	default:
		return "any"
	}
}
