package domain

import (
	"errors"
	"strings"
)

var ErrBadAddress = errors.New("malformed wallet address")

// WalletUser is what the external Web3 provider yields on connect.
// The server only ever uses Address as identity; balance and ENS name
// are display metadata.
type WalletUser struct {
	Address    string `json:"address"`
	ENSName    string `json:"ensName,omitempty"`
	Balance    string `json:"balance,omitempty"`
	WalletType string `json:"walletType,omitempty"`
}

// DisplayName prefers the ENS name, then a shortened address.
func (u WalletUser) DisplayName() string {
	if u.ENSName != "" {
		return u.ENSName
	}
	return ShortAddress(u.Address)
}

// ShortAddress renders 0xabcd...1234 the way wallet UIs do.
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// ValidAddress is a shape check, not a checksum verification.
func ValidAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
		return false
	}
	for _, c := range addr[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
