package account

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"

	serviceerrors "github.com/R3E-Network/access_layer/internal/errors"
)

// MaxAddressLength bounds opaque identifiers.
const MaxAddressLength = 128

// Validator checks that an address is well formed.
type Validator interface {
	Validate(addr string) error
}

// OpaqueValidator accepts any non-empty printable identifier without
// whitespace. Addresses are case-sensitive and never normalized.
type OpaqueValidator struct{}

// Validate implements Validator.
func (OpaqueValidator) Validate(addr string) error {
	if addr == "" {
		return serviceerrors.InvalidAddress(addr, fmt.Errorf("address is empty"))
	}
	if len(addr) > MaxAddressLength {
		return serviceerrors.InvalidAddress(addr, fmt.Errorf("address longer than %d bytes", MaxAddressLength))
	}
	if i := strings.IndexFunc(addr, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r) || r == unicode.ReplacementChar
	}); i >= 0 {
		return serviceerrors.InvalidAddress(addr, fmt.Errorf("illegal character at offset %d", i))
	}
	return nil
}

// NeoValidator accepts Neo N3 base58check addresses.
type NeoValidator struct{}

// Validate implements Validator.
func (NeoValidator) Validate(addr string) error {
	if err := (OpaqueValidator{}).Validate(addr); err != nil {
		return err
	}
	if _, err := address.StringToUint160(addr); err != nil {
		return serviceerrors.InvalidAddress(addr, err)
	}
	return nil
}

// NewValidator returns the validator for format ("opaque" or "neo").
func NewValidator(format string) (Validator, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "opaque":
		return OpaqueValidator{}, nil
	case "neo", "neo3", "n3":
		return NeoValidator{}, nil
	default:
		return nil, fmt.Errorf("unknown address format %q", format)
	}
}
