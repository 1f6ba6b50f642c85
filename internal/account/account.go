// Package account holds per-address account records and enforces the root
// admin invariant.
package account

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/access_layer/internal/tier"
)

// Status is the administrative status of an account.
type Status int32

const (
	StatusActive Status = iota
	StatusSuspended
	StatusDeleted
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSuspended:
		return "suspended"
	case StatusDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// ParseStatus converts a string to Status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return StatusActive, nil
	case "suspended":
		return StatusSuspended, nil
	case "deleted":
		return StatusDeleted, nil
	default:
		return StatusActive, fmt.Errorf("unknown account status %q", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ConnectionState tracks the wallet session of an account.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

// String returns the string representation of the connection state.
func (c ConnectionState) String() string {
	switch c {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("connection(%d)", c)
	}
}

// ParseConnectionState converts a string to ConnectionState.
func ParseConnectionState(s string) (ConnectionState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disconnected":
		return Disconnected, nil
	case "connecting":
		return Connecting, nil
	case "connected":
		return Connected, nil
	default:
		return Disconnected, fmt.Errorf("unknown connection state %q", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (c ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ConnectionState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseConnectionState(str)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// validConnectionTransitions defines allowed connection state changes.
var validConnectionTransitions = map[ConnectionState][]ConnectionState{
	Disconnected: {Connecting, Connected},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

// CanTransition returns true if the connection change from -> to is valid.
// Staying in the same state is always allowed.
func CanTransition(from, to ConnectionState) bool {
	if from == to {
		return true
	}
	for _, s := range validConnectionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Account is a point-in-time copy of a registry record. Balance is filled from
// the balance source when the copy is taken.
type Account struct {
	Address         string          `json:"address"`
	Balance         uint64          `json:"balance"`
	IsAdmin         bool            `json:"is_admin"`
	Status          Status          `json:"status"`
	ConnectionState ConnectionState `json:"connection_state"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Tier derives the membership tier from the current balance.
func (a Account) Tier() tier.Tier {
	return tier.Resolve(a.Balance)
}

// BalanceSource supplies trusted balances. Implementations must not block on I/O.
type BalanceSource interface {
	BalanceOf(address string) uint64
}

// BalanceFunc adapts a function to BalanceSource.
type BalanceFunc func(address string) uint64

// BalanceOf implements BalanceSource.
func (f BalanceFunc) BalanceOf(address string) uint64 { return f(address) }
