// Package tier maps token balances to ordered membership tiers.
package tier

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tier is an ordered membership level. Higher values grant more features.
type Tier int32

const (
	Unauthorized Tier = iota
	EntryLevel
	Operator
	ShadowElite
	PhantomCouncil
)

// thresholds[t] is the minimum balance, in token units, for tier t.
var thresholds = [...]uint64{
	Unauthorized:   0,
	EntryLevel:     10_000,
	Operator:       50_000,
	ShadowElite:    250_000,
	PhantomCouncil: 1_000_000,
}

var names = [...]string{
	Unauthorized:   "UNAUTHORIZED",
	EntryLevel:     "ENTRY_LEVEL",
	Operator:       "OPERATOR",
	ShadowElite:    "SHADOW_ELITE",
	PhantomCouncil: "PHANTOM_COUNCIL",
}

// All returns every tier in ascending order.
func All() []Tier {
	return []Tier{Unauthorized, EntryLevel, Operator, ShadowElite, PhantomCouncil}
}

// Resolve returns the highest tier whose threshold is at most balance.
func Resolve(balance uint64) Tier {
	for t := PhantomCouncil; t > Unauthorized; t-- {
		if balance >= thresholds[t] {
			return t
		}
	}
	return Unauthorized
}

// Threshold returns the minimum balance for t.
func Threshold(t Tier) uint64 {
	if !t.Valid() {
		return 0
	}
	return thresholds[t]
}

// Progress describes where a balance sits between tiers.
type Progress struct {
	Current   Tier   `json:"current"`
	Next      Tier   `json:"next"`
	Remaining uint64 `json:"remaining"`
	Maxed     bool   `json:"maxed"`
}

// ProgressFor returns the current tier for balance and the distance to the next one.
func ProgressFor(balance uint64) Progress {
	cur := Resolve(balance)
	if cur == PhantomCouncil {
		return Progress{Current: cur, Next: cur, Maxed: true}
	}
	next := cur + 1
	return Progress{Current: cur, Next: next, Remaining: thresholds[next] - balance}
}

// Valid reports whether t is a defined tier.
func (t Tier) Valid() bool {
	return t >= Unauthorized && t <= PhantomCouncil
}

// AtLeast reports whether t ranks at or above other.
func (t Tier) AtLeast(other Tier) bool {
	return t >= other
}

// String returns the canonical tier name.
func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tier(%d)", int32(t))
	}
	return names[t]
}

// Parse converts a tier name to a Tier. Matching ignores case and accepts
// hyphens or spaces in place of underscores.
func Parse(s string) (Tier, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for t, name := range names {
		if name == norm {
			return Tier(t), nil
		}
	}
	return Unauthorized, fmt.Errorf("unknown tier %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
