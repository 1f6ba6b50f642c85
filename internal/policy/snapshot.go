// Package policy holds the global, admin-mutable access policy as a sequence of
// immutable snapshots published by a single writer.
package policy

import (
	"encoding/json"
	"sort"
	"time"
)

// Snapshot is one immutable generation of the global policy. Readers may hold
// and share a *Snapshot freely; nothing mutates it after publication.
type Snapshot struct {
	id        uint64
	updatedAt time.Time
	rootAdmin string

	killSwitch    bool
	maintenance   bool
	blockAll      bool
	whitelistOnly bool
	logAll        bool

	allow map[string]struct{}
	deny  map[string]struct{}
}

// ID returns the snapshot generation. Generations increase by one per publish.
func (s *Snapshot) ID() uint64 { return s.id }

// UpdatedAt returns the publish time.
func (s *Snapshot) UpdatedAt() time.Time { return s.updatedAt }

// RootAdmin returns the protected root admin address.
func (s *Snapshot) RootAdmin() string { return s.rootAdmin }

func (s *Snapshot) KillSwitchActive() bool          { return s.killSwitch }
func (s *Snapshot) MaintenanceModeActive() bool     { return s.maintenance }
func (s *Snapshot) BlockAllConnectionsActive() bool { return s.blockAll }
func (s *Snapshot) WhitelistOnlyActive() bool       { return s.whitelistOnly }
func (s *Snapshot) LogAllTransactionsActive() bool  { return s.logAll }

// IsAllowListed reports whether address is on the allow list.
func (s *Snapshot) IsAllowListed(address string) bool {
	_, ok := s.allow[address]
	return ok
}

// IsDenyListed reports whether address is on the deny list.
func (s *Snapshot) IsDenyListed(address string) bool {
	_, ok := s.deny[address]
	return ok
}

// AllowList returns the allow list sorted.
func (s *Snapshot) AllowList() []string { return sortedKeys(s.allow) }

// DenyList returns the deny list sorted.
func (s *Snapshot) DenyList() []string { return sortedKeys(s.deny) }

// View is the serialized form of a snapshot.
type View struct {
	ID                        uint64    `json:"id"`
	UpdatedAt                 time.Time `json:"updated_at"`
	KillSwitchActive          bool      `json:"kill_switch_active"`
	MaintenanceModeActive     bool      `json:"maintenance_mode_active"`
	BlockAllConnectionsActive bool      `json:"block_all_connections_active"`
	WhitelistOnlyActive       bool      `json:"whitelist_only_active"`
	LogAllTransactionsActive  bool      `json:"log_all_transactions_active"`
	AllowList                 []string  `json:"allow_list"`
	DenyList                  []string  `json:"deny_list"`
}

// View returns a serializable copy of the snapshot.
func (s *Snapshot) View() View {
	return View{
		ID:                        s.id,
		UpdatedAt:                 s.updatedAt,
		KillSwitchActive:          s.killSwitch,
		MaintenanceModeActive:     s.maintenance,
		BlockAllConnectionsActive: s.blockAll,
		WhitelistOnlyActive:       s.whitelistOnly,
		LogAllTransactionsActive:  s.logAll,
		AllowList:                 s.AllowList(),
		DenyList:                  s.DenyList(),
	}
}

// MarshalJSON implements json.Marshaler.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.View())
}

func (s *Snapshot) clone() *Snapshot {
	cp := *s
	cp.allow = make(map[string]struct{}, len(s.allow))
	for k := range s.allow {
		cp.allow[k] = struct{}{}
	}
	cp.deny = make(map[string]struct{}, len(s.deny))
	for k := range s.deny {
		cp.deny[k] = struct{}{}
	}
	return &cp
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
