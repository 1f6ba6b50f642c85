// Package access decides whether an account may use a feature under a policy snapshot.
package access

import (
	"encoding/json"

	"github.com/R3E-Network/access_layer/internal/account"
	"github.com/R3E-Network/access_layer/internal/policy"
	"github.com/R3E-Network/access_layer/internal/tier"
)

// Reason explains a denial. The zero value accompanies an allow.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonBlacklisted        Reason = "BLACKLISTED"
	ReasonSuspended          Reason = "SUSPENDED"
	ReasonKillSwitch         Reason = "KILL_SWITCH"
	ReasonConnectionsBlocked Reason = "CONNECTIONS_BLOCKED"
	ReasonNotWhitelisted     Reason = "NOT_WHITELISTED"
	ReasonUnknownFeature     Reason = "UNKNOWN_FEATURE"
	ReasonInsufficientTier   Reason = "INSUFFICIENT_TIER"
)

// Decision is the outcome of an evaluation.
type Decision struct {
	Allowed      bool      `json:"allowed"`
	Reason       Reason    `json:"reason,omitempty"`
	Tier         tier.Tier `json:"tier"`
	RequiredTier tier.Tier `json:"required_tier"`
	SnapshotID   uint64    `json:"snapshot_id"`
}

// Outcome returns "allow" or "deny".
func (d Decision) Outcome() string {
	if d.Allowed {
		return "allow"
	}
	return "deny"
}

// String returns a compact representation, e.g. "deny(KILL_SWITCH)".
func (d Decision) String() string {
	if d.Allowed {
		return "allow"
	}
	return "deny(" + string(d.Reason) + ")"
}

// MarshalJSON adds the outcome field.
func (d Decision) MarshalJSON() ([]byte, error) {
	type plain Decision
	return json.Marshal(struct {
		Outcome string `json:"outcome"`
		plain
	}{d.Outcome(), plain(d)})
}

// Evaluator applies the access rules. It holds only the immutable catalog and
// is safe for concurrent use.
type Evaluator struct {
	catalog *Catalog
}

// NewEvaluator creates an evaluator over catalog.
func NewEvaluator(catalog *Catalog) *Evaluator {
	return &Evaluator{catalog: catalog}
}

// Catalog returns the feature catalog.
func (e *Evaluator) Catalog() *Catalog {
	return e.catalog
}

// Evaluate decides whether acct may use featureID under snap. Rules are checked
// in a fixed order and the first match wins:
//
//  1. deny list (overrides admin)
//  2. suspension
//  3. kill switch, unless admin
//  4. connection block, unless admin, allow-listed or already connected
//  5. whitelist-only mode, unless admin or allow-listed
//  6. unknown feature
//  7. admin bypass
//  8. tier comparison
//
// Evaluate is a pure function of its inputs.
func (e *Evaluator) Evaluate(acct account.Account, featureID string, snap *policy.Snapshot) Decision {
	d := Decision{Tier: acct.Tier(), SnapshotID: snap.ID()}

	if reason := policyDenial(acct, snap, acct.ConnectionState == account.Connected); reason != ReasonNone {
		d.Reason = reason
		return d
	}

	required, ok := e.catalog.RequiredTier(featureID)
	if !ok {
		d.Reason = ReasonUnknownFeature
		return d
	}
	d.RequiredTier = required

	if acct.IsAdmin {
		d.Allowed = true
		return d
	}
	if d.Tier.AtLeast(required) {
		d.Allowed = true
		return d
	}
	d.Reason = ReasonInsufficientTier
	return d
}

// Admit decides whether acct may open a new session under snap. It applies the
// policy rules of Evaluate as if the account were not yet connected.
func (e *Evaluator) Admit(acct account.Account, snap *policy.Snapshot) Decision {
	d := Decision{Tier: acct.Tier(), SnapshotID: snap.ID()}
	if reason := policyDenial(acct, snap, false); reason != ReasonNone {
		d.Reason = reason
		return d
	}
	d.Allowed = true
	return d
}

// Retain decides whether an established session of acct may continue under
// snap. It applies the policy rules of Evaluate with the account treated as
// connected.
func (e *Evaluator) Retain(acct account.Account, snap *policy.Snapshot) Decision {
	d := Decision{Tier: acct.Tier(), SnapshotID: snap.ID()}
	if reason := policyDenial(acct, snap, true); reason != ReasonNone {
		d.Reason = reason
		return d
	}
	d.Allowed = true
	return d
}

func policyDenial(acct account.Account, snap *policy.Snapshot, connected bool) Reason {
	listed := snap.IsAllowListed(acct.Address)
	switch {
	case snap.IsDenyListed(acct.Address):
		return ReasonBlacklisted
	case acct.Status == account.StatusSuspended:
		return ReasonSuspended
	case snap.KillSwitchActive() && !acct.IsAdmin:
		return ReasonKillSwitch
	case snap.BlockAllConnectionsActive() && !acct.IsAdmin && !listed && !connected:
		return ReasonConnectionsBlocked
	case snap.WhitelistOnlyActive() && !acct.IsAdmin && !listed:
		return ReasonNotWhitelisted
	}
	return ReasonNone
}
