// Package gate is the entry point used by collaborators: the HTTP API, the
// session hub and product features. It binds the policy store, the account
// registry and the evaluator into per-address calls.
package gate

import (
	"github.com/R3E-Network/access_layer/internal/access"
	"github.com/R3E-Network/access_layer/internal/account"
	"github.com/R3E-Network/access_layer/internal/logging"
	"github.com/R3E-Network/access_layer/internal/metrics"
	"github.com/R3E-Network/access_layer/internal/policy"
	"github.com/R3E-Network/access_layer/internal/tier"
)

// Gate answers access questions for addresses.
type Gate struct {
	store     *policy.Store
	registry  *account.Registry
	evaluator *access.Evaluator
	log       *logging.Logger
	metrics   *metrics.Metrics
}

// Option configures a Gate.
type Option func(*Gate)

func WithLogger(l *logging.Logger) Option {
	return func(g *Gate) { g.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// New creates a gate.
func New(store *policy.Store, registry *account.Registry, evaluator *access.Evaluator, opts ...Option) *Gate {
	g := &Gate{store: store, registry: registry, evaluator: evaluator}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logging.NewDiscard()
	}
	return g
}

// Policy returns the current policy snapshot.
func (g *Gate) Policy() *policy.Snapshot {
	return g.store.Current()
}

// Features returns the feature catalog.
func (g *Gate) Features() []access.Feature {
	return g.evaluator.Catalog().Features()
}

// Account returns the account for address.
func (g *Gate) Account(address string) (account.Account, error) {
	return g.registry.Get(address)
}

// Accounts returns every registered account.
func (g *Gate) Accounts() []account.Account {
	return g.registry.List()
}

// Evaluate decides whether address may use featureID under the current policy.
// Denials are returned as a Decision; errors are reserved for malformed or
// unregistered addresses.
func (g *Gate) Evaluate(address, featureID string) (access.Decision, error) {
	acct, err := g.registry.Get(address)
	if err != nil {
		return access.Decision{}, err
	}
	d := g.evaluator.Evaluate(acct, featureID, g.store.Current())
	g.record(address, featureID, d)
	return d, nil
}

// ResolveTier returns the tier of a registered address.
func (g *Gate) ResolveTier(address string) (tier.Tier, error) {
	acct, err := g.registry.Get(address)
	if err != nil {
		return tier.Unauthorized, err
	}
	return acct.Tier(), nil
}

// Progress returns tier progress for a registered address.
func (g *Gate) Progress(address string) (tier.Progress, error) {
	acct, err := g.registry.Get(address)
	if err != nil {
		return tier.Progress{}, err
	}
	return tier.ProgressFor(acct.Balance), nil
}

// Admit starts a connection for address. When admitted the account is
// Connecting (or stays Connected); otherwise the returned decision carries the
// denial reason and no record is created for a new address.
func (g *Gate) Admit(address string) (account.Account, access.Decision, error) {
	var d access.Decision
	acct, ok, err := g.registry.Admit(address, func(candidate account.Account) bool {
		d = g.evaluator.Admit(candidate, g.store.Current())
		return d.Allowed
	})
	if err != nil {
		return account.Account{}, access.Decision{}, err
	}
	if !ok {
		g.log.WithFields(map[string]interface{}{
			"address": address,
			"reason":  string(d.Reason),
		}).Debug("connection refused")
		g.metrics.RecordDecision("deny", string(d.Reason))
	}
	return acct, d, nil
}

// CompleteConnect finishes an admitted connection.
func (g *Gate) CompleteConnect(address string) (account.Account, error) {
	acct, err := g.registry.CompleteConnect(address)
	if err != nil {
		return account.Account{}, err
	}
	g.metrics.SetConnectedSessions(g.registry.ConnectedCount())
	return acct, nil
}

// Connect admits and completes a connection in one step.
func (g *Gate) Connect(address string) (account.Account, access.Decision, error) {
	acct, d, err := g.Admit(address)
	if err != nil || !d.Allowed {
		return acct, d, err
	}
	acct, err = g.CompleteConnect(address)
	if err != nil {
		return account.Account{}, d, err
	}
	return acct, d, nil
}

// Disconnect moves address to Disconnected.
func (g *Gate) Disconnect(address string) (account.Account, error) {
	acct, err := g.registry.SetConnectionState(address, account.Disconnected)
	if err != nil {
		return account.Account{}, err
	}
	g.metrics.SetConnectedSessions(g.registry.ConnectedCount())
	return acct, nil
}

func (g *Gate) record(address, featureID string, d access.Decision) {
	g.metrics.RecordDecision(d.Outcome(), string(d.Reason))
	if d.Allowed {
		return
	}
	g.log.WithFields(map[string]interface{}{
		"address":     address,
		"feature":     featureID,
		"reason":      string(d.Reason),
		"snapshot_id": d.SnapshotID,
	}).Debug("access denied")
}
