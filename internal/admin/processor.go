package admin

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/access_layer/internal/access"
	"github.com/R3E-Network/access_layer/internal/account"
	"github.com/R3E-Network/access_layer/internal/audit"
	serviceerrors "github.com/R3E-Network/access_layer/internal/errors"
	"github.com/R3E-Network/access_layer/internal/logging"
	"github.com/R3E-Network/access_layer/internal/metrics"
	"github.com/R3E-Network/access_layer/internal/policy"
)

// Disconnector is notified of sessions severed by a command. It is called after
// the command has committed and outside the processor lock.
type Disconnector interface {
	Disconnect(addresses []string, reason string)
}

// Processor applies admin commands. Commands are serialized: each runs
// entirely under one mutex spanning the policy store and the registry, and
// either fully applies or leaves both untouched.
type Processor struct {
	mu sync.Mutex

	store     *policy.Store
	registry  *account.Registry
	evaluator *access.Evaluator

	audit        *audit.Log
	disconnector Disconnector
	log          *logging.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithAuditLog records audited commands in l.
func WithAuditLog(l *audit.Log) Option {
	return func(p *Processor) { p.audit = l }
}

// WithDisconnector sets the receiver of disconnect notifications.
func WithDisconnector(d Disconnector) Option {
	return func(p *Processor) { p.disconnector = d }
}

// WithLogger sets the logger for command outcomes.
func WithLogger(l *logging.Logger) Option {
	return func(p *Processor) { p.log = l }
}

// WithMetrics records command counts and policy generations in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithClock overrides the time source used for audit records.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a processor over store and registry.
func NewProcessor(store *policy.Store, registry *account.Registry, evaluator *access.Evaluator, opts ...Option) *Processor {
	p := &Processor{
		store:     store,
		registry:  registry,
		evaluator: evaluator,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logging.NewDiscard()
	}
	return p
}

// Execute runs cmd on behalf of actor.
func (p *Processor) Execute(ctx context.Context, actor string, cmd Command) (Result, error) {
	start := time.Now()
	res, err := p.execute(ctx, actor, cmd)

	entry := p.log.WithContext(ctx).WithFields(map[string]interface{}{
		"actor":       actor,
		"action":      string(cmd.Action),
		"address":     cmd.Address,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		code := "INTERNAL"
		if se := serviceerrors.GetServiceError(err); se != nil {
			code = string(se.Code)
		}
		p.metrics.RecordAdminCommand(string(cmd.Action), code)
		entry.WithError(err).Warn("admin command rejected")
		return Result{}, err
	}

	p.metrics.RecordAdminCommand(string(cmd.Action), "ok")
	p.metrics.SetPolicyGeneration(res.Snapshot.ID())
	p.metrics.RecordSevered(len(res.Disconnected))
	p.metrics.SetConnectedSessions(p.registry.ConnectedCount())
	entry.WithFields(map[string]interface{}{
		"snapshot_id":  res.Snapshot.ID(),
		"disconnected": len(res.Disconnected),
	}).Info("admin command executed")

	if len(res.Disconnected) > 0 && p.disconnector != nil {
		p.disconnector.Disconnect(res.Disconnected, string(cmd.Action))
	}
	return res, nil
}

func (p *Processor) execute(ctx context.Context, actor string, cmd Command) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	before := p.store.Current()
	if err := p.authorize(ctx, actor, before); err != nil {
		return Result{}, err
	}

	res := Result{Action: cmd.Action, Snapshot: before}
	var err error

	switch {
	case switchActions[cmd.Action] != nil:
		err = p.applySwitch(cmd, &res)
	case listActions[cmd.Action] != nil:
		err = p.applyList(cmd, &res)
	case cmd.Action == ActionSetAccountStatus:
		err = p.setStatus(cmd, &res)
	case cmd.Action == ActionDeleteAccount:
		cmd.Status = account.StatusDeleted.String()
		err = p.setStatus(cmd, &res)
	case cmd.Action == ActionPromoteAdmin:
		err = p.promote(cmd, &res)
	case cmd.Action == ActionForceDisconnect:
		res.Disconnected = p.severNonAdmins()
	case cmd.Action == ActionLockdown:
		err = p.lockdown(&res)
	default:
		err = serviceerrors.InvalidCommand("unknown action " + string(cmd.Action))
	}
	if err != nil {
		return Result{}, err
	}

	if p.audit != nil && (before.LogAllTransactionsActive() || res.Snapshot.LogAllTransactionsActive()) {
		rec := audit.NewRecord(actor, string(cmd.Action), cmd.params(), res.Snapshot.ID(), p.now())
		p.audit.Add(rec)
		res.Audit = &rec
	}
	return res, nil
}

// authorize requires actor to be a registered, active, non-denylisted admin.
func (p *Processor) authorize(ctx context.Context, actor string, snap *policy.Snapshot) error {
	acct, err := p.registry.Get(actor)
	if err == nil && acct.IsAdmin && acct.Status == account.StatusActive && !snap.IsDenyListed(actor) {
		return nil
	}
	p.log.LogSecurityEvent(ctx, "admin_command_denied", map[string]interface{}{"actor": actor})
	return serviceerrors.NotAuthorized(actor)
}

func (p *Processor) applySwitch(cmd Command, res *Result) error {
	enabled, err := requireEnabled(cmd)
	if err != nil {
		return err
	}
	snap, err := p.store.Apply(switchActions[cmd.Action](enabled))
	if err != nil {
		return err
	}
	res.Snapshot = snap

	switch {
	case !enabled:
	case cmd.Action == ActionSetKillSwitch, cmd.Action == ActionSetBlockAllConnections:
		res.Disconnected = p.severNonAdmins()
	case cmd.Action == ActionSetWhitelistOnly:
		res.Disconnected = p.severDenied(snap)
	}
	return nil
}

func (p *Processor) applyList(cmd Command, res *Result) error {
	if err := requireAddress(cmd); err != nil {
		return err
	}
	if err := p.registry.Validate(cmd.Address); err != nil {
		return err
	}
	snap, err := p.store.Apply(listActions[cmd.Action](cmd.Address))
	if err != nil {
		return err
	}
	res.Snapshot = snap
	res.Disconnected = p.severDenied(snap)
	return nil
}

func (p *Processor) setStatus(cmd Command, res *Result) error {
	if err := requireAddress(cmd); err != nil {
		return err
	}
	status, err := account.ParseStatus(cmd.Status)
	if err != nil {
		return serviceerrors.InvalidCommand(err.Error())
	}
	acct, err := p.registry.SetStatus(cmd.Address, status)
	if err != nil {
		return err
	}

	if status == account.StatusDeleted {
		// The record is gone, so the broadcast cannot see it.
		if acct.ConnectionState != account.Disconnected {
			res.Disconnected = []string{acct.Address}
		}
		acct.ConnectionState = account.Disconnected
	} else {
		res.Disconnected = p.severDenied(res.Snapshot)
		if len(res.Disconnected) > 0 {
			if refreshed, err := p.registry.Get(cmd.Address); err == nil {
				acct = refreshed
			}
		}
	}
	res.Account = &acct
	return nil
}

func (p *Processor) promote(cmd Command, res *Result) error {
	if err := requireAddress(cmd); err != nil {
		return err
	}
	acct, err := p.registry.PromoteToAdmin(cmd.Address)
	if err != nil {
		return err
	}
	res.Account = &acct
	return nil
}

func (p *Processor) lockdown(res *Result) error {
	snap, err := p.store.Apply(policy.SetKillSwitch(true), policy.SetBlockAllConnections(true))
	if err != nil {
		return err
	}
	res.Snapshot = snap
	res.Disconnected = p.severNonAdmins()
	return nil
}

func (p *Processor) severNonAdmins() []string {
	return p.registry.DisconnectWhere(func(a account.Account) bool { return !a.IsAdmin })
}

// severDenied disconnects every session the snapshot no longer permits.
func (p *Processor) severDenied(snap *policy.Snapshot) []string {
	return p.registry.DisconnectWhere(func(a account.Account) bool {
		return !p.evaluator.Retain(a, snap).Allowed
	})
}
