package account

import (
	"fmt"
	"sort"
	"sync"
	"time"

	serviceerrors "github.com/R3E-Network/access_layer/internal/errors"
)

type record struct {
	address   string
	isAdmin   bool
	status    Status
	conn      ConnectionState
	createdAt time.Time
	updatedAt time.Time
}

// Registry owns every account record. All methods are safe for concurrent use
// and return copies, never references into the registry.
type Registry struct {
	mu        sync.RWMutex
	records   map[string]*record
	rootAdmin string
	balances  BalanceSource
	validator Validator
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithValidator sets the address validator. The default is OpaqueValidator.
func WithValidator(v Validator) Option {
	return func(r *Registry) { r.validator = v }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry pre-seeded with the root admin.
func NewRegistry(rootAdmin string, balances BalanceSource, opts ...Option) (*Registry, error) {
	r := &Registry{
		records:   make(map[string]*record),
		rootAdmin: rootAdmin,
		balances:  balances,
		validator: OpaqueValidator{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.balances == nil {
		r.balances = BalanceFunc(func(string) uint64 { return 0 })
	}
	if err := r.validator.Validate(rootAdmin); err != nil {
		return nil, fmt.Errorf("root admin: %w", err)
	}

	now := r.now().UTC()
	r.records[rootAdmin] = &record{
		address:   rootAdmin,
		isAdmin:   true,
		status:    StatusActive,
		conn:      Disconnected,
		createdAt: now,
		updatedAt: now,
	}
	return r, nil
}

// RootAdmin returns the protected root admin address.
func (r *Registry) RootAdmin() string {
	return r.rootAdmin
}

// Validate checks addr with the configured validator.
func (r *Registry) Validate(addr string) error {
	return r.validator.Validate(addr)
}

func (r *Registry) toAccount(rec *record) Account {
	return Account{
		Address:         rec.address,
		Balance:         r.balances.BalanceOf(rec.address),
		IsAdmin:         rec.isAdmin,
		Status:          rec.status,
		ConnectionState: rec.conn,
		CreatedAt:       rec.createdAt,
		UpdatedAt:       rec.updatedAt,
	}
}

func (r *Registry) newRecord(addr string) *record {
	now := r.now().UTC()
	return &record{
		address:   addr,
		status:    StatusActive,
		conn:      Disconnected,
		createdAt: now,
		updatedAt: now,
	}
}

// lookup returns the record for addr. Callers must hold r.mu.
func (r *Registry) lookup(addr string) (*record, error) {
	if err := r.validator.Validate(addr); err != nil {
		return nil, err
	}
	rec, ok := r.records[addr]
	if !ok {
		return nil, serviceerrors.AccountNotFound(addr)
	}
	return rec, nil
}

// Get returns the account for addr.
func (r *Registry) Get(addr string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, err := r.lookup(addr)
	if err != nil {
		return Account{}, err
	}
	return r.toAccount(rec), nil
}

// GetOrCreate returns the account for addr, creating an active, disconnected
// record if none exists.
func (r *Registry) GetOrCreate(addr string) (Account, error) {
	if err := r.validator.Validate(addr); err != nil {
		return Account{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[addr]
	if !ok {
		rec = r.newRecord(addr)
		r.records[addr] = rec
	}
	return r.toAccount(rec), nil
}

// SeedAdmin creates addr if needed and marks it admin. Used at startup for
// configured administrators.
func (r *Registry) SeedAdmin(addr string) (Account, error) {
	if _, err := r.GetOrCreate(addr); err != nil {
		return Account{}, err
	}
	return r.PromoteToAdmin(addr)
}

// List returns every account ordered by address.
func (r *Registry) List() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Account, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, r.toAccount(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Len returns the number of registered accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// ConnectedCount returns the number of accounts in the Connected state.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.records {
		if rec.conn == Connected {
			n++
		}
	}
	return n
}

// SetStatus changes the administrative status of addr. StatusDeleted removes
// the record. The root admin can be neither suspended nor deleted. Suspension
// keeps the admin flag.
func (r *Registry) SetStatus(addr string, status Status) (Account, error) {
	if status == StatusDeleted {
		acct, err := r.remove(addr)
		if err != nil {
			return Account{}, err
		}
		acct.Status = StatusDeleted
		return acct, nil
	}
	if status != StatusActive && status != StatusSuspended {
		return Account{}, serviceerrors.InvalidCommand(fmt.Sprintf("unsupported status %s", status))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookup(addr)
	if err != nil {
		return Account{}, err
	}
	if addr == r.rootAdmin && status != StatusActive {
		return Account{}, serviceerrors.ProtectedAddress(addr, "suspension")
	}
	if rec.status != status {
		rec.status = status
		rec.updatedAt = r.now().UTC()
	}
	return r.toAccount(rec), nil
}

// PromoteToAdmin grants admin privileges. There is no inverse operation.
func (r *Registry) PromoteToAdmin(addr string) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookup(addr)
	if err != nil {
		return Account{}, err
	}
	if !rec.isAdmin {
		rec.isAdmin = true
		rec.updatedAt = r.now().UTC()
	}
	return r.toAccount(rec), nil
}

// Delete removes addr. A later connection creates a fresh record.
func (r *Registry) Delete(addr string) error {
	_, err := r.remove(addr)
	return err
}

func (r *Registry) remove(addr string) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookup(addr)
	if err != nil {
		return Account{}, err
	}
	if addr == r.rootAdmin {
		return Account{}, serviceerrors.ProtectedAddress(addr, "deletion")
	}
	acct := r.toAccount(rec)
	delete(r.records, addr)
	return acct, nil
}

// SetConnectionState moves addr to state if the transition is allowed.
func (r *Registry) SetConnectionState(addr string, state ConnectionState) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookup(addr)
	if err != nil {
		return Account{}, err
	}
	if !CanTransition(rec.conn, state) {
		return Account{}, serviceerrors.InvalidTransition(rec.conn.String(), state.String())
	}
	if rec.conn != state {
		rec.conn = state
		rec.updatedAt = r.now().UTC()
	}
	return r.toAccount(rec), nil
}

// AdmitFunc decides whether a connection attempt may proceed. It runs with the
// registry write lock held and must not call back into the registry.
type AdmitFunc func(candidate Account) bool

// Admit runs a connection attempt for addr. The admit decision and the move to
// Connecting happen under one lock, so a concurrent DisconnectWhere either
// sees the attempt or runs before admit is consulted. An unknown address is
// offered to admit as a fresh record and only stored when admitted. Already
// connected accounts stay Connected.
func (r *Registry) Admit(addr string, admit AdmitFunc) (Account, bool, error) {
	if err := r.validator.Validate(addr); err != nil {
		return Account{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[addr]
	if !exists {
		rec = r.newRecord(addr)
	}
	candidate := r.toAccount(rec)
	if !admit(candidate) {
		return candidate, false, nil
	}

	if !exists {
		r.records[addr] = rec
	}
	if rec.conn == Disconnected {
		rec.conn = Connecting
		rec.updatedAt = r.now().UTC()
	}
	return r.toAccount(rec), true, nil
}

// CompleteConnect finishes an admitted attempt (Connecting -> Connected). It
// fails if the attempt was severed in the meantime.
func (r *Registry) CompleteConnect(addr string) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookup(addr)
	if err != nil {
		return Account{}, err
	}
	switch rec.conn {
	case Connected:
	case Connecting:
		rec.conn = Connected
		rec.updatedAt = r.now().UTC()
	default:
		return Account{}, serviceerrors.InvalidTransition(rec.conn.String(), Connected.String())
	}
	return r.toAccount(rec), nil
}

// DisconnectWhere moves every connecting or connected account matching pred to
// Disconnected and returns the affected addresses in order.
func (r *Registry) DisconnectWhere(pred func(Account) bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var severed []string
	now := r.now().UTC()
	for addr, rec := range r.records {
		if rec.conn == Disconnected {
			continue
		}
		if !pred(r.toAccount(rec)) {
			continue
		}
		rec.conn = Disconnected
		rec.updatedAt = now
		severed = append(severed, addr)
	}
	sort.Strings(severed)
	return severed
}
