package admin

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/access_layer/internal/access"
	"github.com/R3E-Network/access_layer/internal/account"
	"github.com/R3E-Network/access_layer/internal/audit"
	serviceerrors "github.com/R3E-Network/access_layer/internal/errors"
	"github.com/R3E-Network/access_layer/internal/policy"
)

const rootAdmin = "root"

type recordingDisconnector struct {
	mu    sync.Mutex
	calls map[string]string
}

func (d *recordingDisconnector) Disconnect(addresses []string, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls == nil {
		d.calls = make(map[string]string)
	}
	for _, addr := range addresses {
		d.calls[addr] = reason
	}
}

func (d *recordingDisconnector) reason(addr string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.calls[addr]
	return r, ok
}

type fixture struct {
	store     *policy.Store
	registry  *account.Registry
	evaluator *access.Evaluator
	audit     *audit.Log
	severed   *recordingDisconnector
	proc      *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	balances := map[string]uint64{"whale": 2_000_000, "alice": 75_000}
	registry, err := account.NewRegistry(rootAdmin, account.BalanceFunc(func(addr string) uint64 {
		return balances[addr]
	}))
	require.NoError(t, err)

	f := &fixture{
		store:     policy.NewStore(rootAdmin),
		registry:  registry,
		evaluator: access.NewEvaluator(access.DefaultCatalog()),
		audit:     audit.NewLog(50, nil),
		severed:   &recordingDisconnector{},
	}
	f.proc = NewProcessor(f.store, f.registry, f.evaluator,
		WithAuditLog(f.audit),
		WithDisconnector(f.severed),
	)
	return f
}

// connect runs the same admission path the gateway uses.
func (f *fixture) connect(addr string) error {
	_, ok, err := f.registry.Admit(addr, func(a account.Account) bool {
		return f.evaluator.Admit(a, f.store.Current()).Allowed
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("admission denied for %s", addr)
	}
	_, err = f.registry.CompleteConnect(addr)
	return err
}

func (f *fixture) state(t *testing.T, addr string) account.ConnectionState {
	t.Helper()
	acct, err := f.registry.Get(addr)
	require.NoError(t, err)
	return acct.ConnectionState
}

func (f *fixture) exec(t *testing.T, cmd Command) Result {
	t.Helper()
	res, err := f.proc.Execute(context.Background(), rootAdmin, cmd)
	require.NoError(t, err)
	return res
}

// =============================================================================
// Authorization
// =============================================================================

func TestExecute_RequiresActiveAdmin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.connect("alice"))
	_, err := f.registry.SeedAdmin("ops")
	require.NoError(t, err)

	cmd := Command{Action: ActionSetKillSwitch, Enabled: Bool(true)}

	_, err = f.proc.Execute(context.Background(), "alice", cmd)
	assert.ErrorIs(t, err, serviceerrors.ErrNotAuthorized, "non-admin")

	_, err = f.proc.Execute(context.Background(), "stranger", cmd)
	assert.ErrorIs(t, err, serviceerrors.ErrNotAuthorized, "unregistered")

	f.exec(t, Command{Action: ActionDenyListAdd, Address: "ops"})
	_, err = f.proc.Execute(context.Background(), "ops", cmd)
	assert.ErrorIs(t, err, serviceerrors.ErrNotAuthorized, "denylisted admin")

	f.exec(t, Command{Action: ActionDenyListRemove, Address: "ops"})
	f.exec(t, Command{Action: ActionSetAccountStatus, Address: "ops", Status: "suspended"})
	_, err = f.proc.Execute(context.Background(), "ops", cmd)
	assert.ErrorIs(t, err, serviceerrors.ErrNotAuthorized, "suspended admin")

	assert.False(t, f.store.Current().KillSwitchActive())
}

func TestExecute_InvalidCommands(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		cmd  Command
		want error
	}{
		{"unknown action", Command{Action: "self_destruct"}, serviceerrors.ErrInvalidCommand},
		{"missing enabled", Command{Action: ActionSetWhitelistOnly}, serviceerrors.ErrInvalidCommand},
		{"missing address", Command{Action: ActionDenyListAdd}, serviceerrors.ErrInvalidCommand},
		{"bad status", Command{Action: ActionSetAccountStatus, Address: "alice", Status: "banned"}, serviceerrors.ErrInvalidCommand},
		{"malformed address", Command{Action: ActionAllowListAdd, Address: "has space"}, serviceerrors.ErrInvalidAddress},
		{"promote unknown", Command{Action: ActionPromoteAdmin, Address: "nobody"}, serviceerrors.ErrAccountNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			before := f.store.Current()
			_, err := f.proc.Execute(context.Background(), rootAdmin, tc.cmd)
			assert.ErrorIs(t, err, tc.want)
			assert.Same(t, before, f.store.Current(), "snapshot must not change")
		})
	}
}

// =============================================================================
// Root admin protection
// =============================================================================

func TestExecute_RootAdminProtected(t *testing.T) {
	f := newFixture(t)
	before := f.store.Current()

	cmds := []Command{
		{Action: ActionDenyListAdd, Address: rootAdmin},
		{Action: ActionAllowListRemove, Address: rootAdmin},
		{Action: ActionSetAccountStatus, Address: rootAdmin, Status: "suspended"},
		{Action: ActionDeleteAccount, Address: rootAdmin},
	}
	for _, cmd := range cmds {
		_, err := f.proc.Execute(context.Background(), rootAdmin, cmd)
		assert.ErrorIs(t, err, serviceerrors.ErrProtectedAddress, string(cmd.Action))
	}

	assert.Same(t, before, f.store.Current())
	assert.True(t, f.store.Current().IsAllowListed(rootAdmin))
	root, err := f.registry.Get(rootAdmin)
	require.NoError(t, err)
	assert.True(t, root.IsAdmin)
	assert.Equal(t, account.StatusActive, root.Status)
}

// =============================================================================
// Switches and broadcast
// =============================================================================

func TestExecute_KillSwitchSeversNonAdmins(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.connect("alice"))
	require.NoError(t, f.connect("whale"))
	require.NoError(t, f.connect(rootAdmin))

	res := f.exec(t, Command{Action: ActionSetKillSwitch, Enabled: Bool(true)})

	assert.True(t, res.Snapshot.KillSwitchActive())
	assert.Equal(t, []string{"alice", "whale"}, res.Disconnected)
	assert.Equal(t, account.Disconnected, f.state(t, "alice"))
	assert.Equal(t, account.Connected, f.state(t, rootAdmin))

	reason, ok := f.severed.reason("alice")
	assert.True(t, ok)
	assert.Equal(t, string(ActionSetKillSwitch), reason)

	// Evaluation after the kill switch.
	alice, err := f.registry.Get("alice")
	require.NoError(t, err)
	d := f.evaluator.Evaluate(alice, "whale-tracker", f.store.Current())
	assert.Equal(t, access.ReasonKillSwitch, d.Reason)
}

func TestExecute_IdempotentToggle(t *testing.T) {
	f := newFixture(t)

	first := f.exec(t, Command{Action: ActionSetMaintenanceMode, Enabled: Bool(true)})
	second := f.exec(t, Command{Action: ActionSetMaintenanceMode, Enabled: Bool(true)})

	assert.Equal(t, first.Snapshot.ID(), second.Snapshot.ID())
	assert.Same(t, first.Snapshot, second.Snapshot)
}

func TestExecute_Lockdown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.connect("alice"))
	_, err := f.registry.SeedAdmin("ops")
	require.NoError(t, err)
	require.NoError(t, f.connect("ops"))

	res := f.exec(t, Command{Action: ActionLockdown})

	assert.True(t, res.Snapshot.KillSwitchActive())
	assert.True(t, res.Snapshot.BlockAllConnectionsActive())
	assert.Equal(t, []string{"alice"}, res.Disconnected)
	assert.Equal(t, account.Connected, f.state(t, "ops"))

	assert.Error(t, f.connect("alice"), "new non-admin connections are refused")
	assert.NoError(t, f.connect(rootAdmin))
}

func TestExecute_ForceDisconnect(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.connect("alice"))
	before := f.store.Current()

	res := f.exec(t, Command{Action: ActionForceDisconnect})

	assert.Equal(t, []string{"alice"}, res.Disconnected)
	assert.Same(t, before, res.Snapshot)
	assert.NoError(t, f.connect("alice"), "force disconnect does not block reconnects")
}

func TestExecute_WhitelistOnlySeversUnlisted(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.connect("alice"))
	require.NoError(t, f.connect("whale"))
	f.exec(t, Command{Action: ActionAllowListAdd, Address: "whale"})

	res := f.exec(t, Command{Action: ActionSetWhitelistOnly, Enabled: Bool(true)})

	assert.Equal(t, []string{"alice"}, res.Disconnected)
	assert.Equal(t, account.Connected, f.state(t, "whale"))

	// Removing the whale from the allow list now severs it too.
	res = f.exec(t, Command{Action: ActionAllowListRemove, Address: "whale"})
	assert.Equal(t, []string{"whale"}, res.Disconnected)
}

func TestExecute_BlockAllKeepsListedSessionsOnLaterCommands(t *testing.T) {
	f := newFixture(t)
	f.exec(t, Command{Action: ActionAllowListAdd, Address: "whale"})
	f.exec(t, Command{Action: ActionSetBlockAllConnections, Enabled: Bool(true)})
	require.NoError(t, f.connect("whale"))

	res := f.exec(t, Command{Action: ActionDenyListAdd, Address: "mallory"})
	assert.Empty(t, res.Disconnected)
	assert.Equal(t, account.Connected, f.state(t, "whale"))
}

// =============================================================================
// Lists and accounts
// =============================================================================

func TestExecute_DenyListSeversTarget(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.connect("alice"))
	require.NoError(t, f.connect("whale"))

	res := f.exec(t, Command{Action: ActionDenyListAdd, Address: "alice"})

	assert.True(t, res.Snapshot.IsDenyListed("alice"))
	assert.Equal(t, []string{"alice"}, res.Disconnected)
	assert.Equal(t, account.Connected, f.state(t, "whale"))
	assert.Error(t, f.connect("alice"))
}

func TestExecute_DenyListedAdminLosesBypass(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.SeedAdmin("ops")
	require.NoError(t, err)
	require.NoError(t, f.connect("ops"))

	res := f.exec(t, Command{Action: ActionDenyListAdd, Address: "ops"})
	assert.Equal(t, []string{"ops"}, res.Disconnected)

	// Deny-listing a connected account.
	ops, err := f.registry.Get("ops")
	require.NoError(t, err)
	d := f.evaluator.Evaluate(ops, "whale-tracker", f.store.Current())
	assert.False(t, d.Allowed)
	assert.Equal(t, access.ReasonBlacklisted, d.Reason)
}

func TestExecute_SuspendAndReactivate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.connect("alice"))

	res := f.exec(t, Command{Action: ActionSetAccountStatus, Address: "alice", Status: "SUSPENDED"})
	require.NotNil(t, res.Account)
	assert.Equal(t, account.StatusSuspended, res.Account.Status)
	assert.Equal(t, account.Disconnected, res.Account.ConnectionState)
	assert.Equal(t, []string{"alice"}, res.Disconnected)
	assert.Error(t, f.connect("alice"))

	f.exec(t, Command{Action: ActionSetAccountStatus, Address: "alice", Status: "active"})
	assert.NoError(t, f.connect("alice"))
}

func TestExecute_DeleteAccount(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.connect("alice"))

	res := f.exec(t, Command{Action: ActionDeleteAccount, Address: "alice"})
	require.NotNil(t, res.Account)
	assert.Equal(t, account.StatusDeleted, res.Account.Status)
	assert.Equal(t, []string{"alice"}, res.Disconnected)

	_, err := f.registry.Get("alice")
	assert.ErrorIs(t, err, serviceerrors.ErrAccountNotFound)

	// A later connection creates a fresh record.
	require.NoError(t, f.connect("alice"))
	alice, err := f.registry.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, account.StatusActive, alice.Status)
	assert.False(t, alice.IsAdmin)
}

func TestExecute_PromoteAdmin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.connect("alice"))

	res := f.exec(t, Command{Action: ActionPromoteAdmin, Address: "alice"})
	require.NotNil(t, res.Account)
	assert.True(t, res.Account.IsAdmin)

	// Promoted admins may issue commands and bypass tiers.
	_, err := f.proc.Execute(context.Background(), "alice", Command{Action: ActionSetMaintenanceMode, Enabled: Bool(true)})
	assert.NoError(t, err)

	alice, err := f.registry.Get("alice")
	require.NoError(t, err)
	assert.True(t, f.evaluator.Evaluate(alice, "quantum-manipulator", f.store.Current()).Allowed)
}

// =============================================================================
// Audit
// =============================================================================

func TestExecute_Audit(t *testing.T) {
	f := newFixture(t)

	res := f.exec(t, Command{Action: ActionSetMaintenanceMode, Enabled: Bool(true)})
	assert.Nil(t, res.Audit, "not audited while logging is off")

	res = f.exec(t, Command{Action: ActionSetLogAllTransactions, Enabled: Bool(true)})
	require.NotNil(t, res.Audit, "enabling logging is audited")

	res = f.exec(t, Command{Action: ActionDenyListAdd, Address: "mallory"})
	require.NotNil(t, res.Audit)
	assert.Equal(t, rootAdmin, res.Audit.Actor)
	assert.Equal(t, "deny_list_add", res.Audit.Action)
	assert.Equal(t, "mallory", res.Audit.Parameters["address"])
	assert.Equal(t, res.Snapshot.ID(), res.Audit.SnapshotID)

	res = f.exec(t, Command{Action: ActionSetLogAllTransactions, Enabled: Bool(false)})
	require.NotNil(t, res.Audit, "disabling logging is audited")

	res = f.exec(t, Command{Action: ActionDenyListRemove, Address: "mallory"})
	assert.Nil(t, res.Audit)

	assert.Equal(t, 3, f.audit.Len())
}

// =============================================================================
// Concurrency
// =============================================================================

func TestExecute_ConcurrentCommands(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := fmt.Sprintf("user-%02d", i)
			_, err := f.proc.Execute(context.Background(), rootAdmin, Command{Action: ActionAllowListAdd, Address: addr})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap := f.store.Current()
	assert.Len(t, snap.AllowList(), 41)
	assert.Equal(t, uint64(41), snap.ID())
}

// A connection racing a lockdown is either severed or refused.
func TestExecute_ConnectRacingLockdown(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_ = f.connect(fmt.Sprintf("racer-%02d", i))
			}(i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.proc.Execute(context.Background(), rootAdmin, Command{Action: ActionLockdown})
			assert.NoError(t, err)
		}()

		close(start)
		wg.Wait()

		for _, acct := range f.registry.List() {
			if acct.IsAdmin {
				continue
			}
			assert.Equal(t, account.Disconnected, acct.ConnectionState,
				"round %d: %s still %s after lockdown", round, acct.Address, acct.ConnectionState)
		}
	}
}
