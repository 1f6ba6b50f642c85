package account

import (
	stderrors "errors"
	"sync"
	"testing"
	"time"

	serviceerrors "github.com/R3E-Network/access_layer/internal/errors"
)

const root = "root-admin"

func newTestRegistry(t *testing.T, balances map[string]uint64) *Registry {
	t.Helper()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r, err := NewRegistry(root, BalanceFunc(func(addr string) uint64 { return balances[addr] }),
		WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestNewRegistry_SeedsRootAdmin(t *testing.T) {
	r := newTestRegistry(t, nil)

	acct, err := r.Get(root)
	if err != nil {
		t.Fatalf("Get(root) error = %v", err)
	}
	if !acct.IsAdmin || acct.Status != StatusActive || acct.ConnectionState != Disconnected {
		t.Errorf("root account = %+v, want active disconnected admin", acct)
	}
}

func TestNewRegistry_RejectsInvalidRoot(t *testing.T) {
	if _, err := NewRegistry("", nil); !stderrors.Is(err, serviceerrors.ErrInvalidAddress) {
		t.Errorf("NewRegistry(\"\") error = %v, want InvalidAddress", err)
	}
}

func TestGetOrCreate(t *testing.T) {
	r := newTestRegistry(t, map[string]uint64{"alice": 75_000})

	acct, err := r.GetOrCreate("alice")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if acct.Status != StatusActive || acct.ConnectionState != Disconnected || acct.IsAdmin {
		t.Errorf("new account = %+v, want active disconnected non-admin", acct)
	}
	if acct.Balance != 75_000 {
		t.Errorf("Balance = %d, want 75000", acct.Balance)
	}

	if _, err := r.GetOrCreate("alice"); err != nil {
		t.Fatalf("second GetOrCreate() error = %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	// Addresses are case-sensitive.
	if _, err := r.Get("ALICE"); !stderrors.Is(err, serviceerrors.ErrAccountNotFound) {
		t.Errorf("Get(ALICE) error = %v, want AccountNotFound", err)
	}
}

func TestRootAdminProtection(t *testing.T) {
	r := newTestRegistry(t, nil)

	if err := r.Delete(root); !stderrors.Is(err, serviceerrors.ErrProtectedAddress) {
		t.Errorf("Delete(root) error = %v, want ProtectedAddress", err)
	}
	if _, err := r.SetStatus(root, StatusDeleted); !stderrors.Is(err, serviceerrors.ErrProtectedAddress) {
		t.Errorf("SetStatus(root, deleted) error = %v, want ProtectedAddress", err)
	}
	if _, err := r.SetStatus(root, StatusSuspended); !stderrors.Is(err, serviceerrors.ErrProtectedAddress) {
		t.Errorf("SetStatus(root, suspended) error = %v, want ProtectedAddress", err)
	}

	acct, _ := r.Get(root)
	if !acct.IsAdmin || acct.Status != StatusActive {
		t.Errorf("root account changed: %+v", acct)
	}
}

func TestSetStatus_SuspensionKeepsAdminAndBalance(t *testing.T) {
	r := newTestRegistry(t, map[string]uint64{"ops": 500})
	if _, err := r.SeedAdmin("ops"); err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}

	acct, err := r.SetStatus("ops", StatusSuspended)
	if err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if acct.Status != StatusSuspended || !acct.IsAdmin || acct.Balance != 500 {
		t.Errorf("suspended account = %+v", acct)
	}

	acct, err = r.SetStatus("ops", StatusActive)
	if err != nil {
		t.Fatalf("SetStatus(active) error = %v", err)
	}
	if acct.Status != StatusActive {
		t.Errorf("Status = %v, want active", acct.Status)
	}
}

func TestDelete_StartsFresh(t *testing.T) {
	r := newTestRegistry(t, nil)
	r.GetOrCreate("bob")
	r.PromoteToAdmin("bob")
	r.SetStatus("bob", StatusSuspended)

	deleted, err := r.SetStatus("bob", StatusDeleted)
	if err != nil {
		t.Fatalf("SetStatus(deleted) error = %v", err)
	}
	if deleted.Status != StatusDeleted {
		t.Errorf("Status = %v, want deleted", deleted.Status)
	}
	if _, err := r.Get("bob"); !stderrors.Is(err, serviceerrors.ErrAccountNotFound) {
		t.Fatalf("Get(bob) after delete error = %v, want AccountNotFound", err)
	}

	fresh, _ := r.GetOrCreate("bob")
	if fresh.IsAdmin || fresh.Status != StatusActive {
		t.Errorf("recreated account retained history: %+v", fresh)
	}
}

func TestPromoteToAdmin(t *testing.T) {
	r := newTestRegistry(t, nil)

	if _, err := r.PromoteToAdmin("ghost"); !stderrors.Is(err, serviceerrors.ErrAccountNotFound) {
		t.Errorf("PromoteToAdmin(ghost) error = %v, want AccountNotFound", err)
	}

	r.GetOrCreate("carol")
	for i := 0; i < 2; i++ {
		acct, err := r.PromoteToAdmin("carol")
		if err != nil {
			t.Fatalf("PromoteToAdmin() error = %v", err)
		}
		if !acct.IsAdmin {
			t.Error("IsAdmin = false after promotion")
		}
	}
}

func TestSetConnectionState(t *testing.T) {
	r := newTestRegistry(t, nil)
	r.GetOrCreate("dave")

	steps := []struct {
		to      ConnectionState
		wantErr bool
	}{
		{Connecting, false},
		{Connected, false},
		{Connecting, true},
		{Connected, false},
		{Disconnected, false},
		{Connected, false},
	}

	for i, s := range steps {
		_, err := r.SetConnectionState("dave", s.to)
		if (err != nil) != s.wantErr {
			t.Fatalf("step %d: SetConnectionState(%v) error = %v, wantErr %v", i, s.to, err, s.wantErr)
		}
		if err != nil && !stderrors.Is(err, serviceerrors.ErrInvalidTransition) {
			t.Errorf("step %d: error = %v, want InvalidTransition", i, err)
		}
	}
}

func TestAdmit(t *testing.T) {
	r := newTestRegistry(t, nil)

	_, ok, err := r.Admit("eve", func(Account) bool { return false })
	if err != nil || ok {
		t.Fatalf("Admit(refused) = %v, %v", ok, err)
	}
	if _, err := r.Get("eve"); !stderrors.Is(err, serviceerrors.ErrAccountNotFound) {
		t.Error("refused attempt created a record")
	}

	acct, ok, err := r.Admit("eve", func(Account) bool { return true })
	if err != nil || !ok {
		t.Fatalf("Admit(allowed) = %v, %v", ok, err)
	}
	if acct.ConnectionState != Connecting {
		t.Errorf("ConnectionState = %v, want connecting", acct.ConnectionState)
	}

	acct, err = r.CompleteConnect("eve")
	if err != nil {
		t.Fatalf("CompleteConnect() error = %v", err)
	}
	if acct.ConnectionState != Connected {
		t.Errorf("ConnectionState = %v, want connected", acct.ConnectionState)
	}

	if _, _, err := r.Admit("", func(Account) bool { return true }); !stderrors.Is(err, serviceerrors.ErrInvalidAddress) {
		t.Errorf("Admit(\"\") error = %v, want InvalidAddress", err)
	}
}

func TestCompleteConnect_FailsAfterSever(t *testing.T) {
	r := newTestRegistry(t, nil)
	r.Admit("frank", func(Account) bool { return true })

	severed := r.DisconnectWhere(func(a Account) bool { return !a.IsAdmin })
	if len(severed) != 1 || severed[0] != "frank" {
		t.Fatalf("DisconnectWhere() = %v, want [frank]", severed)
	}

	if _, err := r.CompleteConnect("frank"); !stderrors.Is(err, serviceerrors.ErrInvalidTransition) {
		t.Errorf("CompleteConnect() error = %v, want InvalidTransition", err)
	}
}

func TestDisconnectWhere_SparesAdmins(t *testing.T) {
	r := newTestRegistry(t, nil)
	for _, addr := range []string{"u1", "u2", "u3"} {
		r.Admit(addr, func(Account) bool { return true })
		r.CompleteConnect(addr)
	}
	r.Admit(root, func(Account) bool { return true })
	r.CompleteConnect(root)

	severed := r.DisconnectWhere(func(a Account) bool { return !a.IsAdmin })
	if len(severed) != 3 {
		t.Fatalf("DisconnectWhere() = %v, want 3 addresses", severed)
	}
	if r.ConnectedCount() != 1 {
		t.Errorf("ConnectedCount() = %d, want 1", r.ConnectedCount())
	}
	acct, _ := r.Get(root)
	if acct.ConnectionState != Connected {
		t.Error("root admin was disconnected")
	}
}

func TestRegistry_ConcurrentAdmitAndSever(t *testing.T) {
	r := newTestRegistry(t, nil)
	var blocked bool
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := string(rune('a'+i%26)) + "-user"
			r.Admit(addr, func(Account) bool {
				mu.Lock()
				defer mu.Unlock()
				return !blocked
			})
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		mu.Lock()
		blocked = true
		mu.Unlock()
		r.DisconnectWhere(func(a Account) bool { return !a.IsAdmin })
	}()
	wg.Wait()

	// Everything admitted before the sever was disconnected, and nothing was
	// admitted after it.
	if n := r.ConnectedCount(); n != 0 {
		t.Errorf("ConnectedCount() = %d, want 0", n)
	}
	for _, a := range r.List() {
		if !a.IsAdmin && a.ConnectionState != Disconnected {
			t.Errorf("%s left in state %v", a.Address, a.ConnectionState)
		}
	}
}
