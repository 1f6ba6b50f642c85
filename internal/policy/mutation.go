package policy

import (
	serviceerrors "github.com/R3E-Network/access_layer/internal/errors"
)

// Draft is the working copy a Mutation edits. It is only valid inside Store.Apply.
type Draft struct {
	next    *Snapshot
	changed bool
}

// Changed reports whether any mutation altered the draft.
func (d *Draft) Changed() bool { return d.changed }

func (d *Draft) setBool(field *bool, v bool) {
	if *field != v {
		*field = v
		d.changed = true
	}
}

func (d *Draft) add(set map[string]struct{}, address string) {
	if _, ok := set[address]; ok {
		return
	}
	set[address] = struct{}{}
	d.changed = true
}

func (d *Draft) remove(set map[string]struct{}, address string) {
	if _, ok := set[address]; !ok {
		return
	}
	delete(set, address)
	d.changed = true
}

// Mutation edits a draft. Returning an error aborts the whole Apply call.
type Mutation func(*Draft) error

// SetKillSwitch turns the global kill switch on or off.
func SetKillSwitch(active bool) Mutation {
	return func(d *Draft) error { d.setBool(&d.next.killSwitch, active); return nil }
}

// SetMaintenanceMode toggles maintenance mode.
func SetMaintenanceMode(active bool) Mutation {
	return func(d *Draft) error { d.setBool(&d.next.maintenance, active); return nil }
}

// SetBlockAllConnections toggles refusal of every non-admin connection.
func SetBlockAllConnections(active bool) Mutation {
	return func(d *Draft) error { d.setBool(&d.next.blockAll, active); return nil }
}

// SetWhitelistOnly restricts non-admin access to allow-listed addresses.
func SetWhitelistOnly(active bool) Mutation {
	return func(d *Draft) error { d.setBool(&d.next.whitelistOnly, active); return nil }
}

// SetLogAllTransactions toggles transaction logging.
func SetLogAllTransactions(active bool) Mutation {
	return func(d *Draft) error { d.setBool(&d.next.logAll, active); return nil }
}

// AddToAllowList adds address to the allow list. Adding a present address is a no-op.
func AddToAllowList(address string) Mutation {
	return func(d *Draft) error {
		d.add(d.next.allow, address)
		return nil
	}
}

// RemoveFromAllowList removes address from the allow list. The root admin can
// never be removed.
func RemoveFromAllowList(address string) Mutation {
	return func(d *Draft) error {
		if address == d.next.rootAdmin {
			return serviceerrors.ProtectedAddress(address, "allow list removal")
		}
		d.remove(d.next.allow, address)
		return nil
	}
}

// AddToDenyList adds address to the deny list. The root admin can never be added.
func AddToDenyList(address string) Mutation {
	return func(d *Draft) error {
		if address == d.next.rootAdmin {
			return serviceerrors.ProtectedAddress(address, "deny listing")
		}
		d.add(d.next.deny, address)
		return nil
	}
}

// RemoveFromDenyList removes address from the deny list. Removing an absent
// address is a no-op.
func RemoveFromDenyList(address string) Mutation {
	return func(d *Draft) error {
		d.remove(d.next.deny, address)
		return nil
	}
}
