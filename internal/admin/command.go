// Package admin executes privileged commands against the policy store and the
// account registry.
package admin

import (
	"strconv"

	"github.com/R3E-Network/access_layer/internal/account"
	"github.com/R3E-Network/access_layer/internal/audit"
	serviceerrors "github.com/R3E-Network/access_layer/internal/errors"
	"github.com/R3E-Network/access_layer/internal/policy"
)

// Action names an admin command.
type Action string

const (
	ActionSetKillSwitch          Action = "set_kill_switch"
	ActionSetMaintenanceMode     Action = "set_maintenance_mode"
	ActionSetBlockAllConnections Action = "set_block_all_connections"
	ActionSetWhitelistOnly       Action = "set_whitelist_only"
	ActionSetLogAllTransactions  Action = "set_log_all_transactions"
	ActionAllowListAdd           Action = "allow_list_add"
	ActionAllowListRemove        Action = "allow_list_remove"
	ActionDenyListAdd            Action = "deny_list_add"
	ActionDenyListRemove         Action = "deny_list_remove"
	ActionSetAccountStatus       Action = "set_account_status"
	ActionPromoteAdmin           Action = "promote_admin"
	ActionDeleteAccount          Action = "delete_account"
	ActionForceDisconnect        Action = "force_disconnect"
	ActionLockdown               Action = "lockdown"
)

var switchActions = map[Action]func(bool) policy.Mutation{
	ActionSetKillSwitch:          policy.SetKillSwitch,
	ActionSetMaintenanceMode:     policy.SetMaintenanceMode,
	ActionSetBlockAllConnections: policy.SetBlockAllConnections,
	ActionSetWhitelistOnly:       policy.SetWhitelistOnly,
	ActionSetLogAllTransactions:  policy.SetLogAllTransactions,
}

var listActions = map[Action]func(string) policy.Mutation{
	ActionAllowListAdd:    policy.AddToAllowList,
	ActionAllowListRemove: policy.RemoveFromAllowList,
	ActionDenyListAdd:     policy.AddToDenyList,
	ActionDenyListRemove:  policy.RemoveFromDenyList,
}

// Actions returns every supported action.
func Actions() []Action {
	return []Action{
		ActionSetKillSwitch, ActionSetMaintenanceMode, ActionSetBlockAllConnections,
		ActionSetWhitelistOnly, ActionSetLogAllTransactions,
		ActionAllowListAdd, ActionAllowListRemove, ActionDenyListAdd, ActionDenyListRemove,
		ActionSetAccountStatus, ActionPromoteAdmin, ActionDeleteAccount,
		ActionForceDisconnect, ActionLockdown,
	}
}

// Command is a single admin request. Enabled is required by the switch
// actions, Address by the list and account actions, Status by
// set_account_status.
type Command struct {
	Action  Action `json:"action"`
	Address string `json:"address,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Bool returns a pointer to v, for building commands.
func Bool(v bool) *bool {
	return &v
}

// params renders the command arguments for the audit record.
func (c Command) params() map[string]string {
	out := make(map[string]string, 3)
	if c.Address != "" {
		out["address"] = c.Address
	}
	if c.Enabled != nil {
		out["enabled"] = strconv.FormatBool(*c.Enabled)
	}
	if c.Status != "" {
		out["status"] = c.Status
	}
	return out
}

// Result describes the effect of a successful command.
type Result struct {
	Action       Action           `json:"action"`
	Snapshot     *policy.Snapshot `json:"policy"`
	Account      *account.Account `json:"account,omitempty"`
	Disconnected []string         `json:"disconnected,omitempty"`
	Audit        *audit.Record    `json:"audit,omitempty"`
}

func requireEnabled(c Command) (bool, error) {
	if c.Enabled == nil {
		return false, serviceerrors.InvalidCommand(string(c.Action) + ": enabled is required")
	}
	return *c.Enabled, nil
}

func requireAddress(c Command) error {
	if c.Address == "" {
		return serviceerrors.InvalidCommand(string(c.Action) + ": address is required")
	}
	return nil
}
