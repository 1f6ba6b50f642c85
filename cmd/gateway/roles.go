package main

import (
	"strings"

	"github.com/R3E-Network/access_layer/internal/config"
)

const (
	roleRootAdmin = "root_admin"
	roleAdmin     = "admin"
)

// roleResolver maps configured addresses to the role carried in minted tokens.
// The processor still checks the live registry on every command.
type roleResolver struct {
	root   string
	admins map[string]struct{}
}

func newRoleResolver(cfg *config.Config) *roleResolver {
	return &roleResolver{
		root:   strings.TrimSpace(cfg.RootAdmin),
		admins: parseCSVSet(cfg.AdminAddresses),
	}
}

func (r *roleResolver) resolve(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	if address == r.root {
		return roleRootAdmin
	}
	if _, ok := r.admins[address]; ok {
		return roleAdmin
	}
	return ""
}

func parseCSVSet(raw string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, part := range config.SplitCSV(raw) {
		out[part] = struct{}{}
	}
	return out
}
