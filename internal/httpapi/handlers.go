package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/access_layer/internal/access"
	"github.com/R3E-Network/access_layer/internal/account"
	"github.com/R3E-Network/access_layer/internal/admin"
	serviceerrors "github.com/R3E-Network/access_layer/internal/errors"
	internalhttputil "github.com/R3E-Network/access_layer/internal/httputil"
	"github.com/R3E-Network/access_layer/internal/middleware"
	"github.com/R3E-Network/access_layer/internal/tier"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// =============================================================================
// Health & Info Handlers
// =============================================================================

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Gate.Policy()
	internalhttputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"service":        serviceName,
		"version":        s.cfg.Version,
		"policy_id":      snap.ID(),
		"kill_switch":    snap.KillSwitchActive(),
		"maintenance":    snap.MaintenanceModeActive(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) policy(w http.ResponseWriter, r *http.Request) {
	internalhttputil.WriteJSON(w, http.StatusOK, s.deps.Gate.Policy())
}

func (s *Server) features(w http.ResponseWriter, r *http.Request) {
	internalhttputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"features": s.deps.Gate.Features(),
	})
}

type tierInfo struct {
	Tier      tier.Tier `json:"tier"`
	Threshold uint64    `json:"threshold"`
}

func (s *Server) tiers(w http.ResponseWriter, r *http.Request) {
	all := tier.All()
	out := make([]tierInfo, 0, len(all))
	for _, t := range all {
		out = append(out, tierInfo{Tier: t, Threshold: tier.Threshold(t)})
	}
	internalhttputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tiers": out,
	})
}

// =============================================================================
// Account Handlers
// =============================================================================

type evaluateResponse struct {
	Address  string          `json:"address"`
	Feature  string          `json:"feature"`
	Decision access.Decision `json:"decision"`
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	decision, err := s.deps.Gate.Evaluate(vars["address"], vars["feature"])
	if err != nil {
		internalhttputil.WriteError(w, r, err)
		return
	}
	internalhttputil.WriteJSON(w, http.StatusOK, evaluateResponse{
		Address:  vars["address"],
		Feature:  vars["feature"],
		Decision: decision,
	})
}

type tierResponse struct {
	Address  string        `json:"address"`
	Balance  uint64        `json:"balance"`
	Tier     tier.Tier     `json:"tier"`
	Progress tier.Progress `json:"progress"`
}

func (s *Server) tier(w http.ResponseWriter, r *http.Request) {
	acct, err := s.deps.Gate.Account(mux.Vars(r)["address"])
	if err != nil {
		internalhttputil.WriteError(w, r, err)
		return
	}
	internalhttputil.WriteJSON(w, http.StatusOK, tierResponse{
		Address:  acct.Address,
		Balance:  acct.Balance,
		Tier:     acct.Tier(),
		Progress: tier.ProgressFor(acct.Balance),
	})
}

type connectResponse struct {
	Account  *account.Account `json:"account,omitempty"`
	Decision access.Decision  `json:"decision"`
}

// connect is the session-less connection path. Refusals are 403 with the
// decision that caused them.
func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	acct, decision, err := s.deps.Gate.Connect(address)
	if err != nil {
		internalhttputil.WriteError(w, r, err)
		return
	}
	if !decision.Allowed {
		internalhttputil.WriteJSON(w, http.StatusForbidden, connectResponse{Decision: decision})
		return
	}
	internalhttputil.WriteJSON(w, http.StatusOK, connectResponse{Account: &acct, Decision: decision})
}

// disconnect also closes any open websocket of the account, so later
// broadcast disconnects never miss a live socket.
func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	acct, err := s.deps.Gate.Disconnect(address)
	if err != nil {
		internalhttputil.WriteError(w, r, err)
		return
	}
	if s.deps.Sessions != nil {
		s.deps.Sessions.Disconnect([]string{address}, "disconnected by owner")
	}
	internalhttputil.WriteJSON(w, http.StatusOK, acct)
}

// =============================================================================
// Admin Handlers
// =============================================================================

func (s *Server) command(w http.ResponseWriter, r *http.Request) {
	var cmd admin.Command
	if err := internalhttputil.DecodeJSON(r, &cmd); err != nil {
		internalhttputil.WriteError(w, r, serviceerrors.InvalidCommand("invalid request body: "+err.Error()))
		return
	}

	actor := middleware.GetUserID(r.Context())
	res, err := s.deps.Processor.Execute(r.Context(), actor, cmd)
	if err != nil {
		internalhttputil.WriteError(w, r, err)
		return
	}
	internalhttputil.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) actions(w http.ResponseWriter, r *http.Request) {
	internalhttputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"actions": admin.Actions(),
	})
}

func (s *Server) accounts(w http.ResponseWriter, r *http.Request) {
	accounts := s.deps.Gate.Accounts()
	connected := 0
	for _, a := range accounts {
		if a.ConnectionState == account.Connected {
			connected++
		}
	}
	internalhttputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts":  accounts,
		"total":     len(accounts),
		"connected": connected,
	})
}

func (s *Server) auditLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			internalhttputil.WriteError(w, r, serviceerrors.InvalidCommand("limit must be a positive integer"))
			return
		}
		limit = n
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	records := s.deps.Audit.History(r.Context(), limit)
	internalhttputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"total":   s.deps.Audit.Len(),
	})
}
