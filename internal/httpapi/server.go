// Package httpapi exposes the access gate and the admin command processor over
// HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/access_layer/internal/admin"
	"github.com/R3E-Network/access_layer/internal/audit"
	"github.com/R3E-Network/access_layer/internal/gate"
	"github.com/R3E-Network/access_layer/internal/logging"
	"github.com/R3E-Network/access_layer/internal/metrics"
	"github.com/R3E-Network/access_layer/internal/middleware"
)

const serviceName = "gateway"

// Config holds the HTTP surface settings.
type Config struct {
	// AuthKey verifies admin tokens: an HMAC secret ([]byte) or *rsa.PublicKey.
	AuthKey     interface{}
	RateLimit   int
	RateBurst   int
	CORSOrigins []string
	Version     string
}

// SessionHandler serves websocket sessions and closes them on request.
type SessionHandler interface {
	http.Handler
	Disconnect(addresses []string, reason string)
}

// Deps are the collaborators behind the routes. Sessions and Metrics are
// optional.
type Deps struct {
	Gate      *gate.Gate
	Processor *admin.Processor
	Audit     *audit.Log
	Sessions  SessionHandler
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
}

// Server routes requests to the gate.
type Server struct {
	deps        Deps
	cfg         Config
	router      *mux.Router
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	started     time.Time
}

// New builds the router and middleware chain.
func New(deps Deps, cfg Config) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.NewDiscard()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 50
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		deps:        deps,
		cfg:         cfg,
		router:      mux.NewRouter(),
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, deps.Logger),
		started:     time.Now(),
	}
	s.routes()

	// Metrics run inside the router so the route template is known. The
	// limiter runs ahead of authentication and keys every caller by IP.
	var h http.Handler = s.router
	h = s.rateLimiter.Handler(h)
	h = middleware.NewCORSMiddleware(cfg.CORSOrigins).Handler(h)
	h = middleware.NewTracingMiddleware(deps.Logger).Handler(h)
	s.handler = h
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// RateLimiter returns the limiter so callers can schedule its cleanup.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) routes() {
	r := s.router
	if s.deps.Metrics != nil {
		r.Use(middleware.MetricsMiddleware(serviceName, s.deps.Metrics))
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	auth := middleware.NewAuthMiddleware(s.cfg.AuthKey, s.deps.Logger, nil)
	// Connection state changes only for the wallet holding the token.
	owner := func(h http.Handler) http.Handler {
		return auth.Handler(middleware.RequireAddressOwner(h))
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/policy", s.policy).Methods(http.MethodGet)
	v1.HandleFunc("/features", s.features).Methods(http.MethodGet)
	v1.HandleFunc("/tiers", s.tiers).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{address}/features/{feature}", s.evaluate).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{address}/tier", s.tier).Methods(http.MethodGet)
	v1.Handle("/accounts/{address}/connect", owner(http.HandlerFunc(s.connect))).Methods(http.MethodPost)
	v1.Handle("/accounts/{address}/disconnect", owner(http.HandlerFunc(s.disconnect))).Methods(http.MethodPost)
	if s.deps.Sessions != nil {
		v1.Handle("/accounts/{address}/session", owner(s.deps.Sessions)).Methods(http.MethodGet)
	}

	adminRouter := v1.PathPrefix("/admin").Subrouter()
	adminRouter.Use(auth.Handler)
	adminRouter.Use(middleware.RequireUserID)
	adminRouter.HandleFunc("/commands", s.command).Methods(http.MethodPost)
	adminRouter.HandleFunc("/actions", s.actions).Methods(http.MethodGet)
	adminRouter.HandleFunc("/accounts", s.accounts).Methods(http.MethodGet)
	adminRouter.HandleFunc("/audit", s.auditLog).Methods(http.MethodGet)
}
