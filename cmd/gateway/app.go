package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/access_layer/internal/access"
	"github.com/R3E-Network/access_layer/internal/account"
	"github.com/R3E-Network/access_layer/internal/admin"
	"github.com/R3E-Network/access_layer/internal/audit"
	"github.com/R3E-Network/access_layer/internal/config"
	"github.com/R3E-Network/access_layer/internal/gate"
	"github.com/R3E-Network/access_layer/internal/httpapi"
	"github.com/R3E-Network/access_layer/internal/logging"
	"github.com/R3E-Network/access_layer/internal/metrics"
	"github.com/R3E-Network/access_layer/internal/middleware"
	"github.com/R3E-Network/access_layer/internal/oracle"
	"github.com/R3E-Network/access_layer/internal/policy"
	"github.com/R3E-Network/access_layer/internal/session"
)

const limiterCleanupInterval = 5 * time.Minute

// app owns every long-lived component of the gateway.
type app struct {
	cfg    *config.Config
	logger *logging.Logger

	registry  *account.Registry
	book      *oracle.BalanceBook
	refresher *oracle.Refresher
	auditLog  *audit.Log
	hub       *session.Hub
	api       *httpapi.Server
	server    *http.Server

	fileSink *audit.FileSink
	db       *sqlx.DB
	redis    *redis.Client

	stopCleanup chan struct{}
}

func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, stopCleanup: make(chan struct{})}

	validator, err := account.NewValidator(cfg.AddressFormat)
	if err != nil {
		return nil, err
	}

	catalog := access.DefaultCatalog()
	if cfg.CatalogPath != "" {
		if catalog, err = access.LoadCatalog(cfg.CatalogPath); err != nil {
			return nil, err
		}
	}
	logger.WithField("features", catalog.Len()).Info("feature catalog loaded")

	initial := map[string]uint64{}
	if cfg.BalancesFile != "" {
		if initial, err = config.LoadBalances(cfg.BalancesFile); err != nil {
			return nil, err
		}
	}
	a.book = oracle.NewBalanceBook(initial)

	a.registry, err = account.NewRegistry(cfg.RootAdmin, a.book, account.WithValidator(validator))
	if err != nil {
		return nil, fmt.Errorf("create registry: %w", err)
	}
	for _, addr := range cfg.Admins() {
		if _, err := a.registry.SeedAdmin(addr); err != nil {
			return nil, fmt.Errorf("seed admin %s: %w", addr, err)
		}
	}

	store := policy.NewStore(cfg.RootAdmin)
	evaluator := access.NewEvaluator(catalog)
	m := metrics.New("access_gate")
	m.SetPolicyGeneration(store.Current().ID())

	sinks, reader, err := a.openSinks(ctx)
	if err != nil {
		a.closeSinks()
		return nil, err
	}
	a.auditLog = audit.NewLog(cfg.AuditCapacity, logger, sinks...)
	if reader != nil {
		a.auditLog.SetReader(reader)
	}

	g := gate.New(store, a.registry, evaluator, gate.WithLogger(logger), gate.WithMetrics(m))

	origins := cfg.Origins()
	a.hub = session.NewHub(g,
		session.WithLogger(logger),
		session.WithCheckOrigin(originChecker(origins)),
		session.WithPingInterval(cfg.SessionPingInterval),
	)

	proc := admin.NewProcessor(store, a.registry, evaluator,
		admin.WithAuditLog(a.auditLog),
		admin.WithDisconnector(a.hub),
		admin.WithLogger(logger),
		admin.WithMetrics(m),
	)

	a.api = httpapi.New(httpapi.Deps{
		Gate:      g,
		Processor: proc,
		Audit:     a.auditLog,
		Sessions:  a.hub,
		Metrics:   m,
		Logger:    logger,
	}, httpapi.Config{
		AuthKey:     []byte(cfg.JWTSecret),
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
		CORSOrigins: origins,
		Version:     cfg.Version,
	})

	if cfg.OracleURL != "" {
		a.refresher = oracle.NewRefresher(oracle.RefresherConfig{
			Book: a.book,
			Fetcher: oracle.NewClient(oracle.ClientConfig{
				BaseURL: cfg.OracleURL,
				APIKey:  cfg.OracleAPIKey,
				Timeout: cfg.OracleTimeout,
			}),
			Addresses: a.trackedAddresses,
			Logger:    logger,
			Metrics:   m,
		})
	} else {
		logger.Warn("GATE_ORACLE_URL not set; balances come from GATE_BALANCES_FILE only")
	}

	a.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.api,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return a, nil
}

// openSinks connects the configured audit sinks. The returned reader serves
// audit history: PostgreSQL when configured, else Redis, else nil.
func (a *app) openSinks(ctx context.Context) ([]audit.Sink, audit.Reader, error) {
	var (
		sinks  []audit.Sink
		reader audit.Reader
	)

	if a.cfg.AuditFile != "" {
		fs, err := audit.NewFileSink(a.cfg.AuditFile)
		if err != nil {
			return nil, nil, err
		}
		a.fileSink = fs
		sinks = append(sinks, fs)
	}

	if a.cfg.PostgresDSN != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", a.cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.db = db
		if err := audit.Migrate(ctx, db); err != nil {
			return nil, nil, err
		}
		pg := audit.NewPostgresSink(db)
		sinks = append(sinks, pg)
		reader = pg
	}

	if a.cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
		})
		a.redis = client
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		rs := audit.NewRedisSink(client, a.cfg.RedisAuditKey, a.cfg.AuditCapacity)
		sinks = append(sinks, rs)
		if reader == nil {
			reader = rs
		}
	}

	a.logger.WithFields(map[string]interface{}{
		"sinks":        len(sinks),
		"durable_read": reader != nil,
	}).Info("audit log configured")
	return sinks, reader, nil
}

// trackedAddresses is every registered account plus every seeded balance.
func (a *app) trackedAddresses() []string {
	seen := make(map[string]struct{})
	for _, acct := range a.registry.List() {
		seen[acct.Address] = struct{}{}
	}
	for _, addr := range a.book.Addresses() {
		seen[addr] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// run serves until ctx is cancelled or the listener fails.
func (a *app) run(ctx context.Context) error {
	if a.refresher != nil {
		if err := a.refresher.RefreshOnce(ctx); err != nil {
			a.logger.WithError(err).Warn("initial balance refresh incomplete")
		}
		if err := a.refresher.Start(a.cfg.OracleSchedule); err != nil {
			return err
		}
	}
	a.api.RateLimiter().StartCleanup(limiterCleanupInterval, a.stopCleanup)

	errCh := make(chan error, 1)
	go func() {
		a.logger.WithFields(map[string]interface{}{
			"addr":       a.cfg.ListenAddr,
			"root_admin": a.cfg.RootAdmin,
		}).Info("gateway listening")
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
		return nil
	}
}

// shutdown drains connections and flushes the audit sinks.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("http shutdown")
	}
	close(a.stopCleanup)
	a.hub.Close()
	if a.refresher != nil {
		a.refresher.Stop(ctx)
	}
	a.auditLog.Close()
	a.closeSinks()
	a.logger.Info("gateway stopped")
}

func (a *app) closeSinks() {
	if a.fileSink != nil {
		if err := a.fileSink.Close(); err != nil {
			a.logger.WithError(err).Warn("close audit file")
		}
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// originChecker accepts websocket upgrades from the gateway's own host and
// from the configured CORS origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	cors := middleware.NewCORSMiddleware(allowed)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return cors.Allows(origin)
	}
}
