package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/access_layer/internal/logging"
	"github.com/R3E-Network/access_layer/internal/metrics"
)

// Refresher polls a Fetcher for every tracked address and writes the results
// to a BalanceBook.
type Refresher struct {
	book      *BalanceBook
	fetcher   Fetcher
	addresses func() []string
	timeout   time.Duration

	log     *logging.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
}

// RefresherConfig configures a Refresher.
type RefresherConfig struct {
	Book    *BalanceBook
	Fetcher Fetcher
	// Addresses lists the addresses to refresh on each run.
	Addresses func() []string
	// Timeout bounds a single run. Defaults to 30s.
	Timeout time.Duration
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// NewRefresher creates a refresher.
func NewRefresher(cfg RefresherConfig) *Refresher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Refresher{
		book:      cfg.Book,
		fetcher:   cfg.Fetcher,
		addresses: cfg.Addresses,
		timeout:   timeout,
		log:       logger,
		metrics:   cfg.Metrics,
	}
}

// RefreshOnce fetches every tracked address. Successful fetches are applied
// even when others fail; the joined failures are returned.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	addrs := r.addresses()
	updated := make(map[string]uint64, len(addrs))
	var errs []error
	for _, addr := range addrs {
		bal, err := r.fetcher.Balance(ctx, addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}
		updated[addr] = bal
	}
	r.book.SetAll(updated)

	err := errors.Join(errs...)
	r.metrics.RecordBalanceRefresh(time.Since(start), err)

	entry := r.log.WithFields(map[string]interface{}{
		"addresses":   len(addrs),
		"updated":     len(updated),
		"failed":      len(errs),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("balance refresh incomplete")
	} else {
		entry.Debug("balance refresh complete")
	}
	return err
}

// Start schedules RefreshOnce on spec, a cron expression or descriptor such as
// "@every 30s".
func (r *Refresher) Start(spec string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("balance refresher already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		_ = r.RefreshOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	c.Start()
	r.cron = c
	r.running = true
	r.log.WithField("schedule", spec).Info("balance refresher started")
	return nil
}

// Stop halts scheduling and waits for a running refresh to finish or ctx to end.
func (r *Refresher) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.running = false
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
