// Package audit records administrative actions.
//
// A Log keeps the most recent records in memory for the admin API and fans
// every record out to optional durable sinks (JSONL file, PostgreSQL, Redis).
// Sink writes happen on a background goroutine so that appending never blocks
// on I/O.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/access_layer/internal/logging"
)

// DefaultCapacity is the ring size used when NewLog is given a non-positive max.
const DefaultCapacity = 200

const sinkQueueSize = 256

// Record is one audit entry.
type Record struct {
	ID         uuid.UUID         `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Actor      string            `json:"actor"`
	Action     string            `json:"action"`
	Parameters map[string]string `json:"parameters,omitempty"`
	SnapshotID uint64            `json:"snapshot_id"`
}

// NewRecord builds a record with a fresh id.
func NewRecord(actor, action string, params map[string]string, snapshotID uint64, at time.Time) Record {
	return Record{
		ID:         uuid.New(),
		Timestamp:  at.UTC(),
		Actor:      actor,
		Action:     action,
		Parameters: params,
		SnapshotID: snapshotID,
	}
}

// Sink persists audit records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// Reader reads durable history back, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// Log is an in-memory ring of recent records with asynchronous sinks.
type Log struct {
	mu      sync.Mutex
	entries []Record
	max     int

	sinks  []Sink
	reader Reader
	queue  chan Record
	done   chan struct{}
	closed bool
	log    *logging.Logger
}

// NewLog creates a log holding at most max records in memory.
func NewLog(max int, logger *logging.Logger, sinks ...Sink) *Log {
	if max <= 0 {
		max = DefaultCapacity
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}
	l := &Log{max: max, sinks: sinks, log: logger}
	if len(sinks) > 0 {
		l.queue = make(chan Record, sinkQueueSize)
		l.done = make(chan struct{})
		go l.drain()
	}
	return l
}

// Add appends rec and queues it for the sinks. A full queue drops the sink
// write, never the in-memory record.
func (l *Log) Add(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, rec)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.queue == nil || l.closed {
		return
	}
	select {
	case l.queue <- rec:
	default:
		l.log.WithFields(map[string]interface{}{
			"audit_id": rec.ID.String(),
			"action":   rec.Action,
		}).Warn("audit sink queue full; record kept in memory only")
	}
}

// List returns every retained record, oldest first.
func (l *Log) List() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.entries))
	copy(out, l.entries)
	return out
}

// ListLimit returns the newest limit records, oldest first.
func (l *Log) ListLimit(limit int) []Record {
	if limit <= 0 || limit > l.max {
		limit = l.max
	}
	all := l.List()
	if len(all) <= limit {
		return all
	}
	return all[len(all)-limit:]
}

// SetReader makes History read from durable storage.
func (l *Log) SetReader(r Reader) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reader = r
}

// History returns the newest limit records, oldest first. With a reader set,
// durable records are merged with in-memory ones still queued for the sinks.
// A failing reader falls back to the in-memory ring.
func (l *Log) History(ctx context.Context, limit int) []Record {
	l.mu.Lock()
	reader := l.reader
	l.mu.Unlock()

	recent := l.ListLimit(limit)
	if reader == nil {
		return recent
	}
	if limit <= 0 {
		limit = l.max
	}

	stored, err := reader.Recent(ctx, limit)
	if err != nil {
		l.log.WithContext(ctx).WithError(err).Warn("audit history read failed; serving in-memory records")
		return recent
	}

	seen := make(map[uuid.UUID]struct{}, len(stored)+len(recent))
	merged := make([]Record, 0, len(stored)+len(recent))
	for _, batch := range [][]Record{stored, recent} {
		for _, rec := range batch {
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			seen[rec.ID] = struct{}{}
			merged = append(merged, rec)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}

// Len returns the number of retained records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Close stops accepting sink writes and waits for queued records to be flushed.
func (l *Log) Close() {
	l.mu.Lock()
	if l.queue == nil || l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()
	<-l.done
}

func (l *Log) drain() {
	defer close(l.done)
	for rec := range l.queue {
		for _, sink := range l.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := sink.Write(ctx, rec); err != nil {
				l.log.WithError(err).WithField("audit_id", rec.ID.String()).Warn("audit sink write failed")
			}
			cancel()
		}
	}
}
