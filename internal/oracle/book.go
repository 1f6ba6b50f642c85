// Package oracle supplies account balances to the access layer.
//
// Reads go to an in-memory BalanceBook so that access evaluation never waits
// on I/O. A Refresher keeps the book current by polling a remote balance
// service on a cron schedule.
package oracle

import (
	"sort"
	"sync"
	"time"
)

// BalanceBook is a concurrency-safe address to balance map. Unknown addresses
// have a zero balance.
type BalanceBook struct {
	mu        sync.RWMutex
	balances  map[string]uint64
	updatedAt time.Time
}

// NewBalanceBook creates a book seeded with initial.
func NewBalanceBook(initial map[string]uint64) *BalanceBook {
	b := &BalanceBook{balances: make(map[string]uint64, len(initial))}
	for addr, bal := range initial {
		b.balances[addr] = bal
	}
	return b
}

// BalanceOf implements account.BalanceSource.
func (b *BalanceBook) BalanceOf(address string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[address]
}

// Set records the balance of address.
func (b *BalanceBook) Set(address string, balance uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[address] = balance
	b.updatedAt = time.Now().UTC()
}

// SetAll records several balances at once.
func (b *BalanceBook) SetAll(balances map[string]uint64) {
	if len(balances) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for addr, bal := range balances {
		b.balances[addr] = bal
	}
	b.updatedAt = time.Now().UTC()
}

// Addresses returns every address with a recorded balance, sorted.
func (b *BalanceBook) Addresses() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.balances))
	for addr := range b.balances {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// UpdatedAt returns the time of the last write.
func (b *BalanceBook) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}
