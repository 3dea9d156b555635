package quota

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

const historyLimit = 100

// optimistic prior for providers with no recorded history, so untested
// providers get a fair trial in the ranking.
const defaultUsefulness = 0.5

// Record is one provider's quota bookkeeping. Limit is advisory: exceeding it
// is signaled through ShouldUse, never hard-blocked at the data level.
type Record struct {
	ProviderID   string
	Limit        int
	Used         int
	ResetAt      time.Time
	Usefulness   []float64
	RegisteredAt int64
}

func (r Record) MeanUsefulness() float64 {
	if len(r.Usefulness) == 0 {
		return defaultUsefulness
	}
	total := 0.0
	for _, score := range r.Usefulness {
		total += score
	}
	return total / float64(len(r.Usefulness))
}

// Store persists quota records, one per provider. Implementations must keep
// writes atomic per record.
type Store interface {
	Get(providerID string) (Record, bool, error)
	Put(record Record) error
	All() ([]Record, error)
}

type registration struct {
	limit  int
	window time.Duration
	order  int64
}

// Ledger tracks per-provider usage against reset windows and ranks providers
// by observed usefulness. Writes are serialized per provider key.
type Ledger struct {
	store Store
	now   func() time.Time

	mu            sync.Mutex
	registrations map[string]registration
	order         []string
	keyLocks      map[string]*sync.Mutex
	nextSeq       int64
}

func NewLedger(store Store) *Ledger {
	return &Ledger{
		store:         store,
		now:           time.Now,
		registrations: make(map[string]registration),
		keyLocks:      make(map[string]*sync.Mutex),
	}
}

// Register declares a provider's limit and reset window. The record itself is
// created lazily in the store on first use. Registration order is the stable
// tie-break for ranking.
func (l *Ledger) Register(providerID string, limit int, window time.Duration) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.registrations[providerID]; exists {
		return
	}
	l.nextSeq++
	l.registrations[providerID] = registration{limit: limit, window: window, order: l.nextSeq}
	l.order = append(l.order, providerID)
}

// ShouldUse reports whether the provider has quota available, lazily resetting
// the usage counter when the reset window has elapsed.
func (l *Ledger) ShouldUse(providerID string) bool {
	unlock := l.lockKey(providerID)
	defer unlock()

	record, err := l.loadOrCreate(providerID)
	if err != nil {
		log.Printf("quota load failed: provider=%s err=%v", providerID, err)
		return false
	}
	record = l.maybeReset(record)
	return record.Used < record.Limit
}

// RecordUsage increments the usage counter and appends a usefulness score to
// the provider's rolling history.
func (l *Ledger) RecordUsage(providerID string, usefulness float64) error {
	unlock := l.lockKey(providerID)
	defer unlock()

	record, err := l.loadOrCreate(providerID)
	if err != nil {
		return err
	}
	record = l.maybeReset(record)

	record.Used++
	record.Usefulness = append(record.Usefulness, usefulness)
	if len(record.Usefulness) > historyLimit {
		record.Usefulness = record.Usefulness[len(record.Usefulness)-historyLimit:]
	}

	if err := l.store.Put(record); err != nil {
		return fmt.Errorf("persist quota record: %w", err)
	}
	return nil
}

// RankProviders returns every registered provider that still has quota,
// ordered descending by mean usefulness. Ties keep registration order. A
// repeatedly useless provider sinks but is never excluded while quota remains.
func (l *Ledger) RankProviders() []string {
	l.mu.Lock()
	ids := make([]string, len(l.order))
	copy(ids, l.order)
	l.mu.Unlock()

	type ranked struct {
		id    string
		mean  float64
		order int64
	}
	candidates := make([]ranked, 0, len(ids))
	for _, id := range ids {
		if !l.ShouldUse(id) {
			continue
		}
		unlock := l.lockKey(id)
		record, err := l.loadOrCreate(id)
		unlock()
		if err != nil {
			continue
		}
		reg := l.registrationFor(id)
		candidates = append(candidates, ranked{id: id, mean: record.MeanUsefulness(), order: reg.order})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].mean == candidates[j].mean {
			return candidates[i].order < candidates[j].order
		}
		return candidates[i].mean > candidates[j].mean
	})

	out := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		out = append(out, candidate.id)
	}
	return out
}

// Snapshot returns the current record for a provider, creating it lazily.
func (l *Ledger) Snapshot(providerID string) (Record, error) {
	unlock := l.lockKey(providerID)
	defer unlock()
	record, err := l.loadOrCreate(providerID)
	if err != nil {
		return Record{}, err
	}
	return l.maybeReset(record), nil
}

func (l *Ledger) loadOrCreate(providerID string) (Record, error) {
	record, found, err := l.store.Get(providerID)
	if err != nil {
		return Record{}, err
	}
	if found {
		return record, nil
	}

	reg := l.registrationFor(providerID)
	record = Record{
		ProviderID:   providerID,
		Limit:        reg.limit,
		RegisteredAt: reg.order,
	}
	if reg.window > 0 {
		record.ResetAt = l.now().Add(reg.window)
	}
	if err := l.store.Put(record); err != nil {
		return Record{}, err
	}
	return record, nil
}

func (l *Ledger) maybeReset(record Record) Record {
	if record.ResetAt.IsZero() || l.now().Before(record.ResetAt) {
		return record
	}
	record.Used = 0
	reg := l.registrationFor(record.ProviderID)
	if reg.window > 0 {
		record.ResetAt = l.now().Add(reg.window)
	} else {
		record.ResetAt = time.Time{}
	}
	if err := l.store.Put(record); err != nil {
		log.Printf("quota reset persist failed: provider=%s err=%v", record.ProviderID, err)
	}
	return record
}

func (l *Ledger) registrationFor(providerID string) registration {
	l.mu.Lock()
	defer l.mu.Unlock()
	reg, ok := l.registrations[providerID]
	if !ok {
		// Unregistered providers get a conservative daily budget.
		l.nextSeq++
		reg = registration{limit: 100, window: 24 * time.Hour, order: l.nextSeq}
		l.registrations[providerID] = reg
		l.order = append(l.order, providerID)
	}
	return reg
}

func (l *Ledger) lockKey(providerID string) func() {
	l.mu.Lock()
	lock, ok := l.keyLocks[providerID]
	if !ok {
		lock = &sync.Mutex{}
		l.keyLocks[providerID] = lock
	}
	l.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
