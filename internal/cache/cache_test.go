package cache

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

type stubEntry struct {
	payload   []byte
	createdAt time.Time
}

type stubStore struct {
	mu      sync.Mutex
	entries map[string]stubEntry
	gets    int
}

func newStubStore() *stubStore {
	return &stubStore{entries: make(map[string]stubEntry)}
}

func (s *stubStore) Get(fingerprint string) ([]byte, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	entry, ok := s.entries[fingerprint]
	if !ok {
		return nil, time.Time{}, ErrNotFound
	}
	return entry.payload, entry.createdAt, nil
}

func (s *stubStore) Set(fingerprint string, payload []byte, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[fingerprint] = stubEntry{payload: payload, createdAt: createdAt}
	return nil
}

func (s *stubStore) DeleteExpired(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for fingerprint, entry := range s.entries {
		if entry.createdAt.Before(cutoff) {
			delete(s.entries, fingerprint)
			removed++
		}
	}
	return removed, nil
}

func (s *stubStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func TestFingerprintIsDeterministic(t *testing.T) {
	first := Fingerprint("google:search", map[string]string{"q": "go testing", "lang": "en"})
	second := Fingerprint("google:search", map[string]string{"lang": "en", "q": "go testing"})
	if first != second {
		t.Fatalf("expected identical fingerprints, got %s and %s", first, second)
	}

	changed := Fingerprint("google:search", map[string]string{"q": "go testing", "lang": "de"})
	if changed == first {
		t.Fatalf("expected parameter change to alter the fingerprint")
	}
}

func TestGetReturnsFastTierHit(t *testing.T) {
	c := New(nil, time.Hour)
	c.Set("key", []byte("payload"))

	payload, ok := c.Get("key")
	if !ok {
		t.Fatalf("expected a hit")
	}
	if !bytes.Equal(payload, []byte("payload")) {
		t.Fatalf("unexpected payload %q", payload)
	}

	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected a miss for an unknown key")
	}
}

func TestGetExpiresFastTierEntries(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(nil, 24*time.Hour)
	c.now = func() time.Time { return base }

	c.Set("key", []byte("payload"))

	c.now = func() time.Time { return base.Add(23 * time.Hour) }
	if _, ok := c.Get("key"); !ok {
		t.Fatalf("expected a hit inside the ttl window")
	}

	c.now = func() time.Time { return base.Add(25 * time.Hour) }
	if _, ok := c.Get("key"); ok {
		t.Fatalf("expected the entry to expire after the ttl")
	}
}

func TestGetPromotesDurableHits(t *testing.T) {
	store := newStubStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Set("key", []byte("durable"), base); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	c := New(store, 24*time.Hour)
	c.now = func() time.Time { return base.Add(time.Hour) }

	payload, ok := c.Get("key")
	if !ok || !bytes.Equal(payload, []byte("durable")) {
		t.Fatalf("expected a durable hit, got ok=%v payload=%q", ok, payload)
	}

	before := store.getCount()
	if _, ok := c.Get("key"); !ok {
		t.Fatalf("expected a promoted fast-tier hit")
	}
	if store.getCount() != before {
		t.Fatalf("expected the second read to skip the durable tier")
	}
}

func TestGetIgnoresExpiredDurableEntries(t *testing.T) {
	store := newStubStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Set("key", []byte("stale"), base); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	c := New(store, 24*time.Hour)
	c.now = func() time.Time { return base.Add(25 * time.Hour) }

	if _, ok := c.Get("key"); ok {
		t.Fatalf("expected an expired durable entry to miss")
	}
}
