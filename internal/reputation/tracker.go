package reputation

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	valuablePathLimit     = 5
	valuablePathThreshold = 0.7

	focusMinVisits      = 3
	focusMinSuccessRate = 0.7
	focusMinRelevance   = 0.6
)

// Profile is one domain's accumulated crawl reputation. Averages are running
// values over total visits and are never reset except by explicit admin
// action. The requires flags are sticky: once observed, they stay true.
type Profile struct {
	Domain             string
	SuccessRate        float64
	AvgRelevance       float64
	TotalVisits        int
	RequiresLogin      bool
	RequiresJavaScript bool
	ValuablePaths      []string
}

// FocusScore orders focused sites: relevance weighted by reliability.
func (p Profile) FocusScore() float64 {
	return p.AvgRelevance * p.SuccessRate
}

// Store persists site profiles, one record per domain.
type Store interface {
	Get(domain string) (Profile, bool, error)
	Put(profile Profile) error
	All() ([]Profile, error)
	Delete(domain string) error
}

// Outcome describes one crawl attempt. Optional fields are pointers so
// "not observed" is distinct from false/zero.
type Outcome struct {
	Success            bool
	Relevance          *float64
	Path               string
	RequiresLogin      *bool
	RequiresJavaScript *bool
}

// Tracker maintains per-domain statistics fed back from crawl attempts.
// Writes are serialized per domain key so the running averages stay correct.
type Tracker struct {
	store Store

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, keyLocks: make(map[string]*sync.Mutex)}
}

// RecordOutcome folds one crawl attempt into the domain's running stats.
// Averages use (old*(n-1)+new)/n with n = total visits after increment; a
// visit without an observed relevance contributes zero to the average.
func (t *Tracker) RecordOutcome(domain string, outcome Outcome) error {
	domain = normalizeDomain(domain)
	if domain == "" {
		return fmt.Errorf("domain is required")
	}

	unlock := t.lockKey(domain)
	defer unlock()

	profile, found, err := t.store.Get(domain)
	if err != nil {
		return fmt.Errorf("load site profile: %w", err)
	}
	if !found {
		profile = Profile{Domain: domain}
	}

	profile.TotalVisits++
	n := float64(profile.TotalVisits)

	successValue := 0.0
	if outcome.Success {
		successValue = 1.0
	}
	profile.SuccessRate = (profile.SuccessRate*(n-1) + successValue) / n

	if outcome.Relevance != nil {
		profile.AvgRelevance = (profile.AvgRelevance*(n-1) + *outcome.Relevance) / n
		if *outcome.Relevance > valuablePathThreshold {
			profile.ValuablePaths = appendValuablePath(profile.ValuablePaths, outcome.Path)
		}
	} else {
		profile.AvgRelevance = profile.AvgRelevance * (n - 1) / n
	}

	if outcome.RequiresLogin != nil && *outcome.RequiresLogin {
		profile.RequiresLogin = true
	}
	if outcome.RequiresJavaScript != nil && *outcome.RequiresJavaScript {
		profile.RequiresJavaScript = true
	}

	if err := t.store.Put(profile); err != nil {
		return fmt.Errorf("persist site profile: %w", err)
	}
	return nil
}

// FocusedSites returns domains whose history clears the promotion bar:
// success rate > 0.7, average relevance > 0.6, and at least 3 visits so a
// single lucky sample cannot promote a domain. Sorted by focus score.
func (t *Tracker) FocusedSites(limit int) ([]Profile, error) {
	profiles, err := t.store.All()
	if err != nil {
		return nil, fmt.Errorf("list site profiles: %w", err)
	}

	focused := make([]Profile, 0, len(profiles))
	for _, profile := range profiles {
		if profile.TotalVisits < focusMinVisits {
			continue
		}
		if profile.SuccessRate <= focusMinSuccessRate || profile.AvgRelevance <= focusMinRelevance {
			continue
		}
		focused = append(focused, profile)
	}

	sort.SliceStable(focused, func(i, j int) bool {
		if focused[i].FocusScore() == focused[j].FocusScore() {
			return focused[i].Domain < focused[j].Domain
		}
		return focused[i].FocusScore() > focused[j].FocusScore()
	})

	if limit > 0 && len(focused) > limit {
		focused = focused[:limit]
	}
	return focused, nil
}

// Profile returns the stored profile for a domain, if any.
func (t *Tracker) Profile(domain string) (Profile, bool, error) {
	return t.store.Get(normalizeDomain(domain))
}

// Reset removes a domain's profile entirely. This is the only sanctioned way
// to clear accumulated averages.
func (t *Tracker) Reset(domain string) error {
	domain = normalizeDomain(domain)
	if domain == "" {
		return fmt.Errorf("domain is required")
	}
	unlock := t.lockKey(domain)
	defer unlock()
	return t.store.Delete(domain)
}

// appendValuablePath keeps at most valuablePathLimit paths, evicting the
// oldest first. A re-observed path moves to the back: recently valuable beats
// once valuable.
func appendValuablePath(paths []string, path string) []string {
	path = strings.TrimSpace(path)
	if path == "" {
		return paths
	}
	out := make([]string, 0, len(paths)+1)
	for _, existing := range paths {
		if existing != path {
			out = append(out, existing)
		}
	}
	out = append(out, path)
	if len(out) > valuablePathLimit {
		out = out[len(out)-valuablePathLimit:]
	}
	return out
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

func (t *Tracker) lockKey(domain string) func() {
	t.mu.Lock()
	lock, ok := t.keyLocks[domain]
	if !ok {
		lock = &sync.Mutex{}
		t.keyLocks[domain] = lock
	}
	t.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
