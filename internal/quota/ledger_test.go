package quota

import (
	"testing"
	"time"
)

func TestMeanUsefulnessDefaultsWithoutHistory(t *testing.T) {
	record := Record{ProviderID: "google"}
	if mean := record.MeanUsefulness(); mean != 0.5 {
		t.Fatalf("expected 0.5 for an empty history, got %f", mean)
	}
}

func TestShouldUseDeniesExhaustedQuota(t *testing.T) {
	ledger := NewLedger(NewMemoryStore())
	ledger.Register("google", 2, time.Hour)

	if !ledger.ShouldUse("google") {
		t.Fatalf("expected a fresh provider to be usable")
	}
	for i := 0; i < 2; i++ {
		if err := ledger.RecordUsage("google", 0.8); err != nil {
			t.Fatalf("record usage: %v", err)
		}
	}
	if ledger.ShouldUse("google") {
		t.Fatalf("expected the provider to be denied at its limit")
	}
}

func TestShouldUseResetsAfterWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := NewLedger(NewMemoryStore())
	ledger.now = func() time.Time { return base }
	ledger.Register("google", 1, time.Hour)

	if err := ledger.RecordUsage("google", 0.4); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if ledger.ShouldUse("google") {
		t.Fatalf("expected the provider to be exhausted")
	}

	ledger.now = func() time.Time { return base.Add(2 * time.Hour) }
	if !ledger.ShouldUse("google") {
		t.Fatalf("expected the elapsed window to reset usage")
	}

	record, err := ledger.Snapshot("google")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if record.Used != 0 {
		t.Fatalf("expected used=0 after reset, got %d", record.Used)
	}
	if len(record.Usefulness) != 1 {
		t.Fatalf("expected the usefulness history to survive a reset, got %d entries", len(record.Usefulness))
	}
}

func TestRecordUsageTrimsHistory(t *testing.T) {
	ledger := NewLedger(NewMemoryStore())
	ledger.Register("google", 1000, time.Hour)

	for i := 0; i < historyLimit+5; i++ {
		if err := ledger.RecordUsage("google", 1.0); err != nil {
			t.Fatalf("record usage: %v", err)
		}
	}

	record, err := ledger.Snapshot("google")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(record.Usefulness) != historyLimit {
		t.Fatalf("expected history trimmed to %d, got %d", historyLimit, len(record.Usefulness))
	}
}

func TestRankProvidersOrdersByUsefulness(t *testing.T) {
	ledger := NewLedger(NewMemoryStore())
	ledger.Register("google", 100, time.Hour)
	ledger.Register("newsapi", 100, time.Hour)
	ledger.Register("docs", 100, time.Hour)

	if err := ledger.RecordUsage("google", 0.3); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if err := ledger.RecordUsage("newsapi", 0.9); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	got := ledger.RankProviders()
	want := []string{"newsapi", "docs", "google"}
	if len(got) != len(want) {
		t.Fatalf("expected %d providers, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected ranking %v, got %v", want, got)
		}
	}
}

func TestRankProvidersBreaksTiesByRegistrationOrder(t *testing.T) {
	ledger := NewLedger(NewMemoryStore())
	ledger.Register("first", 100, time.Hour)
	ledger.Register("second", 100, time.Hour)

	got := ledger.RankProviders()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("expected registration-order tie-break, got %v", got)
	}
}

func TestRankProvidersExcludesExhaustedProviders(t *testing.T) {
	ledger := NewLedger(NewMemoryStore())
	ledger.Register("google", 1, time.Hour)
	ledger.Register("newsapi", 100, time.Hour)

	if err := ledger.RecordUsage("google", 1.0); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	got := ledger.RankProviders()
	if len(got) != 1 || got[0] != "newsapi" {
		t.Fatalf("expected only newsapi, got %v", got)
	}
}

func TestUnregisteredProviderGetsDefaultBudget(t *testing.T) {
	ledger := NewLedger(NewMemoryStore())

	if !ledger.ShouldUse("surprise") {
		t.Fatalf("expected an unregistered provider to be usable")
	}
	record, err := ledger.Snapshot("surprise")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if record.Limit != 100 {
		t.Fatalf("expected the conservative default limit, got %d", record.Limit)
	}
}
