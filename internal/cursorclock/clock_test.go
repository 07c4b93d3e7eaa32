package cursorclock

import "testing"

func TestClock_NextStrictlyMonotonicPerWallet(t *testing.T) {
	c := New()
	var last int64
	for i := 0; i < 1000; i++ {
		ts := c.Next("wallet-1").UnixNano()
		if ts <= last {
			t.Fatalf("expected strictly increasing timestamps, got %d after %d", ts, last)
		}
		last = ts
	}
}

func TestClock_IndependentPerWallet(t *testing.T) {
	c := New()
	a := c.Next("wallet-a")
	b := c.Next("wallet-b")
	// Different wallets don't need to interleave; each just needs its own
	// strictly increasing sequence.
	if a.IsZero() || b.IsZero() {
		t.Fatal("expected non-zero timestamps")
	}
}

func TestParseCursor_Empty(t *testing.T) {
	ts, err := ParseCursor("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ts.IsZero() && ts.Unix() != 0 {
		t.Errorf("expected epoch zero for empty cursor, got %v", ts)
	}
}

func TestParseCursor_RFC3339(t *testing.T) {
	ts, err := ParseCursor("2024-01-15T10:30:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Year() != 2024 {
		t.Errorf("expected year 2024, got %d", ts.Year())
	}
}

func TestParseCursor_EpochSeconds(t *testing.T) {
	ts, err := ParseCursor("1700000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Unix() != 1700000000 {
		t.Errorf("expected unix seconds preserved, got %d", ts.Unix())
	}
}

func TestParseCursor_RoundTripsFormat(t *testing.T) {
	c := New()
	ts := c.Next("wallet-1")
	formatted := Format(ts)
	parsed, err := ParseCursor(formatted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("expected round-trip to preserve the timestamp, got %v want %v", parsed, ts)
	}
}

func TestParseCursor_Invalid(t *testing.T) {
	if _, err := ParseCursor("not-a-cursor"); err == nil {
		t.Error("expected error for malformed cursor")
	}
}
