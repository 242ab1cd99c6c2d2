package anomaly

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/finradar/radar/pkg/models"
)

// tradingTime is a Wednesday 12:00 MSK (09:00 UTC).
var tradingTime = time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)

// nightTime is the same Wednesday at 23:00 MSK.
var nightTime = time.Date(2026, 8, 26, 20, 0, 0, 0, time.UTC)

func TestEvaluateStrongSignalIsSignificant(t *testing.T) {
	f := NewFilter(0)

	s := f.Evaluate(models.AnomalyEvent{
		Ticker:    "SBER@MISX",
		ZScore:    11.0,
		Delta:     18.0, // 6% of price
		Price:     300.0,
		Timestamp: tradingTime,
		Timeframe: "M30",
	})

	// 30 (z>10) + 25 (move>5%) + 15 (session) + 15 (M30) + 20 (first
	// alert) + 10 (combo z+move) + 10 (combo session) = 125.
	if !s.Significant {
		t.Errorf("expected significant, score=%.1f", s.Value)
	}
	if s.Value != 125 {
		t.Errorf("expected score 125, got %.1f", s.Value)
	}
	if s.DeltaPct != 6.0 {
		t.Errorf("expected delta 6%%, got %.2f", s.DeltaPct)
	}
}

func TestEvaluateWeakSignalNotSignificant(t *testing.T) {
	f := NewFilter(0)

	s := f.Evaluate(models.AnomalyEvent{
		Ticker:    "GAZP@MISX",
		ZScore:    3.0,
		Timestamp: nightTime,
		Timeframe: "M1",
	})

	// 5 (low z) + 0 (no move data) + 5 (off-market) + 5 (M1) + 20 (first
	// alert) = 35.
	if s.Significant {
		t.Errorf("expected not significant, score=%.1f", s.Value)
	}
	if s.Value != 35 {
		t.Errorf("expected score 35, got %.1f", s.Value)
	}
}

func TestEvaluateNegativeZScoreUsesMagnitude(t *testing.T) {
	f := NewFilter(0)

	s := f.Evaluate(models.AnomalyEvent{
		Ticker:    "YNDX@MISX",
		ZScore:    -11.0,
		Timestamp: nightTime,
		Timeframe: "M1",
	})
	// 30 (|z|>10) + 5 + 5 + 20 = 60.
	if s.Value != 60 {
		t.Errorf("expected score 60, got %.1f", s.Value)
	}
}

func TestEvaluateFrequencyPenalty(t *testing.T) {
	f := NewFilter(0)
	evt := models.AnomalyEvent{
		Ticker:    "SBER@MISX",
		ZScore:    6.0,
		Timestamp: nightTime,
		Timeframe: "M5",
	}

	first := f.Evaluate(evt)
	// 10 (z>5) + 5 (off-market) + 10 (M5) + 20 (first) = 45.
	if first.Value != 45 {
		t.Fatalf("expected first score 45, got %.1f", first.Value)
	}

	// 2nd-4th alerts within the hour drop the frequency component.
	f.Evaluate(evt)
	f.Evaluate(evt)
	fourth := f.Evaluate(evt)
	// recent count is now 3: frequency gives 15 -> total 40.
	if fourth.Value != 40 {
		t.Errorf("expected fourth score 40, got %.1f", fourth.Value)
	}

	// Past 5 in the hour the penalty maxes out.
	f.Evaluate(evt)
	f.Evaluate(evt)
	seventh := f.Evaluate(evt)
	// recent count 6: frequency gives 5 -> total 30.
	if seventh.Value != 30 {
		t.Errorf("expected seventh score 30, got %.1f", seventh.Value)
	}
}

func TestIsTradingHours(t *testing.T) {
	cases := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"weekday noon MSK", time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC), true},
		{"session open 10:00 MSK", time.Date(2026, 8, 26, 7, 0, 0, 0, time.UTC), true},
		{"session close 18:45 MSK", time.Date(2026, 8, 26, 15, 45, 0, 0, time.UTC), true},
		{"after close 18:46 MSK", time.Date(2026, 8, 26, 15, 46, 0, 0, time.UTC), false},
		{"before open 09:59 MSK", time.Date(2026, 8, 26, 6, 59, 0, 0, time.UTC), false},
		{"saturday", time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC), false},
		{"sunday", time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		if got := isTradingHours(tc.ts); got != tc.want {
			t.Errorf("%s: expected %t, got %t", tc.name, tc.want, got)
		}
	}
}

func TestStats(t *testing.T) {
	f := NewFilter(0)
	now := time.Now().UTC()

	f.Evaluate(models.AnomalyEvent{Ticker: "SBER@MISX", ZScore: 6, Timestamp: now, Timeframe: "M5"})
	f.Evaluate(models.AnomalyEvent{Ticker: "SBER@MISX", ZScore: 6, Timestamp: now, Timeframe: "M5"})

	stats := f.Stats("SBER@MISX")
	if stats.TotalAnomalies != 2 {
		t.Errorf("expected 2 anomalies, got %d", stats.TotalAnomalies)
	}
	if stats.LastHour != 2 {
		t.Errorf("expected 2 in last hour, got %d", stats.LastHour)
	}
	if stats.LastAnomaly == nil {
		t.Error("expected last anomaly timestamp")
	}

	empty := f.Stats("GAZP@MISX")
	if empty.TotalAnomalies != 0 || empty.LastAnomaly != nil {
		t.Errorf("expected empty stats, got %+v", empty)
	}
}

// fakeFeed returns a fixed event list.
type fakeFeed struct {
	mu     sync.Mutex
	events []models.AnomalyEvent
	calls  int
}

func (f *fakeFeed) Name() string { return "fake" }

func (f *fakeFeed) GetAnomalies(_ context.Context, _ int) ([]models.AnomalyEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.events, nil
}

func TestWatcherPrunesSeenEntries(t *testing.T) {
	strong := models.AnomalyEvent{
		Ticker:    "SBER@MISX",
		ZScore:    11.0,
		Delta:     18.0,
		Price:     300.0,
		Timestamp: tradingTime,
		Timeframe: "M30",
	}
	feed := &fakeFeed{events: []models.AnomalyEvent{strong}}
	w := NewWatcher(feed, NewFilter(0), time.Hour, 20, nil)

	w.poll(context.Background())
	if len(w.seen) != 1 {
		t.Fatalf("expected 1 seen entry, got %d", len(w.seen))
	}

	// Age the entry past the history window; the next prune drops it.
	w.mu.Lock()
	for key := range w.seen {
		w.seen[key] = time.Now().Add(-historyWindow - time.Minute)
	}
	w.mu.Unlock()

	w.pruneSeen(time.Now())
	if len(w.seen) != 0 {
		t.Errorf("expected an empty seen map after pruning, got %d entries", len(w.seen))
	}
}

func TestWatcherDeduplicatesAndNotifies(t *testing.T) {
	strong := models.AnomalyEvent{
		Ticker:    "SBER@MISX",
		ZScore:    11.0,
		Delta:     18.0,
		Price:     300.0,
		Timestamp: tradingTime,
		Timeframe: "M30",
	}
	weak := models.AnomalyEvent{
		Ticker:    "GAZP@MISX",
		ZScore:    2.0,
		Timestamp: nightTime.Add(time.Minute),
		Timeframe: "M1",
	}
	feed := &fakeFeed{events: []models.AnomalyEvent{strong, weak}}

	var mu sync.Mutex
	var notified []Notification
	w := NewWatcher(feed, NewFilter(0), time.Hour, 20, func(n Notification) {
		mu.Lock()
		notified = append(notified, n)
		mu.Unlock()
	})

	ctx := context.Background()
	w.poll(ctx)
	w.poll(ctx) // same events again: must not re-notify

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notified))
	}
	if notified[0].Event.Ticker != "SBER@MISX" {
		t.Errorf("expected the strong event, got %s", notified[0].Event.Ticker)
	}

	latest := w.Latest()
	if len(latest) != 1 {
		t.Fatalf("expected 1 latest entry, got %d", len(latest))
	}
}
