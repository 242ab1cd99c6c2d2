package anomaly

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/finradar/radar/internal/datasource"
	"github.com/finradar/radar/pkg/models"
)

// DefaultRefreshInterval is how often the watcher polls the detector feed.
const DefaultRefreshInterval = 30 * time.Second

// Notification couples an anomaly event with its significance score.
type Notification struct {
	Event models.AnomalyEvent `json:"event"`
	Score Score               `json:"score"`
}

// Watcher polls the anomaly feed on a fixed interval, scores incoming events,
// and pushes the significant ones to the notify callback. It runs for the
// lifetime of the process, independent of any analysis session.
type Watcher struct {
	feed     datasource.AnomalyFeed
	filter   *Filter
	interval time.Duration
	limit    int
	notify   func(Notification)

	mu     sync.RWMutex
	seen   map[string]time.Time
	latest []Notification
}

// NewWatcher creates a watcher over the given feed. notify may be nil when
// only the snapshot accessor is needed.
func NewWatcher(feed datasource.AnomalyFeed, filter *Filter, interval time.Duration, limit int, notify func(Notification)) *Watcher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if limit <= 0 {
		limit = 20
	}
	return &Watcher{
		feed:     feed,
		filter:   filter,
		interval: interval,
		limit:    limit,
		notify:   notify,
		seen:     make(map[string]time.Time),
	}
}

// Run polls until the context is cancelled. Feed failures are logged and
// retried on the next tick.
func (w *Watcher) Run(ctx context.Context) {
	log.Printf("anomaly/watcher: started, interval=%s", w.interval)
	defer log.Printf("anomaly/watcher: stopped")

	// Poll immediately so the first snapshot is available before the first
	// tick.
	w.poll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// Latest returns the most recent significant notifications, newest first.
func (w *Watcher) Latest() []Notification {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Notification, len(w.latest))
	copy(out, w.latest)
	return out
}

func (w *Watcher) poll(ctx context.Context) {
	events, err := w.feed.GetAnomalies(ctx, w.limit)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("anomaly/watcher: fetch failed, retrying next tick: %v", err)
		}
		return
	}

	w.pruneSeen(time.Now())

	for i := len(events) - 1; i >= 0; i-- {
		evt := events[i]
		key := eventKey(evt)

		w.mu.Lock()
		if _, dup := w.seen[key]; dup {
			w.mu.Unlock()
			continue
		}
		w.seen[key] = time.Now()
		w.mu.Unlock()

		score := w.filter.Evaluate(evt)
		if !score.Significant {
			continue
		}

		n := Notification{Event: evt, Score: score}
		w.mu.Lock()
		w.latest = append([]Notification{n}, w.latest...)
		if len(w.latest) > w.limit {
			w.latest = w.latest[:w.limit]
		}
		w.mu.Unlock()

		if w.notify != nil {
			w.notify(n)
		}
	}
}

// pruneSeen drops dedup entries first seen longer ago than the filter's
// history window, keeping the map bounded over the process lifetime.
func (w *Watcher) pruneSeen(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-historyWindow)
	for key, firstSeen := range w.seen {
		if firstSeen.Before(cutoff) {
			delete(w.seen, key)
		}
	}
}

// eventKey identifies an event for deduplication across polls.
func eventKey(evt models.AnomalyEvent) string {
	return fmt.Sprintf("%s|%s|%d", evt.Ticker, evt.Timeframe, evt.Timestamp.Unix())
}
