package analysis

import (
	"context"
	"log"
	"time"
)

// DefaultPollInterval is the reconciliation tick period.
const DefaultPollInterval = 2 * time.Second

// Poller is the client-side reconciliation loop for one ticker session. It
// repeatedly fetches job statuses and merges them into the session until no
// article is pending, then stops without issuing a trailing request. The
// ticker and article ids are captured when the run starts; merges are guarded
// by the session's generation token, so a poll response arriving after a
// ticker change is discarded rather than merged.
type Poller struct {
	store    JobStore
	session  *Session
	interval time.Duration
	onUpdate func() // invoked after every applied merge; may be nil
}

// NewPoller creates a poller. A non-positive interval falls back to
// DefaultPollInterval.
func NewPoller(store JobStore, session *Session, interval time.Duration, onUpdate func()) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{store: store, session: session, interval: interval, onUpdate: onUpdate}
}

// Run polls until the session has no pending article, the generation token
// goes stale, or ctx is cancelled. It is meant to run as its own goroutine,
// one per session generation.
func (p *Poller) Run(ctx context.Context, gen uint64, ticker string, articleIDs []string) {
	log.Printf("analysis/poller: start ticker=%s gen=%d articles=%d", ticker, gen, len(articleIDs))
	defer log.Printf("analysis/poller: stop ticker=%s gen=%d", ticker, gen)

	tick := time.NewTicker(p.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if !p.poll(ctx, gen, ticker, articleIDs) {
				return
			}
		}
	}
}

// poll performs one reconciliation pass. It returns false when polling should
// stop: either every article reached a terminal status or the session moved
// on. A fetch failure is transient: it is logged and polling continues at the
// next interval.
func (p *Poller) poll(ctx context.Context, gen uint64, ticker string, articleIDs []string) bool {
	statuses, err := p.store.Statuses(ctx, ticker, articleIDs)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Printf("analysis/poller: fetch failed for %s: %v, retrying next tick", ticker, err)
		return true
	}

	pending, ok := p.session.MergeStatuses(gen, statuses)
	if !ok {
		// Stale generation: the session switched tickers under us.
		return false
	}
	if p.onUpdate != nil {
		p.onUpdate()
	}

	if pending == 0 {
		p.session.SetPolling(gen, false)
		if p.onUpdate != nil {
			p.onUpdate()
		}
		return false
	}
	return true
}
