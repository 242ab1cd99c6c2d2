package analysis

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finradar/radar/internal/datasource"
	"github.com/finradar/radar/internal/resolver"
	"github.com/finradar/radar/pkg/models"
)

// Engine is the LLM surface the service consumes: batch sentiment plus
// forecasting. The fallback chain satisfies it.
type Engine interface {
	SentimentAnalyzer
	Forecast(ctx context.Context, ticker string, history []models.PricePoint, analyzed []models.AnalyzedArticle) (*models.ForecastResult, error)
}

// Options tune the service's data fetching and polling.
type Options struct {
	WindowDays   int           // trailing news window
	ArticleLimit int           // max articles per session
	PollInterval time.Duration // job store poll period
}

// Service orchestrates the analysis lifecycle for the single active ticker
// session: resolution, concurrent data loading, idempotent job submission,
// and background status polling.
type Service struct {
	market datasource.MarketData
	news   datasource.ArticleSource
	store  JobStore
	engine Engine
	opts   Options

	session  *Session
	onUpdate func()

	mu         sync.Mutex
	res        *resolver.Resolver
	cancelPoll context.CancelFunc
}

// NewService creates the orchestration service. onUpdate is invoked after
// every observable session change and may be nil.
func NewService(market datasource.MarketData, news datasource.ArticleSource, store JobStore, engine Engine, opts Options, onUpdate func()) *Service {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 7
	}
	if opts.ArticleLimit <= 0 {
		opts.ArticleLimit = 30
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Service{
		market:   market,
		news:     news,
		store:    store,
		engine:   engine,
		opts:     opts,
		session:  NewSession(),
		onUpdate: onUpdate,
	}
}

// Session returns the active session for direct snapshot access.
func (s *Service) Session() *Session { return s.session }

// Close stops any in-flight polling.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelPoll != nil {
		s.cancelPoll()
		s.cancelPoll = nil
	}
}

// directoryResolver builds the ticker resolver on first use. The directory is
// loaded once and reused for the process lifetime.
func (s *Service) directoryResolver(ctx context.Context) (*resolver.Resolver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.res != nil {
		return s.res, nil
	}

	directory, err := s.market.GetTickerDirectory(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ticker directory: %w", err)
	}
	s.res = resolver.New(directory)
	log.Printf("analysis/service: loaded ticker directory, %d entries", len(directory))
	return s.res, nil
}

// Resolve maps free-text input to a directory entry without touching the
// session.
func (s *Service) Resolve(ctx context.Context, query string) (models.TickerSuggestion, error) {
	res, err := s.directoryResolver(ctx)
	if err != nil {
		return models.TickerSuggestion{}, err
	}
	return res.Resolve(query)
}

// Suggest returns directory entries whose ticker or company name contains the
// query, in directory order, capped at limit.
func (s *Service) Suggest(ctx context.Context, query string, limit int) ([]models.TickerSuggestion, error) {
	res, err := s.directoryResolver(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}

	var out []models.TickerSuggestion
	for _, entry := range res.Directory() {
		if strings.Contains(strings.ToLower(entry.Ticker), q) ||
			strings.Contains(strings.ToLower(entry.CompanyName), q) {
			out = append(out, entry)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// SwitchTicker resolves the query and replaces the active session with a
// fresh one for the resolved ticker. Resolution failure leaves the current
// session untouched. Company info, price history and news are fetched
// concurrently; each degrades independently so one upstream outage never
// blocks the switch.
func (s *Service) SwitchTicker(ctx context.Context, query string) (Snapshot, error) {
	res, err := s.directoryResolver(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	suggestion, err := res.Resolve(query)
	if err != nil {
		return Snapshot{}, err
	}
	ticker := suggestion.Ticker
	log.Printf("analysis/service: switching to %s", ticker)

	// The previous session's poller must not outlive the switch.
	s.stopPolling()

	var (
		mu          sync.Mutex
		companyName = suggestion.CompanyName
		history     []models.PricePoint
		articles    []models.Article
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		info, err := s.market.GetCompanyInfo(gctx, ticker)
		if err != nil {
			log.Printf("analysis/service: company info degraded for %s: %v", ticker, err)
			return nil // non-fatal, keep the directory name
		}
		mu.Lock()
		companyName = info.CompanyName
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		points, err := s.market.GetPriceHistory(gctx, ticker, s.opts.WindowDays)
		if err != nil {
			log.Printf("analysis/service: price history degraded for %s: %v", ticker, err)
			return nil
		}
		mu.Lock()
		history = points
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		items, err := s.news.GetRecentArticles(gctx, ticker, suggestion.CompanyName, s.opts.WindowDays, s.opts.ArticleLimit)
		if err != nil {
			log.Printf("analysis/service: news degraded for %s: %v", ticker, err)
			return nil
		}
		mu.Lock()
		articles = items
		mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	gen := s.session.Reset(ticker, companyName, history, articles)

	if err := s.submit(ctx, gen, ticker, articles, false); err != nil {
		// Submission failure degrades the session to loaded-but-unanalyzed
		// rather than failing the switch.
		log.Printf("analysis/service: enqueue failed for %s: %v", ticker, err)
	}

	s.notify()
	return s.session.Snapshot(), nil
}

// Reanalyze force-resubmits every article of the active session, including
// completed ones.
func (s *Service) Reanalyze(ctx context.Context) (Snapshot, error) {
	snap := s.session.Snapshot()
	if snap.Ticker == "" {
		return Snapshot{}, fmt.Errorf("no active session")
	}

	s.stopPolling()
	gen := s.session.Generation()

	if err := s.submit(ctx, gen, snap.Ticker, snap.Articles, true); err != nil {
		return Snapshot{}, err
	}

	s.notify()
	return s.session.Snapshot(), nil
}

// submit enqueues articles and seeds the session's status map from the job
// store's response, starting the poller when work is pending. A force
// submission first discards the session's existing results for the re-queued
// articles; the status map's forward-only guard would otherwise reject the
// fresh pending statuses and the poller would never pick up the re-run.
func (s *Service) submit(ctx context.Context, gen uint64, ticker string, articles []models.Article, force bool) error {
	if len(articles) == 0 {
		return nil
	}

	result, err := s.store.Enqueue(ctx, ticker, articles, force)
	if err != nil {
		return err
	}
	log.Printf("analysis/service: enqueued %s: %d queued, %d pending", ticker, result.Queued, result.Pending)

	if force {
		ids := make([]string, len(articles))
		for i, a := range articles {
			ids[i] = a.ID
		}
		if !s.session.DiscardStatuses(gen, ids) {
			return nil
		}
	}

	pending, ok := s.session.MergeStatuses(gen, result.Results)
	if !ok {
		return nil // session switched underneath us
	}
	if pending > 0 {
		s.startPolling(gen, ticker)
	}
	return nil
}

// Forecast produces the 7-day price forecast for the active session. Unlike
// sentiment, forecasting has no degraded mode: total provider failure
// surfaces as an error.
func (s *Service) Forecast(ctx context.Context) (*models.ForecastResult, error) {
	snap := s.session.Snapshot()
	if snap.Ticker == "" {
		return nil, fmt.Errorf("no active session")
	}
	return s.engine.Forecast(ctx, snap.Ticker, snap.PriceHistory, snap.Analyzed)
}

// startPolling launches the background poller for the given generation,
// replacing any previous one.
func (s *Service) startPolling(gen uint64, ticker string) {
	s.mu.Lock()
	if s.cancelPoll != nil {
		s.cancelPoll()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelPoll = cancel
	s.mu.Unlock()

	if !s.session.SetPolling(gen, true) {
		cancel()
		return
	}

	ids := s.session.ArticleIDs()
	poller := NewPoller(s.store, s.session, s.opts.PollInterval, s.notify)
	go poller.Run(ctx, gen, ticker, ids)
}

func (s *Service) stopPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelPoll != nil {
		s.cancelPoll()
		s.cancelPoll = nil
	}
}

func (s *Service) notify() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}
