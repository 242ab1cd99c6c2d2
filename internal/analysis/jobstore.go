package analysis

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/finradar/radar/pkg/models"
)

// JobStore tracks one analysis job per (ticker, article) with statuses
// pending, completed or failed. Enqueue is idempotent unless force is set;
// a failed job is retried only through an explicit force re-enqueue — the
// store never auto-retries.
type JobStore interface {
	Enqueue(ctx context.Context, ticker string, articles []models.Article, force bool) (*models.EnqueueResult, error)
	Statuses(ctx context.Context, ticker string, articleIDs []string) ([]models.AnalysisStatus, error)
}

// jobTask is one queued unit of work: a single article for a ticker.
type jobTask struct {
	ticker  string
	article models.Article
}

// MemoryJobStore is the in-process JobStore. Background workers drain the
// queue and run each article through the sentiment analyzer; job state is
// kept per ticker and survives for the lifetime of the process.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]map[string]models.AnalysisStatus // ticker -> article id -> status

	queue    chan jobTask
	analyzer SentimentAnalyzer
	workers  int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemoryJobStore creates a job store that analyzes articles with the given
// analyzer. workers is clamped to at least 1.
func NewMemoryJobStore(analyzer SentimentAnalyzer, workers int) *MemoryJobStore {
	if workers < 1 {
		workers = 1
	}
	return &MemoryJobStore{
		jobs:     make(map[string]map[string]models.AnalysisStatus),
		queue:    make(chan jobTask, 1024),
		analyzer: analyzer,
		workers:  workers,
	}
}

// Start launches the background workers.
func (s *MemoryJobStore) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	log.Printf("analysis/jobstore: starting %d worker(s)", s.workers)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
}

// Stop cancels the workers and waits for them to drain.
func (s *MemoryJobStore) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	log.Printf("analysis/jobstore: workers stopped")
}

// Enqueue registers one job per (ticker, articleId). Without force, articles
// whose job is already pending or completed are skipped; failed jobs are
// requeued. With force, existing results are discarded and every job
// restarts.
func (s *MemoryJobStore) Enqueue(ctx context.Context, ticker string, articles []models.Article, force bool) (*models.EnqueueResult, error) {
	now := time.Now()

	s.mu.Lock()
	byID := s.jobs[ticker]
	if byID == nil {
		byID = make(map[string]models.AnalysisStatus)
		s.jobs[ticker] = byID
	}

	var toQueue []jobTask
	result := &models.EnqueueResult{Results: make([]models.AnalysisStatus, 0, len(articles))}

	for _, a := range articles {
		existing, ok := byID[a.ID]
		if !force && ok && (existing.Status == models.StatusPending || existing.Status == models.StatusCompleted) {
			result.Results = append(result.Results, existing)
			if existing.Status == models.StatusPending {
				result.Pending++
			}
			continue
		}

		st := models.AnalysisStatus{
			ArticleID: a.ID,
			Status:    models.StatusPending,
			UpdatedAt: now,
		}
		byID[a.ID] = st
		result.Results = append(result.Results, st)
		result.Queued++
		result.Pending++
		toQueue = append(toQueue, jobTask{ticker: ticker, article: a})
	}
	s.mu.Unlock()

	for _, task := range toQueue {
		select {
		case s.queue <- task:
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}

	log.Printf("analysis/jobstore: enqueue ticker=%s articles=%d queued=%d pending=%d force=%v",
		ticker, len(articles), result.Queued, result.Pending, force)
	return result, nil
}

// Statuses returns current statuses for the given article ids, or for every
// known id of the ticker when articleIDs is nil.
func (s *MemoryJobStore) Statuses(_ context.Context, ticker string, articleIDs []string) ([]models.AnalysisStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.jobs[ticker]
	if byID == nil {
		return nil, nil
	}

	if articleIDs == nil {
		out := make([]models.AnalysisStatus, 0, len(byID))
		for _, st := range byID {
			out = append(out, st)
		}
		return out, nil
	}

	out := make([]models.AnalysisStatus, 0, len(articleIDs))
	for _, id := range articleIDs {
		if st, ok := byID[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

// StoreStats is an aggregate view of the store's job counts.
type StoreStats struct {
	Tickers   int `json:"tickers"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Stats returns job counts across every tracked ticker.
func (s *MemoryJobStore) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := StoreStats{Tickers: len(s.jobs)}
	for _, byID := range s.jobs {
		for _, st := range byID {
			switch st.Status {
			case models.StatusPending:
				stats.Pending++
			case models.StatusCompleted:
				stats.Completed++
			case models.StatusFailed:
				stats.Failed++
			}
		}
	}
	return stats
}

// worker drains the queue until the store is stopped.
func (s *MemoryJobStore) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	log.Printf("analysis/jobstore: worker %d started", id)
	for {
		select {
		case <-ctx.Done():
			log.Printf("analysis/jobstore: worker %d stopped", id)
			return
		case task := <-s.queue:
			s.process(ctx, task)
		}
	}
}

// process runs one job through the analyzer. A job failure surfaces as
// status=failed with an error message and never fails the batch.
func (s *MemoryJobStore) process(ctx context.Context, task jobTask) {
	results, err := s.analyzer.AnalyzeSentiment(ctx, []models.Article{task.article})

	st := models.AnalysisStatus{
		ArticleID: task.article.ID,
		UpdatedAt: time.Now(),
	}
	switch {
	case err != nil:
		st.Status = models.StatusFailed
		st.Error = err.Error()
	case len(results) == 0:
		// The provider dropped the article; there is nothing to retry
		// automatically.
		st.Status = models.StatusFailed
		st.Error = "provider returned no result for article"
	default:
		st.Status = models.StatusCompleted
		st.Sentiment = results[0].Sentiment
		st.Summary = results[0].Summary
	}

	s.mu.Lock()
	if byID := s.jobs[task.ticker]; byID != nil {
		byID[task.article.ID] = st
	}
	s.mu.Unlock()
}
