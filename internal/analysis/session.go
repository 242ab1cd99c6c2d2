package analysis

import (
	"sync"

	"github.com/finradar/radar/pkg/models"
)

// Session holds the state scoped to one actively viewed ticker: articles,
// price history and the status map. A ticker change replaces the whole state
// atomically and bumps the generation token; writes carrying a stale
// generation are rejected, so results from an old session can never leak into
// the new one.
type Session struct {
	mu           sync.RWMutex
	ticker       string
	companyName  string
	priceHistory []models.PricePoint
	articles     []models.Article
	statuses     *StatusMap
	polling      bool
	generation   uint64
}

// Snapshot is the consistent, read-only session view handed to the
// presentation layer.
type Snapshot struct {
	Ticker       string                            `json:"ticker"`
	CompanyName  string                            `json:"company_name"`
	PriceHistory []models.PricePoint               `json:"price_history"`
	Articles     []models.Article                  `json:"articles"`
	Statuses     map[string]models.AnalysisStatus  `json:"statuses"`
	Analyzed     []models.AnalyzedArticle          `json:"analyzed"`
	IsPolling    bool                              `json:"is_polling"`
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{statuses: NewStatusMap()}
}

// Reset atomically replaces the session state for a new ticker, discarding
// the previous articles and statuses, and returns the new generation token.
func (s *Session) Reset(ticker, companyName string, history []models.PricePoint, articles []models.Article) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticker = ticker
	s.companyName = companyName
	s.priceHistory = history
	s.articles = articles
	s.statuses = NewStatusMap()
	s.polling = false
	s.generation++
	return s.generation
}

// Generation returns the current generation token.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Ticker returns the active ticker.
func (s *Session) Ticker() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticker
}

// ArticleIDs returns the ids of the session's articles in order.
func (s *Session) ArticleIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.articles))
	for i, a := range s.articles {
		ids[i] = a.ID
	}
	return ids
}

// MergeStatuses applies statuses to the session's status map if gen is still
// the current generation. It returns the number of still-pending articles and
// whether the merge was applied.
func (s *Session) MergeStatuses(gen uint64, statuses []models.AnalysisStatus) (pending int, ok bool) {
	s.mu.RLock()
	current := s.generation
	m := s.statuses
	s.mu.RUnlock()

	if gen != current {
		return 0, false
	}
	m.MergeAll(statuses)
	return m.Pending(), true
}

// DiscardStatuses drops the session's statuses for the given article ids if
// gen is still the current generation. This is the discard moment of a forced
// re-analysis: completed results are removed so the re-queued pending
// statuses can be merged and polled to fresh completion.
func (s *Session) DiscardStatuses(gen uint64, articleIDs []string) bool {
	s.mu.RLock()
	current := s.generation
	m := s.statuses
	s.mu.RUnlock()

	if gen != current {
		return false
	}
	m.Remove(articleIDs)
	return true
}

// SetPolling flips the polling flag if gen is still current.
func (s *Session) SetPolling(gen uint64, polling bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	s.polling = polling
	return true
}

// Pending returns the number of pending articles in the current session.
func (s *Session) Pending() int {
	s.mu.RLock()
	m := s.statuses
	s.mu.RUnlock()
	return m.Pending()
}

// Snapshot returns a consistent copy of the session, including the derived
// analyzed-article projection.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := s.statuses.All()
	return Snapshot{
		Ticker:       s.ticker,
		CompanyName:  s.companyName,
		PriceHistory: append([]models.PricePoint(nil), s.priceHistory...),
		Articles:     append([]models.Article(nil), s.articles...),
		Statuses:     statuses,
		Analyzed:     projectAnalyzed(s.articles, statuses),
		IsPolling:    s.polling,
	}
}

// projectAnalyzed is the pure projection combining articles with completed
// statuses. An article is analyzed only when its status is completed AND both
// sentiment and summary are present; it is never partially populated.
func projectAnalyzed(articles []models.Article, statuses map[string]models.AnalysisStatus) []models.AnalyzedArticle {
	var out []models.AnalyzedArticle
	for _, a := range articles {
		st, ok := statuses[a.ID]
		if !ok || st.Status != models.StatusCompleted {
			continue
		}
		if st.Sentiment == "" || st.Summary == "" {
			continue
		}
		out = append(out, models.AnalyzedArticle{
			Article:   a,
			Sentiment: st.Sentiment,
			Summary:   st.Summary,
		})
	}
	return out
}
