package datasource

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/finradar/radar/pkg/models"
)

// NewsSource represents one financial news RSS feed.
type NewsSource struct {
	Name    string
	RSSURL  string
	BaseURL string
}

// DefaultNewsSources lists the configured Russian financial news RSS feeds.
var DefaultNewsSources = []NewsSource{
	{
		Name:    "РБК",
		RSSURL:  "https://rssexport.rbc.ru/rbcnews/news/30/full.rss",
		BaseURL: "https://www.rbc.ru",
	},
	{
		Name:    "Коммерсантъ",
		RSSURL:  "https://www.kommersant.ru/RSS/news.xml",
		BaseURL: "https://www.kommersant.ru",
	},
	{
		Name:    "Интерфакс",
		RSSURL:  "https://www.interfax.ru/rss.asp",
		BaseURL: "https://www.interfax.ru",
	},
}

// News implements ArticleSource over financial news RSS feeds.
type News struct {
	sources []NewsSource
	cache   *Cache
	limiter *RateLimiter
	parser  *gofeed.Parser
}

// NewNews creates a news source with the default Russian feeds.
func NewNews() *News {
	return NewNewsWithSources(DefaultNewsSources)
}

// NewNewsWithSources creates a news source with custom feeds.
func NewNewsWithSources(sources []NewsSource) *News {
	return &News{
		sources: sources,
		cache:   NewCache(10 * time.Minute),
		limiter: NewRateLimiter(2, time.Second), // conservative: 2 req/s
		parser:  gofeed.NewParser(),
	}
}

// Name returns the data source name.
func (n *News) Name() string { return "Russian News" }

// GetRecentArticles returns articles mentioning the ticker or its company
// name, published within the trailing window, newest first.
func (n *News) GetRecentArticles(ctx context.Context, ticker, companyName string, windowDays, limit int) ([]models.Article, error) {
	if windowDays <= 0 {
		windowDays = 7
	}

	cacheKey := fmt.Sprintf("news:%s:%d:%d", ticker, windowDays, limit)
	if cached, ok := n.cache.Get(cacheKey); ok {
		return cached.([]models.Article), nil
	}

	all, err := n.fetchAll(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().AddDate(0, 0, -windowDays).UnixMilli()
	keywords := articleKeywords(ticker, companyName)

	var filtered []models.Article
	for _, a := range all {
		if a.Timestamp < cutoff {
			continue
		}
		if !matchesAny(a.Headline+" "+a.Content, keywords) {
			continue
		}
		filtered = append(filtered, a)
	}

	sortArticlesByDate(filtered)
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}

	n.cache.Set(cacheKey, filtered)
	return filtered, nil
}

// fetchAll pulls every configured feed, skipping sources that fail.
func (n *News) fetchAll(ctx context.Context) ([]models.Article, error) {
	var all []models.Article
	var failures int
	for _, src := range n.sources {
		articles, err := n.fetchRSS(ctx, src)
		if err != nil {
			log.Printf("datasource/news: %s: %v", src.Name, err)
			failures++
			continue
		}
		all = append(all, articles...)
	}
	if failures == len(n.sources) && len(n.sources) > 0 {
		return nil, fmt.Errorf("all %d news sources failed", failures)
	}
	return all, nil
}

// fetchRSS parses one RSS feed into articles.
func (n *News) fetchRSS(ctx context.Context, src NewsSource) ([]models.Article, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	feed, err := n.parser.ParseURLWithContext(src.RSSURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse RSS %s: %w", src.Name, err)
	}

	articles := make([]models.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		a := models.Article{
			ID:       articleID(item.Link, item.Title),
			Headline: strings.TrimSpace(item.Title),
			Content:  cleanHTML(item.Description),
			Source:   src.Name,
			URL:      item.Link,
		}
		if item.PublishedParsed != nil {
			a.Timestamp = item.PublishedParsed.UnixMilli()
		}
		articles = append(articles, a)
	}

	return articles, nil
}

// articleID derives a stable article id from the URL, falling back to the
// headline for feeds without permalinks. Stable ids keep re-submissions of
// the same article idempotent downstream.
func articleID(url, title string) string {
	key := url
	if key == "" {
		key = title
	}
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// cleanHTML strips HTML tags from a string using goquery.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}

// legalForms are company-type tokens carried by registry names; they are
// never useful as search keywords.
var legalForms = map[string]struct{}{
	"пао": {}, "ао": {}, "оао": {}, "зао": {}, "ооо": {}, "мкпао": {},
	"pjsc": {}, "jsc": {}, "plc": {}, "ltd": {}, "inc": {},
}

// articleKeywords returns the search keywords for a ticker: the bare security
// id, the full company name, and the brand word. Registry names are rarely
// written out in news text, so the first word that is not a legal form
// ("Сбербанк России ПАО" -> "сбербанк") carries most of the matches.
func articleKeywords(ticker, companyName string) []string {
	keywords := []string{strings.ToLower(secid(ticker))}
	name := strings.ToLower(companyName)
	if name == "" {
		return keywords
	}
	keywords = append(keywords, name)
	for _, w := range strings.Fields(name) {
		w = strings.Trim(w, `"«»()`)
		if _, legal := legalForms[w]; legal || len([]rune(w)) < 3 {
			continue
		}
		if w != name {
			keywords = append(keywords, w)
		}
		break
	}
	return keywords
}

// matchesAny checks if text contains any of the keywords (case-insensitive).
func matchesAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// sortArticlesByDate sorts articles newest first.
func sortArticlesByDate(articles []models.Article) {
	sort.Slice(articles, func(i, j int) bool {
		return articles[i].Timestamp > articles[j].Timestamp
	})
}
