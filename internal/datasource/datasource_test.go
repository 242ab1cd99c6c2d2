package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/finradar/radar/pkg/models"
)

func TestCacheSetGet(t *testing.T) {
	c := NewCache(time.Minute)
	c.Set("key", 42)

	v, ok := c.Get("key")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if v.(int) != 42 {
		t.Errorf("expected 42, got %v", v)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Minute)
	c.SetWithTTL("key", "value", -time.Second)

	if _, ok := c.Get("key"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache(time.Minute)
	c.Set("key", "value")
	c.Invalidate("key")

	if _, ok := c.Get("key"); ok {
		t.Error("expected invalidated entry to miss")
	}
}

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := NewRateLimiter(3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
}

func TestRateLimiterBlocksOnCancel(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDoGetHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, status, err := doGet(context.Background(), srv.URL, nil)
	if err == nil {
		t.Fatal("expected error for 403")
	}
	if status != http.StatusForbidden {
		t.Errorf("expected 403, got %d", status)
	}

	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *ErrHTTP, got %T", err)
	}
}

// --- MOEX ---

func TestMoexGetPriceHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"history":{"columns":["TRADEDATE","CLOSE"],"data":[
			["2026-08-27",310.5],
			["2026-08-28",null],
			["2026-08-29",312.1]
		]}}`)
	}))
	defer srv.Close()

	m := NewMoex(srv.URL)
	points, err := m.GetPriceHistory(context.Background(), "SBER@MISX", 7)
	if err != nil {
		t.Fatalf("GetPriceHistory: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points (null close skipped), got %d", len(points))
	}
	if points[0].Date != "2026-08-27" || points[0].Price != 310.5 {
		t.Errorf("unexpected first point: %+v", points[0])
	}
}

func TestMoexGetCompanyInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"description":{"columns":["name","title","value"],"data":[
			["SECID","Код","SBER"],
			["NAME","Название","Сбербанк России ПАО"],
			["ISIN","ISIN","RU0009029540"]
		]}}`)
	}))
	defer srv.Close()

	m := NewMoex(srv.URL)
	info, err := m.GetCompanyInfo(context.Background(), "SBER@MISX")
	if err != nil {
		t.Fatalf("GetCompanyInfo: %v", err)
	}
	if info.CompanyName != "Сбербанк России ПАО" {
		t.Errorf("unexpected name: %s", info.CompanyName)
	}
	if info.ISIN != "RU0009029540" {
		t.Errorf("unexpected ISIN: %s", info.ISIN)
	}
	if info.Ticker != "SBER@MISX" {
		t.Errorf("ticker should keep the exchange qualifier, got %s", info.Ticker)
	}
}

func TestMoexGetCompanyInfoNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"description":{"columns":["name","title","value"],"data":[]}}`)
	}))
	defer srv.Close()

	m := NewMoex(srv.URL)
	_, err := m.GetCompanyInfo(context.Background(), "NOPE")
	if !errors.Is(err, ErrTickerNotFound) {
		t.Fatalf("expected ErrTickerNotFound, got %v", err)
	}
}

func TestMoexGetTickerDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"securities":{"columns":["SECID","SECNAME"],"data":[
			["SBER","Сбербанк"],
			["GAZP","Газпром"]
		]}}`)
	}))
	defer srv.Close()

	m := NewMoex(srv.URL)
	dir, err := m.GetTickerDirectory(context.Background())
	if err != nil {
		t.Fatalf("GetTickerDirectory: %v", err)
	}
	if len(dir) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(dir))
	}
	if dir[0].Ticker != "SBER@MISX" {
		t.Errorf("directory entries should carry the exchange qualifier, got %s", dir[0].Ticker)
	}
}

// --- News ---

func TestNewsGetRecentArticles(t *testing.T) {
	now := time.Now().UTC()
	rss := fmt.Sprintf(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>Test</title>
<item>
  <title>Сбербанк отчитался о прибыли</title>
  <link>https://example.com/a1</link>
  <description>&lt;p&gt;Квартальная отчётность&lt;/p&gt;</description>
  <pubDate>%s</pubDate>
</item>
<item>
  <title>Газпром подписал контракт</title>
  <link>https://example.com/a2</link>
  <description>Новый контракт</description>
  <pubDate>%s</pubDate>
</item>
<item>
  <title>Старая новость про Сбербанк</title>
  <link>https://example.com/a3</link>
  <description>Давно</description>
  <pubDate>%s</pubDate>
</item>
</channel></rss>`,
		now.Format(time.RFC1123Z),
		now.Add(-time.Hour).Format(time.RFC1123Z),
		now.AddDate(0, 0, -30).Format(time.RFC1123Z),
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rss)
	}))
	defer srv.Close()

	n := NewNewsWithSources([]NewsSource{{Name: "Test", RSSURL: srv.URL}})
	articles, err := n.GetRecentArticles(context.Background(), "SBER@MISX", "Сбербанк", 7, 0)
	if err != nil {
		t.Fatalf("GetRecentArticles: %v", err)
	}

	// The Gazprom item does not match; the 30-day-old item is outside the
	// window.
	if len(articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(articles))
	}
	a := articles[0]
	if a.Headline != "Сбербанк отчитался о прибыли" {
		t.Errorf("unexpected headline: %s", a.Headline)
	}
	if a.Content != "Квартальная отчётность" {
		t.Errorf("HTML should be stripped, got %q", a.Content)
	}
	if a.ID == "" {
		t.Error("expected non-empty article id")
	}
}

func TestNewsArticleIDStable(t *testing.T) {
	a := articleID("https://example.com/a1", "title")
	b := articleID("https://example.com/a1", "different title")
	if a != b {
		t.Error("id should depend only on the URL when present")
	}
	c := articleID("https://example.com/a2", "title")
	if a == c {
		t.Error("different URLs should produce different ids")
	}
}

func TestArticleKeywords(t *testing.T) {
	kws := articleKeywords("SBER@MISX", "Сбербанк России ПАО")
	want := []string{"sber", "сбербанк россии пао", "сбербанк"}
	if len(kws) != len(want) {
		t.Fatalf("expected %v, got %v", want, kws)
	}
	for i := range want {
		if kws[i] != want[i] {
			t.Errorf("keyword %d: expected %q, got %q", i, want[i], kws[i])
		}
	}

	// Leading legal form is skipped for the brand word.
	kws = articleKeywords("GAZP@MISX", `ПАО "Газпром"`)
	if kws[len(kws)-1] != "газпром" {
		t.Errorf("expected brand word газпром, got %v", kws)
	}

	// No company name: secid only.
	kws = articleKeywords("SBER@MISX", "")
	if len(kws) != 1 || kws[0] != "sber" {
		t.Errorf("expected [sber], got %v", kws)
	}
}

func TestSortArticlesByDate(t *testing.T) {
	articles := []models.Article{
		{ID: "old", Timestamp: 1000},
		{ID: "new", Timestamp: 3000},
		{ID: "mid", Timestamp: 2000},
	}
	sortArticlesByDate(articles)

	want := []string{"new", "mid", "old"}
	for i, id := range want {
		if articles[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, articles[i].ID)
		}
	}
}

func TestNewsAllSourcesFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNewsWithSources([]NewsSource{{Name: "Down", RSSURL: srv.URL}})
	if _, err := n.GetRecentArticles(context.Background(), "SBER@MISX", "", 7, 0); err == nil {
		t.Fatal("expected error when every source fails")
	}
}

// --- Anomaly feed ---

func TestAnomalyAPIGetAnomalies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/anomalies" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"ticker":"SBER@MISX","direction":"buy","z_score":8.2,"delta":6.1,"price":310.0,"top_news":"Отчётность","news_count":3,"timestamp":1756640000,"timeframe":"M30"},
			{"ticker":"GAZP@MISX","direction":"SELL","z_score":5.5,"news_count":0,"timestamp":1756639000,"timeframe":"M5"}
		]`)
	}))
	defer srv.Close()

	a := NewAnomalyAPI(srv.URL)
	events, err := a.GetAnomalies(context.Background(), 20)
	if err != nil {
		t.Fatalf("GetAnomalies: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Direction != "buy" {
		t.Errorf("unexpected direction: %s", events[0].Direction)
	}
	if events[1].Direction != "sell" {
		t.Errorf("direction should be normalized lowercase, got %s", events[1].Direction)
	}
	if events[0].Timestamp.Unix() != 1756640000 {
		t.Errorf("unexpected timestamp: %v", events[0].Timestamp)
	}
}
