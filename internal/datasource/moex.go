package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/finradar/radar/pkg/models"
)

// DefaultMoexBaseURL is the MOEX ISS API root.
const DefaultMoexBaseURL = "https://iss.moex.com/iss"

// moexBoard is the main T+ equities board on the Moscow Exchange.
const moexBoard = "TQBR"

// Moex implements MarketData against the MOEX ISS JSON API.
type Moex struct {
	baseURL string
	cache   *Cache
	limiter *RateLimiter
}

// NewMoex creates a MOEX ISS client. An empty baseURL selects the public API.
func NewMoex(baseURL string) *Moex {
	if baseURL == "" {
		baseURL = DefaultMoexBaseURL
	}
	return &Moex{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		cache:   NewCache(5 * time.Minute),
		limiter: NewRateLimiter(5, time.Second),
	}
}

// Name returns the data source name.
func (m *Moex) Name() string { return "MOEX ISS" }

// issTable is the column/row table shape every ISS response block uses.
type issTable struct {
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
}

// col returns the index of a named column, or -1.
func (t *issTable) col(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// secid strips the exchange qualifier from a canonical ticker, yielding the
// ISS security id ("SBER@MISX" -> "SBER").
func secid(ticker string) string {
	if i := strings.Index(ticker, "@"); i >= 0 {
		return ticker[:i]
	}
	return ticker
}

// GetCompanyInfo returns company reference data from the ISS securities
// description endpoint.
func (m *Moex) GetCompanyInfo(ctx context.Context, ticker string) (*models.CompanyInfo, error) {
	id := secid(ticker)

	cacheKey := "moex:info:" + id
	if cached, ok := m.cache.Get(cacheKey); ok {
		return cached.(*models.CompanyInfo), nil
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/securities/%s.json?iss.meta=off", m.baseURL, id)
	body, _, err := doGet(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("moex company info %s: %w", id, err)
	}
	defer body.Close()

	var resp struct {
		Description issTable `json:"description"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("moex company info %s: decode: %w", id, err)
	}
	if len(resp.Description.Data) == 0 {
		return nil, fmt.Errorf("moex company info %s: %w", id, ErrTickerNotFound)
	}

	// The description block is name/title/value rows, not one row per
	// security.
	nameCol := resp.Description.col("name")
	valueCol := resp.Description.col("value")
	if nameCol < 0 || valueCol < 0 {
		return nil, fmt.Errorf("moex company info %s: unexpected description shape", id)
	}

	fields := make(map[string]string, len(resp.Description.Data))
	for _, row := range resp.Description.Data {
		if len(row) <= nameCol || len(row) <= valueCol {
			continue
		}
		k, _ := row[nameCol].(string)
		v, _ := row[valueCol].(string)
		fields[k] = v
	}

	info := &models.CompanyInfo{
		Ticker:      ticker,
		CompanyName: fields["NAME"],
		ISIN:        fields["ISIN"],
		Exchange:    "MISX",
	}
	if info.CompanyName == "" {
		info.CompanyName = fields["SHORTNAME"]
	}
	if info.CompanyName == "" {
		return nil, fmt.Errorf("moex company info %s: %w", id, ErrTickerNotFound)
	}

	m.cache.Set(cacheKey, info)
	return info, nil
}

// GetPriceHistory returns daily closes for the trailing number of days,
// oldest first.
func (m *Moex) GetPriceHistory(ctx context.Context, ticker string, days int) ([]models.PricePoint, error) {
	if days <= 0 {
		days = 30
	}
	id := secid(ticker)

	cacheKey := fmt.Sprintf("moex:history:%s:%d", id, days)
	if cached, ok := m.cache.Get(cacheKey); ok {
		return cached.([]models.PricePoint), nil
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	till := time.Now()
	from := till.AddDate(0, 0, -days)
	url := fmt.Sprintf(
		"%s/history/engines/stock/markets/shares/boards/%s/securities/%s.json?iss.meta=off&from=%s&till=%s",
		m.baseURL, moexBoard, id,
		from.Format("2006-01-02"), till.Format("2006-01-02"),
	)

	body, _, err := doGet(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("moex history %s: %w", id, err)
	}
	defer body.Close()

	var resp struct {
		History issTable `json:"history"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("moex history %s: decode: %w", id, err)
	}

	dateCol := resp.History.col("TRADEDATE")
	closeCol := resp.History.col("CLOSE")
	if dateCol < 0 || closeCol < 0 {
		return nil, fmt.Errorf("moex history %s: unexpected history shape", id)
	}

	points := make([]models.PricePoint, 0, len(resp.History.Data))
	for _, row := range resp.History.Data {
		if len(row) <= dateCol || len(row) <= closeCol {
			continue
		}
		date, _ := row[dateCol].(string)
		price, ok := row[closeCol].(float64)
		if date == "" || !ok {
			// Suspended sessions report null closes. Skip them.
			continue
		}
		points = append(points, models.PricePoint{Date: date, Price: price})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("moex history %s: %w", id, ErrTickerNotFound)
	}

	m.cache.Set(cacheKey, points)
	return points, nil
}

// GetTickerDirectory returns all securities on the main equities board.
// The result is cached aggressively since board composition changes rarely.
func (m *Moex) GetTickerDirectory(ctx context.Context) ([]models.TickerSuggestion, error) {
	cacheKey := "moex:directory"
	if cached, ok := m.cache.Get(cacheKey); ok {
		return cached.([]models.TickerSuggestion), nil
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf(
		"%s/engines/stock/markets/shares/boards/%s/securities.json?iss.meta=off&iss.only=securities",
		m.baseURL, moexBoard,
	)
	body, _, err := doGet(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("moex directory: %w", err)
	}
	defer body.Close()

	var resp struct {
		Securities issTable `json:"securities"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("moex directory: decode: %w", err)
	}

	idCol := resp.Securities.col("SECID")
	nameCol := resp.Securities.col("SECNAME")
	if nameCol < 0 {
		nameCol = resp.Securities.col("SHORTNAME")
	}
	if idCol < 0 || nameCol < 0 {
		return nil, fmt.Errorf("moex directory: unexpected securities shape")
	}

	directory := make([]models.TickerSuggestion, 0, len(resp.Securities.Data))
	for _, row := range resp.Securities.Data {
		if len(row) <= idCol || len(row) <= nameCol {
			continue
		}
		id, _ := row[idCol].(string)
		name, _ := row[nameCol].(string)
		if id == "" {
			continue
		}
		directory = append(directory, models.TickerSuggestion{
			Ticker:      id + "@MISX",
			CompanyName: name,
			Exchange:    "MISX",
		})
	}

	m.cache.SetWithTTL(cacheKey, directory, time.Hour)
	return directory, nil
}
