package models

import "fmt"

// PricePoint is a single (date, price) observation in a price series.
type PricePoint struct {
	Date  string  `json:"date"` // "2006-01-02"
	Price float64 `json:"price"`
}

// CompanyInfo is the minimal company record behind a ticker.
type CompanyInfo struct {
	Ticker      string `json:"ticker"`
	CompanyName string `json:"company_name"`
	ISIN        string `json:"isin,omitempty"`
	Exchange    string `json:"exchange,omitempty"`
}

// TickerSuggestion is one entry of the ticker/company directory used for
// resolving free-text input. The directory is loaded once per session and
// read-only thereafter.
type TickerSuggestion struct {
	Ticker      string `json:"ticker"`
	CompanyName string `json:"company_name"`
	Exchange    string `json:"exchange,omitempty"`
}

// ForecastDays is the required length of a price forecast.
const ForecastDays = 7

// ForecastResult is a 7-day price path with accompanying free-text analysis.
// It is produced once per forecast request and never incrementally updated.
type ForecastResult struct {
	Forecast []PricePoint `json:"forecast"`
	Analysis string       `json:"analysis"`
}

// Validate checks the forecast shape: exactly ForecastDays points and a
// non-empty analysis. Anything else is a hard validation failure for the
// producing provider.
func (f *ForecastResult) Validate() error {
	if f == nil {
		return fmt.Errorf("forecast result is nil")
	}
	if len(f.Forecast) != ForecastDays {
		return fmt.Errorf("forecast must contain exactly %d points, got %d", ForecastDays, len(f.Forecast))
	}
	if f.Analysis == "" {
		return fmt.Errorf("forecast analysis is empty")
	}
	return nil
}
