// Package resolver maps free-text user input to a canonical ticker by
// applying an ordered list of match strategies against the ticker/company
// directory. The strategy order is a behavioral contract, not an
// implementation detail.
package resolver

import (
	"errors"
	"log"
	"strings"

	"github.com/finradar/radar/pkg/models"
)

// ErrNotFound is returned when no directory entry satisfies any strategy.
var ErrNotFound = errors.New("resolver: ticker not found")

// DefaultExchangeSuffix is appended to unqualified ticker input when probing
// for an exchange-qualified match (MOEX main board).
const DefaultExchangeSuffix = "@MISX"

// Resolver resolves free-text queries against a read-only directory loaded
// once per session.
type Resolver struct {
	directory []models.TickerSuggestion
	suffix    string
}

// Option configures the resolver.
type Option func(*Resolver)

// WithExchangeSuffix overrides the default exchange suffix.
func WithExchangeSuffix(suffix string) Option {
	return func(r *Resolver) { r.suffix = suffix }
}

// New creates a resolver over the given directory. Directory order matters:
// the substring strategy returns the first entry containing the query.
func New(directory []models.TickerSuggestion, opts ...Option) *Resolver {
	r := &Resolver{directory: directory, suffix: DefaultExchangeSuffix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Directory returns the resolver's directory.
func (r *Resolver) Directory() []models.TickerSuggestion { return r.directory }

// strategy is one prioritized matching rule.
type strategy struct {
	name  string
	match func(query string, entry models.TickerSuggestion) bool
}

// strategies returns the matching rules in priority order:
//  1. exact ticker
//  2. ticker with the default exchange suffix appended (only when the input
//     carries no exchange qualifier)
//  3. exact company name
//  4. company-name substring
//
// All comparisons are case-insensitive and Unicode-aware, so Cyrillic company
// names match lowercase input.
func (r *Resolver) strategies() []strategy {
	return []strategy{
		{"exact-ticker", func(q string, e models.TickerSuggestion) bool {
			return strings.EqualFold(q, e.Ticker)
		}},
		{"ticker-default-exchange", func(q string, e models.TickerSuggestion) bool {
			if strings.Contains(q, "@") {
				return false
			}
			return strings.EqualFold(q+r.suffix, e.Ticker)
		}},
		{"exact-company", func(q string, e models.TickerSuggestion) bool {
			return strings.EqualFold(q, e.CompanyName)
		}},
		{"company-substring", func(q string, e models.TickerSuggestion) bool {
			return strings.Contains(strings.ToLower(e.CompanyName), strings.ToLower(q))
		}},
	}
}

// Resolve maps query to a single directory entry, first match wins. On
// failure it returns ErrNotFound and the caller must leave existing session
// state untouched.
func (r *Resolver) Resolve(query string) (models.TickerSuggestion, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.TickerSuggestion{}, ErrNotFound
	}

	for _, strat := range r.strategies() {
		for _, entry := range r.directory {
			if strat.match(query, entry) {
				log.Printf("resolver: %q -> %s via %s", query, entry.Ticker, strat.name)
				return entry, nil
			}
		}
	}
	return models.TickerSuggestion{}, ErrNotFound
}
