// Radar — resilient news-driven analysis for Moscow Exchange equities.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/finradar/radar/api"
	"github.com/finradar/radar/internal/analysis"
	"github.com/finradar/radar/internal/config"
	"github.com/finradar/radar/internal/datasource"
	"github.com/finradar/radar/internal/llm"
	"github.com/finradar/radar/internal/resolver"
	"github.com/finradar/radar/pkg/models"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "radar",
	Short: "Radar — news-driven sentiment analysis and price forecasting for MOEX equities",
	Long: `Radar tracks Moscow Exchange tickers, collects recent news for the
selected company, classifies each article's sentiment through a fallback
chain of AI providers and produces a 7-day price forecast from the price
history and the analyzed news.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(forecastCmd)
	rootCmd.AddCommand(resolveCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Radar %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := api.NewServer(cfg)
		if err != nil {
			return err
		}
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		fmt.Printf("Starting Radar API server on %s\n", addr)
		return srv.ListenAndServe(addr)
	},
}

// --- Analyze Command ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze [ticker]",
	Short: "Analyze recent news sentiment for a ticker",
	Long: `Resolve the ticker, fetch recent news for the company and classify
each article's sentiment. Articles are submitted to the provider chain in
consecutive batches; the whole run is synchronous.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()

		chain, err := llm.NewChainFromConfig(cfg)
		if err != nil {
			return err
		}

		moex := datasource.NewMoex(cfg.Sources.MoexURL)
		suggestion, err := resolveTicker(ctx, moex, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Ticker: %s (%s)\n", suggestion.Ticker, suggestion.CompanyName)

		news := newsSource()
		articles, err := news.GetRecentArticles(ctx, suggestion.Ticker, suggestion.CompanyName,
			cfg.Analysis.WindowDays, cfg.Analysis.ArticleLimit)
		if err != nil {
			return fmt.Errorf("fetch news: %w", err)
		}
		if len(articles) == 0 {
			fmt.Println("No recent news found.")
			return nil
		}
		fmt.Printf("Found %d articles, analyzing in batches of %d...\n\n",
			len(articles), cfg.Analysis.BatchSize)

		batcher := analysis.NewBatcher(chain, cfg.Analysis.BatchSize)
		analyzed, err := batcher.Submit(ctx, articles)
		if err != nil {
			return fmt.Errorf("analyze: %w", err)
		}

		for _, a := range analyzed {
			fmt.Printf("[%s] %s\n", a.Sentiment, a.Headline)
			fmt.Printf("        %s\n", a.Summary)
		}
		return nil
	},
}

// --- Forecast Command ---

var forecastCmd = &cobra.Command{
	Use:   "forecast [ticker]",
	Short: "Produce a 7-day price forecast for a ticker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()

		chain, err := llm.NewChainFromConfig(cfg)
		if err != nil {
			return err
		}

		moex := datasource.NewMoex(cfg.Sources.MoexURL)
		suggestion, err := resolveTicker(ctx, moex, args[0])
		if err != nil {
			return err
		}

		history, err := moex.GetPriceHistory(ctx, suggestion.Ticker, 30)
		if err != nil {
			return fmt.Errorf("fetch price history: %w", err)
		}

		news := newsSource()
		articles, err := news.GetRecentArticles(ctx, suggestion.Ticker, suggestion.CompanyName,
			cfg.Analysis.WindowDays, cfg.Analysis.ArticleLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: news unavailable: %v\n", err)
		}

		batcher := analysis.NewBatcher(chain, cfg.Analysis.BatchSize)
		analyzed, err := batcher.Submit(ctx, articles)
		if err != nil {
			return fmt.Errorf("analyze: %w", err)
		}

		result, err := chain.Forecast(ctx, suggestion.Ticker, history, analyzed)
		if err != nil {
			return fmt.Errorf("forecast: %w", err)
		}

		fmt.Printf("7-day forecast for %s (%s):\n", suggestion.Ticker, suggestion.CompanyName)
		for _, p := range result.Forecast {
			fmt.Printf("  %s  %.2f\n", p.Date, p.Price)
		}
		fmt.Printf("\n%s\n", result.Analysis)
		return nil
	},
}

// --- Resolve Command ---

var resolveCmd = &cobra.Command{
	Use:   "resolve [query]",
	Short: "Resolve free-text input to a canonical ticker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		moex := datasource.NewMoex(cfg.Sources.MoexURL)
		suggestion, err := resolveTicker(ctx, moex, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", suggestion.Ticker, suggestion.CompanyName)
		return nil
	},
}

// --- Helpers ---

// resolveTicker loads the board directory and resolves free-text input.
func resolveTicker(ctx context.Context, moex *datasource.Moex, query string) (models.TickerSuggestion, error) {
	directory, err := moex.GetTickerDirectory(ctx)
	if err != nil {
		return models.TickerSuggestion{}, fmt.Errorf("load ticker directory: %w", err)
	}
	res := resolver.New(directory)
	suggestion, err := res.Resolve(query)
	if err != nil {
		return models.TickerSuggestion{}, fmt.Errorf("%q: %w", query, err)
	}
	return suggestion, nil
}

// newsSource builds the article source from config.
func newsSource() *datasource.News {
	if len(cfg.Sources.Feeds) == 0 {
		return datasource.NewNews()
	}
	sources := make([]datasource.NewsSource, 0, len(cfg.Sources.Feeds))
	for _, url := range cfg.Sources.Feeds {
		sources = append(sources, datasource.NewsSource{Name: url, RSSURL: url})
	}
	return datasource.NewNewsWithSources(sources)
}
