package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/finradar/radar/pkg/models"
)

const sentimentPayload = `{"results": [{"id": "a1", "sentiment": "positive", "summary": "up"}]}`

func TestOpenAIAnalyzeSentiment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req openAIChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Error("expected json_object response format")
		}
		if !strings.Contains(req.Messages[0].Content, `"id":"a1"`) {
			t.Error("prompt missing the article")
		}

		json.NewEncoder(w).Encode(openAIChatResponse{
			Choices: []struct {
				Message openAIMessage `json:"message"`
			}{{Message: openAIMessage{Role: "assistant", Content: sentimentPayload}}},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("test-key", WithOpenAIBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	results, err := p.AnalyzeSentiment(context.Background(), testArticles(1))
	if err != nil {
		t.Fatalf("AnalyzeSentiment: %v", err)
	}
	if len(results) != 1 || results[0].Sentiment != models.SentimentPositive {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestOpenAIHTTPErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"message": "quota exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, _ := NewOpenAIProvider("test-key", WithOpenAIBaseURL(srv.URL))
	if _, err := p.AnalyzeSentiment(context.Background(), testArticles(1)); err == nil {
		t.Fatal("expected error for HTTP 429")
	}
}

func TestOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(""); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestOpenAIPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"data": []}`)
	}))
	defer srv.Close()

	good, _ := NewOpenAIProvider("good-key", WithOpenAIBaseURL(srv.URL))
	if err := good.Ping(context.Background()); err != nil {
		t.Errorf("Ping with valid key: %v", err)
	}

	bad, _ := NewOpenAIProvider("bad-key", WithOpenAIBaseURL(srv.URL))
	if err := bad.Ping(context.Background()); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey on 401, got %v", err)
	}
}

func TestOllamaAnalyzeSentiment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("streaming must be disabled")
		}
		if req.Format != "json" {
			t.Errorf("expected json format, got %q", req.Format)
		}

		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: sentimentPayload},
			Done:    true,
		})
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(srv.URL)
	if err != nil {
		t.Fatalf("NewOllamaProvider: %v", err)
	}

	results, err := p.AnalyzeSentiment(context.Background(), testArticles(1))
	if err != nil {
		t.Fatalf("AnalyzeSentiment: %v", err)
	}
	if len(results) != 1 || results[0].Summary != "up" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestOllamaPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"models": []}`)
	}))
	defer srv.Close()

	p, _ := NewOllamaProvider(srv.URL)
	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestGeminiForecast(t *testing.T) {
	forecastJSON := `{"forecast": [
		{"date": "2026-09-01", "price": 100},
		{"date": "2026-09-02", "price": 101},
		{"date": "2026-09-03", "price": 102},
		{"date": "2026-09-04", "price": 103},
		{"date": "2026-09-05", "price": 104},
		{"date": "2026-09-06", "price": 105},
		{"date": "2026-09-07", "price": 106}
	], "analysis": "sideways drift"}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Error("missing api key query parameter")
		}

		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []struct {
				Content geminiContent `json:"content"`
			}{{Content: geminiContent{Parts: []geminiPart{{Text: forecastJSON}}}}},
		})
	}))
	defer srv.Close()

	p, err := NewGeminiProvider("test-key", WithGeminiBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewGeminiProvider: %v", err)
	}

	fc, err := p.Forecast(context.Background(), "SBER@MISX", []models.PricePoint{{Date: "2026-08-28", Price: 99}}, nil)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(fc.Forecast) != models.ForecastDays || fc.Analysis != "sideways drift" {
		t.Errorf("unexpected forecast: %+v", fc)
	}
}

func TestGeminiBadForecastShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []struct {
				Content geminiContent `json:"content"`
			}{{Content: geminiContent{Parts: []geminiPart{{Text: `{"forecast": [], "analysis": "none"}`}}}}},
		})
	}))
	defer srv.Close()

	p, _ := NewGeminiProvider("test-key", WithGeminiBaseURL(srv.URL))
	if _, err := p.Forecast(context.Background(), "SBER@MISX", nil, nil); !errors.Is(err, ErrBadForecast) {
		t.Fatalf("expected ErrBadForecast, got %v", err)
	}
}
