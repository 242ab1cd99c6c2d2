package analysis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/finradar/radar/pkg/models"
)

// waitDone polls until no article of the ticker is pending or the deadline
// passes.
func waitDone(t *testing.T, store *MemoryJobStore, ticker string, ids []string) []models.AnalysisStatus {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		statuses, err := store.Statuses(context.Background(), ticker, ids)
		if err != nil {
			t.Fatalf("Statuses: %v", err)
		}
		pending := 0
		for _, st := range statuses {
			if st.Status == models.StatusPending {
				pending++
			}
		}
		if pending == 0 && len(statuses) == len(ids) {
			return statuses
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("jobs did not settle in time")
	return nil
}

func TestJobStoreEnqueueAndComplete(t *testing.T) {
	store := NewMemoryJobStore(&fakeAnalyzer{}, 2)
	store.Start()
	defer store.Stop()

	articles := makeArticles(3)
	res, err := store.Enqueue(context.Background(), "SBER@MISX", articles, false)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if res.Queued != 3 || res.Pending != 3 {
		t.Fatalf("expected 3 queued and pending, got %d/%d", res.Queued, res.Pending)
	}

	statuses := waitDone(t, store, "SBER@MISX", []string{"a1", "a2", "a3"})
	for _, st := range statuses {
		if st.Status != models.StatusCompleted {
			t.Errorf("%s: expected completed, got %s (%s)", st.ArticleID, st.Status, st.Error)
		}
		if st.Sentiment == "" || st.Summary == "" {
			t.Errorf("%s: completed status missing sentiment or summary", st.ArticleID)
		}
	}
}

func TestJobStoreIdempotentEnqueue(t *testing.T) {
	store := NewMemoryJobStore(&fakeAnalyzer{}, 1)
	store.Start()
	defer store.Stop()

	articles := makeArticles(2)
	ids := []string{"a1", "a2"}

	if _, err := store.Enqueue(context.Background(), "SBER@MISX", articles, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitDone(t, store, "SBER@MISX", ids)

	// Re-submitting completed articles without force queues nothing and
	// returns the existing results.
	res, err := store.Enqueue(context.Background(), "SBER@MISX", articles, false)
	if err != nil {
		t.Fatalf("re-Enqueue: %v", err)
	}
	if res.Queued != 0 {
		t.Errorf("expected 0 newly queued, got %d", res.Queued)
	}
	if res.Pending != 0 {
		t.Errorf("expected 0 pending, got %d", res.Pending)
	}
	for _, st := range res.Results {
		if st.Status != models.StatusCompleted {
			t.Errorf("%s: expected existing completed status, got %s", st.ArticleID, st.Status)
		}
	}
}

func TestJobStoreForceRequeues(t *testing.T) {
	store := NewMemoryJobStore(&fakeAnalyzer{}, 1)
	store.Start()
	defer store.Stop()

	articles := makeArticles(2)
	ids := []string{"a1", "a2"}

	store.Enqueue(context.Background(), "SBER@MISX", articles, false)
	waitDone(t, store, "SBER@MISX", ids)

	res, err := store.Enqueue(context.Background(), "SBER@MISX", articles, true)
	if err != nil {
		t.Fatalf("force Enqueue: %v", err)
	}
	if res.Queued != 2 {
		t.Errorf("force should requeue everything, got %d", res.Queued)
	}
	waitDone(t, store, "SBER@MISX", ids)
}

func TestJobStoreFailureIsolation(t *testing.T) {
	// The analyzer fails its second call only; with one worker article
	// processing order is deterministic.
	fake := &fakeAnalyzer{err: fmt.Errorf("provider down"), errAt: 2}
	store := NewMemoryJobStore(fake, 1)
	store.Start()
	defer store.Stop()

	articles := makeArticles(3)
	ids := []string{"a1", "a2", "a3"}

	store.Enqueue(context.Background(), "SBER@MISX", articles, false)
	statuses := waitDone(t, store, "SBER@MISX", ids)

	byID := make(map[string]models.AnalysisStatus)
	for _, st := range statuses {
		byID[st.ArticleID] = st
	}
	if byID["a2"].Status != models.StatusFailed {
		t.Errorf("a2: expected failed, got %s", byID["a2"].Status)
	}
	if byID["a2"].Error == "" {
		t.Error("a2: failed status should carry the error message")
	}
	if byID["a1"].Status != models.StatusCompleted || byID["a3"].Status != models.StatusCompleted {
		t.Error("one failing job must not affect its siblings")
	}
}

func TestJobStoreFailedRequeuedWithoutForce(t *testing.T) {
	fake := &fakeAnalyzer{err: fmt.Errorf("provider down"), errAt: 1}
	store := NewMemoryJobStore(fake, 1)
	store.Start()
	defer store.Stop()

	articles := makeArticles(1)
	ids := []string{"a1"}

	store.Enqueue(context.Background(), "SBER@MISX", articles, false)
	statuses := waitDone(t, store, "SBER@MISX", ids)
	if statuses[0].Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", statuses[0].Status)
	}

	// A failed job is eligible for plain re-enqueue; the analyzer succeeds
	// from its second call on.
	res, err := store.Enqueue(context.Background(), "SBER@MISX", articles, false)
	if err != nil {
		t.Fatalf("re-Enqueue: %v", err)
	}
	if res.Queued != 1 {
		t.Fatalf("failed job should requeue without force, queued=%d", res.Queued)
	}
	statuses = waitDone(t, store, "SBER@MISX", ids)
	if statuses[0].Status != models.StatusCompleted {
		t.Errorf("expected completed after retry, got %s", statuses[0].Status)
	}
}

func TestJobStoreStatusesUnknownTicker(t *testing.T) {
	store := NewMemoryJobStore(&fakeAnalyzer{}, 1)

	statuses, err := store.Statuses(context.Background(), "UNKNOWN", nil)
	if err != nil {
		t.Fatalf("Statuses: %v", err)
	}
	if statuses != nil {
		t.Errorf("expected nil for unknown ticker, got %v", statuses)
	}
}
