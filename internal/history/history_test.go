package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RecordAndLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(2 * time.Minute)
	duration := 120.0
	errMsg := "pull failed"

	id, err := store.RecordRun(ctx, &RunRecord{
		RunID:           "run-1",
		Branch:          "main",
		Artifact:        "registry.example.com/habits/api:42-f3a91c0",
		Outcome:         "failed",
		FailedStage:     "deploy_prod",
		QAOutcome:       "success",
		StartedAt:       started,
		CompletedAt:     &completed,
		DurationSeconds: &duration,
		ErrorMessage:    &errMsg,
	})
	if err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	if id == 0 {
		t.Error("expected a non-zero row ID")
	}

	latest, err := store.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun() error = %v", err)
	}
	if latest == nil {
		t.Fatal("LatestRun() returned nil after a record was inserted")
	}

	if latest.RunID != "run-1" || latest.Branch != "main" {
		t.Errorf("record = %+v", latest)
	}
	if latest.Artifact != "registry.example.com/habits/api:42-f3a91c0" {
		t.Errorf("Artifact = %q", latest.Artifact)
	}
	if latest.Outcome != "failed" || latest.FailedStage != "deploy_prod" || latest.QAOutcome != "success" {
		t.Errorf("outcome fields = %q/%q/%q", latest.Outcome, latest.FailedStage, latest.QAOutcome)
	}
	if !latest.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, expected %v", latest.StartedAt, started)
	}
	if latest.CompletedAt == nil || !latest.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt = %v, expected %v", latest.CompletedAt, completed)
	}
	if latest.DurationSeconds == nil || *latest.DurationSeconds != duration {
		t.Errorf("DurationSeconds = %v, expected %v", latest.DurationSeconds, duration)
	}
	if latest.ErrorMessage == nil || *latest.ErrorMessage != errMsg {
		t.Errorf("ErrorMessage = %v, expected %q", latest.ErrorMessage, errMsg)
	}
}

func TestStore_LatestRun_Empty(t *testing.T) {
	store := newTestStore(t)

	latest, err := store.LatestRun(context.Background())
	if err != nil {
		t.Fatalf("LatestRun() error = %v", err)
	}
	if latest != nil {
		t.Errorf("expected nil for an empty history, got %+v", latest)
	}
}

func TestStore_RecentRuns_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := store.RecordRun(ctx, &RunRecord{
			RunID:   fmt.Sprintf("run-%d", i),
			Branch:  "main",
			Outcome: "success",
		})
		if err != nil {
			t.Fatalf("RecordRun() error = %v", err)
		}
	}

	records, err := store.RecentRuns(ctx, 3)
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("got %d records, expected the limit of 3", len(records))
	}
	for i, expected := range []string{"run-5", "run-4", "run-3"} {
		if records[i].RunID != expected {
			t.Errorf("records[%d].RunID = %q, expected %q", i, records[i].RunID, expected)
		}
	}
}

func TestStore_RecordRun_DefaultsTimestamps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	if _, err := store.RecordRun(ctx, &RunRecord{
		RunID:   "run-1",
		Branch:  "main",
		Outcome: "rejected",
	}); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	latest, err := store.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun() error = %v", err)
	}

	if latest.StartedAt.Before(before) {
		t.Errorf("StartedAt = %v, expected a defaulted current timestamp", latest.StartedAt)
	}
	if latest.CompletedAt == nil {
		t.Error("CompletedAt should be defaulted for rejected records")
	}
}
