package persistence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/parallel-agents/internal/task"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func sampleSubmission(id string, at time.Time) Submission {
	tk := task.Task{ID: id, Type: "research", Content: "research market trends", Complexity: 5, Priority: task.PriorityHigh}
	r := task.TaskResult{
		TaskID:     id,
		Success:    true,
		Content:    task.ResearchContent(task.ResearchPayload{Sources: []task.Source{{Title: "a", URL: "https://a"}}, Insights: []string{"growth"}}),
		Confidence: task.Float(0.72),
		Duration:   1500 * time.Millisecond,
		Metadata: task.Metadata{
			Mode:           task.ModeParallel,
			MergeStrategy:  task.MergePartialSuccess,
			AgentCount:     3,
			MicrotaskCount: 2,
			Attempts:       4,
			Microtasks: []task.MicrotaskSummary{
				{ID: id + "-mt-0", Type: "research", AgentType: "research", AgentID: "research-1", Success: true, Attempts: 1, Duration: time.Second},
				{ID: id + "-mt-1", Type: "research", AgentType: "research", AgentID: "research-3", Error: "agent \"research-3\" timed out", Attempts: 3, Duration: 2 * time.Second},
			},
		},
	}
	return NewSubmission(tk, r, at)
}

func TestSaveAndGetSubmission(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)

	want := sampleSubmission("t1", at)
	if err := store.SaveSubmission(ctx, want); err != nil {
		t.Fatalf("SaveSubmission: %v", err)
	}

	got, err := store.GetSubmission(ctx, "t1")
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}

	if got.TaskID != "t1" || got.Type != "research" || got.Complexity != 5 || got.Priority != task.PriorityHigh {
		t.Errorf("task fields mismatch: %+v", got)
	}
	if got.Mode != task.ModeParallel || got.MergeStrategy != task.MergePartialSuccess || !got.Success {
		t.Errorf("outcome mismatch: %+v", got)
	}
	if got.Confidence == nil || *got.Confidence != 0.72 {
		t.Errorf("Confidence = %v, want 0.72", got.Confidence)
	}
	if got.AgentCount != 3 || got.MicrotaskCount != 2 || got.Attempts != 4 || got.Duration != 1500*time.Millisecond {
		t.Errorf("counters mismatch: %+v", got)
	}
	if !got.SubmittedAt.Equal(at) {
		t.Errorf("SubmittedAt = %v, want %v", got.SubmittedAt, at)
	}
	if got.Result.Kind != task.KindResearch || got.Result.String() != want.Result.String() {
		t.Errorf("Result = %s, want %s", got.Result, want.Result)
	}

	if len(got.Microtasks) != 2 {
		t.Fatalf("expected 2 microtask rows, got %d", len(got.Microtasks))
	}
	for i, mt := range got.Microtasks {
		if mt != want.Microtasks[i] {
			t.Errorf("microtask %d = %+v, want %+v", i, mt, want.Microtasks[i])
		}
	}
}

func TestSaveSubmission_Upsert(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	sub := sampleSubmission("t1", time.Now())
	if err := store.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("first save: %v", err)
	}

	sub.Success = false
	sub.Error = "Multiple errors: a; b"
	sub.Confidence = nil
	sub.Microtasks = sub.Microtasks[:1]
	if err := store.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := store.GetSubmission(ctx, "t1")
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if got.Success || got.Error != sub.Error || got.Confidence != nil {
		t.Errorf("update not applied: %+v", got)
	}
	if len(got.Microtasks) != 1 {
		t.Errorf("stale microtask rows kept: %d", len(got.Microtasks))
	}
}

func TestSaveSubmission_EmptyID(t *testing.T) {
	store := testStore(t)
	if err := store.SaveSubmission(context.Background(), Submission{}); err == nil {
		t.Fatal("expected error for empty task id")
	}
}

func TestGetSubmission_NotFound(t *testing.T) {
	store := testStore(t)
	_, err := store.GetSubmission(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSubmissions_NewestFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		// Sub-second offsets would misorder with a variable-width layout.
		at := base.Add(time.Duration(i) * 100 * time.Millisecond)
		if err := store.SaveSubmission(ctx, sampleSubmission(fmt.Sprintf("t%d", i), at)); err != nil {
			t.Fatalf("save t%d: %v", i, err)
		}
	}

	all, err := store.ListSubmissions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 submissions, got %d", len(all))
	}
	for i, sub := range all {
		if want := fmt.Sprintf("t%d", 4-i); sub.TaskID != want {
			t.Errorf("position %d = %s, want %s", i, sub.TaskID, want)
		}
		if sub.Microtasks != nil {
			t.Errorf("list should not load microtask rows")
		}
	}

	limited, err := store.ListSubmissions(ctx, 2)
	if err != nil {
		t.Fatalf("ListSubmissions(2): %v", err)
	}
	if len(limited) != 2 || limited[0].TaskID != "t4" {
		t.Errorf("unexpected limited list: %d entries", len(limited))
	}
}

func TestDeleteSubmission_Cascades(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveSubmission(ctx, sampleSubmission("t1", time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.DeleteSubmission(ctx, "t1"); err != nil {
		t.Fatalf("DeleteSubmission: %v", err)
	}

	var n int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM microtask_results WHERE task_id = ?`, "t1").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("microtask rows not cascaded: %d left", n)
	}
	if err := store.DeleteSubmission(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	a, b := testStore(t), testStore(t)
	ctx := context.Background()

	if err := a.SaveSubmission(ctx, sampleSubmission("only-a", time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := b.GetSubmission(ctx, "only-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("memory stores share data: %v", err)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := store.SaveSubmission(ctx, sampleSubmission("t1", time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetSubmission(ctx, "t1")
	if err != nil {
		t.Fatalf("GetSubmission after reopen: %v", err)
	}
	if len(got.Microtasks) != 2 {
		t.Errorf("expected 2 microtask rows after reopen, got %d", len(got.Microtasks))
	}
}
