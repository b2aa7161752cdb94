package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"AgentMarket-Chain/internal/orchestrator"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)
	jobs := []*Job{
		{ID: "j1", Request: orchestrator.RunRequest{Task: "summarize"}, Status: StatusPending},
		{ID: "j2", Request: orchestrator.RunRequest{Task: "translate"}, Status: StatusPending},
		{ID: "j3", Request: orchestrator.RunRequest{Task: "summarize"}, Status: StatusPending},
	}
	for _, job := range jobs {
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("create job %s: %v", job.ID, err)
		}
	}

	if err := store.MarkFailed(ctx, "j2", CodeJobProcessing, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "j3", &orchestrator.Result{RunID: "r3"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.jobs["j1"].UpdatedAt = base.Unix()
	store.jobs["j2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["j3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "j3" {
		t.Fatalf("expected newest job first, got %+v", all)
	}

	asc, err := store.List(ctx, buildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc), WithLimit(1)}))
	if err != nil {
		t.Fatalf("list asc: %v", err)
	}
	if len(asc) != 1 || asc[0].ID != "j1" {
		t.Fatalf("expected oldest job only, got %+v", asc)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "j2" || failed[0].ErrorCode != string(CodeJobProcessing) {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	summaries, err := store.List(ctx, buildListOptions([]ListOption{WithTask("summarize")}))
	if err != nil {
		t.Fatalf("list by task: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summarize jobs, got %d", len(summaries))
	}

	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(base.Add(15 * time.Second))}))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 jobs to match since filter, got %d", len(recent))
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMemoryStoreClaim(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	if err := store.Create(ctx, &Job{ID: "j", Status: StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Job{ID: "j", Status: StatusPending}); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	claimed, err := store.Claim(ctx, "j")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed job %+v", claimed)
	}
	if _, err := store.Claim(ctx, "j"); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict for running job, got %v", err)
	}

	if err := store.MarkSucceeded(ctx, "j", &orchestrator.Result{RunID: "r"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := store.Claim(ctx, "j"); !errors.Is(err, ErrJobCompleted) {
		t.Fatalf("expected completed job to be skipped, got %v", err)
	}
	if _, err := store.Claim(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreExpiresJobs(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if err := store.Create(ctx, &Job{ID: "j", Status: StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Get(ctx, "j")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ExpiresAt != now.Add(time.Minute).Unix() {
		t.Fatalf("unexpected expiry %d", got.ExpiresAt)
	}

	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "j"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected expired job to be gone, got %v", err)
	}
	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("expected expired job to be evicted, got %+v", stats)
	}
	if err := store.Create(ctx, &Job{ID: "j", Status: StatusPending}); err != nil {
		t.Fatalf("expected expired id to be reusable: %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	if err := store.Create(ctx, &Job{ID: "j", Status: StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := store.Get(ctx, "j")
	got.Status = StatusFailed

	again, _ := store.Get(ctx, "j")
	if again.Status != StatusPending {
		t.Fatalf("store state leaked through returned job: %s", again.Status)
	}
}
