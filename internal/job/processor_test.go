package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/observability/alerting"
	"AgentMarket-Chain/internal/orchestrator"
)

type fakeRunner struct {
	processed atomic.Int32
	latency   time.Duration
	fail      error
}

func (f *fakeRunner) Run(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.Result, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.processed.Add(1)
	if f.fail != nil {
		return nil, f.fail
	}
	res := &orchestrator.Result{RunID: "run-" + req.Input, Task: req.Task}
	res.Outputs.Set("Summarizer", "ok")
	return res, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) snapshot() []alerting.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]alerting.Event(nil), d.events...)
}

func startProcessor(t *testing.T, runner Runner, store Store, queue Queue, opts ...ProcessorOption) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	processor := NewProcessor(runner, store, queue, opts...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	queue := NewMemoryQueue(1024)
	runner := &fakeRunner{latency: 10 * time.Millisecond}
	service := NewService(store, queue)
	startProcessor(t, runner, store, queue, WithWorkerCount(8))

	ctx := context.Background()
	total := 200
	for i := 0; i < total; i++ {
		if _, err := service.Submit(ctx, orchestrator.RunRequest{Task: "summarize", Input: fmt.Sprintf("in-%d", i)}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		stats, err := service.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Succeeded == total {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", runner.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
	if got := int(runner.processed.Load()); got != total {
		t.Fatalf("expected each job to run once, ran %d", got)
	}
}

func TestServiceWaitUntilCompleted(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	queue := NewMemoryQueue(8)
	service := NewService(store, queue)
	startProcessor(t, &fakeRunner{}, store, queue)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := service.Submit(ctx, orchestrator.RunRequest{Task: " summarize ", Input: "x"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != StatusPending || job.Request.Task != "summarize" {
		t.Fatalf("unexpected submitted job %+v", job)
	}

	done, err := service.WaitUntilCompleted(ctx, job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusSucceeded || done.Result == nil || done.Result.RunID != "run-x" {
		t.Fatalf("unexpected completed job %+v", done)
	}
	if out, _ := done.Result.Outputs.Get("Summarizer"); out != "ok" {
		t.Fatalf("unexpected outputs %+v", done.Result.Outputs)
	}
}

func TestProcessorFailureIsTerminalAndAlerts(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	queue := NewMemoryQueue(8)
	service := NewService(store, queue)
	runner := &fakeRunner{fail: xerrors.New(xerrors.CodeInvalidArgument, "bad request")}
	alerts := &recordingDispatcher{}
	startProcessor(t, runner, store, queue, WithAlertDispatcher(alerts))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := service.Submit(ctx, orchestrator.RunRequest{Task: "summarize"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := service.WaitUntilCompleted(ctx, job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusFailed || done.ErrorCode != string(xerrors.CodeInvalidArgument) || done.LastError != "bad request" {
		t.Fatalf("unexpected failed job %+v", done)
	}

	// 失败的任务不会被重新执行。
	time.Sleep(50 * time.Millisecond)
	if got := runner.processed.Load(); got != 1 {
		t.Fatalf("expected a single run, got %d", got)
	}
	events := alerts.snapshot()
	if len(events) != 1 || events[0].Metadata["job_id"] != job.ID || events[0].Metadata["stage"] != "terminal" {
		t.Fatalf("unexpected alerts %+v", events)
	}
}

func TestServiceSubmitValidation(t *testing.T) {
	service := NewService(NewMemoryStore(0), NewMemoryQueue(1))
	if _, err := service.Submit(context.Background(), orchestrator.RunRequest{Task: "  "}); xerrors.CodeOf(err) != CodeJobValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return errors.New("broker down") }
func (failingProducer) Close() error                          { return nil }

func TestServiceSubmitPublishFailure(t *testing.T) {
	store := NewMemoryStore(0)
	service := NewService(store, failingProducer{})

	_, err := service.Submit(context.Background(), orchestrator.RunRequest{Task: "summarize"})
	if xerrors.CodeOf(err) != CodeJobPublish {
		t.Fatalf("expected publish error, got %v", err)
	}
	failed, err := service.List(context.Background(), WithStatuses(StatusFailed))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorCode != string(CodeJobPublish) {
		t.Fatalf("expected the job to be marked failed, got %+v", failed)
	}
}
