package job

import (
	"context"
	"sort"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/orchestrator"
)

// Store 抽象了任务状态的临时存储，记录在 TTL 到期后自动消失。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Claim(ctx context.Context, id string) (*Job, error)
	MarkSucceeded(ctx context.Context, id string, result *orchestrator.Result) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string) error
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

func sortJobs(jobs []*Job, order SortOrder) {
	sort.Slice(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.ID < b.ID
			}
			if order == SortByUpdatedAsc {
				return a.CreatedAt < b.CreatedAt
			}
			return a.CreatedAt > b.CreatedAt
		}
		if order == SortByUpdatedAsc {
			return a.UpdatedAt < b.UpdatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})
}

// claim 在内存中执行状态检查与转换，供各存储实现复用。
func claim(job *Job, now int64) error {
	switch job.Status {
	case StatusSucceeded, StatusFailed:
		return ErrJobCompleted
	case StatusRunning:
		return ErrJobConflict
	}
	job.Status = StatusRunning
	job.Attempts++
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = now
	return nil
}
