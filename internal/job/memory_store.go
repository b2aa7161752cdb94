package job

import (
	"context"
	"sync"
	"time"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/orchestrator"
)

// MemoryStore 以内存方式保存任务状态，过期记录在访问时清理。
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryStore 创建 MemoryStore。ttl <= 0 表示不过期。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job), ttl: ttl, now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if job.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if existing, ok := m.jobs[job.ID]; ok && !existing.expired(now) {
		return ErrJobConflict
	}
	if job.CreatedAt == 0 {
		job.CreatedAt = now.Unix()
	}
	job.UpdatedAt = now.Unix()
	if m.ttl > 0 {
		job.ExpiresAt = now.Add(m.ttl).Unix()
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get 返回任务。
func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok || job.expired(m.now()) {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Claim 将任务状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.expired(m.now()) {
		return nil, ErrJobNotFound
	}
	if err := claim(job, m.now().Unix()); err != nil {
		return cloneJob(job), err
	}
	return cloneJob(job), nil
}

// MarkSucceeded 记录编排结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result *orchestrator.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusSucceeded
	job.Result = result
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = m.now().Unix()
	return nil
}

// MarkFailed 标记任务失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusFailed
	job.LastError = lastError
	job.ErrorCode = string(code)
	job.UpdatedAt = m.now().Unix()
	return nil
}

// List 返回最近任务，同时清理已过期的记录。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opts.applyDefaults()
	m.evictLocked()

	results := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if opts.matches(job) {
			results = append(results, cloneJob(job))
		}
	}
	sortJobs(results, opts.Order)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的任务数量。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opts.applyDefaults()
	m.evictLocked()

	var stats Stats
	for _, job := range m.jobs {
		if opts.matches(job) {
			stats.add(job)
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) evictLocked() {
	now := m.now()
	for id, job := range m.jobs {
		if job.expired(now) {
			delete(m.jobs, id)
		}
	}
}

var _ Store = (*MemoryStore)(nil)
