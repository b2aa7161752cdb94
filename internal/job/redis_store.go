package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/orchestrator"

	"github.com/redis/go-redis/v9"
)

// RedisStoreConfig 描述 Redis 任务存储的连接参数。
type RedisStoreConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisStore 将任务以 JSON 形式保存在 Redis 中，键随 TTL 过期。
// 有序集合 <prefix>index 按更新时间索引任务 ID，过期的成员在列表查询时清理。
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore 创建 Redis 任务存储并检查连通性。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "agentmarket:job:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisStore(client, prefix, cfg.TTL), nil
}

func newRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *RedisStore) key(id string) string { return r.prefix + id }

func (r *RedisStore) indexKey() string { return r.prefix + "index" }

// Create 实现 Store 接口。
func (r *RedisStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if job.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	now := r.now()
	if job.CreatedAt == 0 {
		job.CreatedAt = now.Unix()
	}
	job.UpdatedAt = now.Unix()
	if r.ttl > 0 {
		job.ExpiresAt = now.Add(r.ttl).Unix()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("序列化任务失败: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key(job.ID), payload, r.ttl).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务失败")
	}
	if !ok {
		return ErrJobConflict
	}
	if err := r.client.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(job.UpdatedAt), Member: job.ID}).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务索引失败")
	}
	return nil
}

// Get 返回任务。
func (r *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	payload, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务失败")
	}
	return decodeJob(payload)
}

// Claim 在 WATCH 事务中将任务置为运行中，并发的 Claim 只有一个成功。
func (r *RedisStore) Claim(ctx context.Context, id string) (*Job, error) {
	var claimed *Job
	err := r.update(ctx, id, func(job *Job) error {
		if err := claim(job, r.now().Unix()); err != nil {
			claimed = job
			return err
		}
		claimed = job
		return nil
	})
	return claimed, err
}

// MarkSucceeded 记录编排结果。
func (r *RedisStore) MarkSucceeded(ctx context.Context, id string, result *orchestrator.Result) error {
	return r.update(ctx, id, func(job *Job) error {
		job.Status = StatusSucceeded
		job.Result = result
		job.LastError = ""
		job.ErrorCode = ""
		job.UpdatedAt = r.now().Unix()
		return nil
	})
}

// MarkFailed 标记任务失败。
func (r *RedisStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string) error {
	return r.update(ctx, id, func(job *Job) error {
		job.Status = StatusFailed
		job.LastError = lastError
		job.ErrorCode = string(code)
		job.UpdatedAt = r.now().Unix()
		return nil
	})
}

// update 读取任务并在 mutate 成功后写回，保留键的剩余 TTL。
func (r *RedisStore) update(ctx context.Context, id string, mutate func(*Job) error) error {
	key := r.key(id)
	txf := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrJobNotFound
		}
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务失败")
		}
		job, err := decodeJob(payload)
		if err != nil {
			return err
		}
		if err := mutate(job); err != nil {
			return err
		}
		updated, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("序列化任务失败: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, redis.KeepTTL)
			pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(job.UpdatedAt), Member: job.ID})
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrJobConflict
	}
	return err
}

// List 返回最近任务。
func (r *RedisStore) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()
	jobs, err := r.scan(ctx, opts)
	if err != nil {
		return nil, err
	}
	sortJobs(jobs, opts.Order)
	if len(jobs) > opts.Limit {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// Stats 统计符合过滤条件的任务数量。
func (r *RedisStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()
	jobs, err := r.scan(ctx, opts)
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	for _, job := range jobs {
		stats.add(job)
	}
	return stats, nil
}

// scan 读取索引中更新时间不早于 UpdatedGTE 的任务，并移除已过期的成员。
func (r *RedisStore) scan(ctx context.Context, opts ListOptions) ([]*Job, error) {
	lower := "-inf"
	if opts.UpdatedGTE > 0 {
		lower = strconv.FormatInt(opts.UpdatedGTE, 10)
	}
	ids, err := r.client.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{Min: lower, Max: "+inf"}).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务索引失败")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "批量读取任务失败")
	}

	jobs := make([]*Job, 0, len(values))
	var stale []any
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		job, err := decodeJob([]byte(raw))
		if err != nil {
			continue
		}
		if opts.matches(job) {
			jobs = append(jobs, job)
		}
	}
	if len(stale) > 0 {
		_ = r.client.ZRem(ctx, r.indexKey(), stale...).Err()
	}
	return jobs, nil
}

// Close 关闭 Redis 连接。
func (r *RedisStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func decodeJob(payload []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务失败")
	}
	return &job, nil
}

var _ Store = (*RedisStore)(nil)
