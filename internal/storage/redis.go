package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "tasktracker/pkg/logx"
)

const (
	defaultRedisPrefix   = "tasktracker:"
	defaultRedisAuditMax = 1000
)

// redisStore keeps every record as a field of one hash (<prefix>records) and the
// audit trail as a capped list (<prefix>audit).
type redisStore struct {
	client   *redis.Client
	log      logx.Logger
	prefix   string
	auditMax int64
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for redis driver")
	}
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("redis dsn: %w", err)
	}
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 100 * time.Millisecond
	opt.MaxRetryBackoff = time.Second
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	st := newRedisStore(client, cfg, log)
	log.Debug("redis store opened", logx.String("addr", opt.Addr), logx.String("prefix", st.prefix))
	return st, nil
}

func newRedisStore(client *redis.Client, cfg Config, log logx.Logger) *redisStore {
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	auditMax := int64(cfg.AuditMax)
	if auditMax <= 0 {
		auditMax = defaultRedisAuditMax
	}
	return &redisStore{client: client, log: log, prefix: prefix, auditMax: auditMax}
}

func (s *redisStore) recordsKey() string { return s.prefix + "records" }
func (s *redisStore) auditKey() string   { return s.prefix + "audit" }

func (s *redisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *redisStore) GetRecord(ctx context.Context, taskID string) (TaskRecord, bool, error) {
	if s == nil || s.client == nil {
		return TaskRecord{}, false, ErrDisabled
	}
	raw, err := s.client.HGet(ctx, s.recordsKey(), strings.TrimSpace(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return TaskRecord{}, false, nil
	}
	if err != nil {
		return TaskRecord{}, false, err
	}
	var rec TaskRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return TaskRecord{}, false, fmt.Errorf("decode record %q: %w", taskID, err)
	}
	return rec, true, nil
}

func (s *redisStore) ListRecords(ctx context.Context) ([]TaskRecord, error) {
	if s == nil || s.client == nil {
		return nil, ErrDisabled
	}
	all, err := s.client.HGetAll(ctx, s.recordsKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]TaskRecord, 0, len(all))
	for id, raw := range all {
		var rec TaskRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.log.Warn("skipping undecodable record", logx.String("task", id), logx.Err(err))
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (s *redisStore) PutRecord(ctx context.Context, rec TaskRecord) error {
	if s == nil || s.client == nil {
		return ErrDisabled
	}
	rec.TaskID = strings.TrimSpace(rec.TaskID)
	if rec.TaskID == "" {
		return errors.New("task id required")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.recordsKey(), rec.TaskID, b).Err()
}

func (s *redisStore) DeleteRecord(ctx context.Context, taskID string) error {
	if s == nil || s.client == nil {
		return ErrDisabled
	}
	return s.client.HDel(ctx, s.recordsKey(), strings.TrimSpace(taskID)).Err()
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.client == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.auditKey(), b)
	pipe.LTrim(ctx, s.auditKey(), -s.auditMax, -1)
	_, err = pipe.Exec(ctx)
	return err
}
