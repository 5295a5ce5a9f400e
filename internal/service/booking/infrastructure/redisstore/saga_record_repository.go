package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"boxoffice/internal/pkg/redis"
	"boxoffice/internal/service/booking/domain"
)

const (
	recordPrefix  = "{saga}:record:"
	pendingIndex  = "{saga}:pending"
	finishedIndex = "{saga}:finished"

	recordInsert     = "record_insert"
	recordAttachHold = "record_attach_hold"
	recordFinalize   = "record_finalize"
	recordPurge      = "record_purge"
)

// SagaRecordRepository 幂等记录存放在 hash 中；PENDING 记录按创建时间进 pending 有序集合，
// 终态记录按完成时间进 finished 有序集合，分别供恢复和清理使用。
type SagaRecordRepository struct {
	client *redis.Client
}

func NewSagaRecordRepository(client *redis.Client) (*SagaRecordRepository, error) {
	scripts := map[string]string{
		recordInsert:     recordInsertScript,
		recordAttachHold: recordAttachHoldScript,
		recordFinalize:   recordFinalizeScript,
		recordPurge:      recordPurgeScript,
	}
	for name, content := range scripts {
		if err := client.LoadScriptFromContent(name, content); err != nil {
			return nil, fmt.Errorf("failed to load saga record script: %w", err)
		}
	}
	return &SagaRecordRepository{client: client}, nil
}

func (r *SagaRecordRepository) Insert(ctx context.Context, rec domain.SagaRecord) (bool, error) {
	return r.run(ctx, recordInsert, []string{recordPrefix + rec.Key, pendingIndex},
		rec.Key, rec.Fingerprint, formatTime(rec.CreatedAt), rec.CreatedAt.UnixMicro())
}

func (r *SagaRecordRepository) Get(ctx context.Context, key string) (domain.SagaRecord, error) {
	fields, err := r.client.GetClient().HGetAll(ctx, recordPrefix+key).Result()
	if err != nil {
		return domain.SagaRecord{}, fmt.Errorf("get saga record %s: %w", key, err)
	}
	if len(fields) == 0 {
		return domain.SagaRecord{}, domain.ErrRecordNotFound
	}
	return decodeRecord(key, fields)
}

func (r *SagaRecordRepository) AttachHold(ctx context.Context, key, holdID string) (bool, error) {
	return r.run(ctx, recordAttachHold, []string{recordPrefix + key}, holdID)
}

func (r *SagaRecordRepository) Finalize(ctx context.Context, key string, outcome domain.Outcome, at time.Time) (bool, error) {
	return r.run(ctx, recordFinalize, []string{recordPrefix + key, pendingIndex, finishedIndex},
		key, string(outcome.Status), outcome.BookingID, string(outcome.Reason), formatTime(at), at.UnixMicro())
}

func (r *SagaRecordRepository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.SagaRecord, error) {
	by := &goredis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(olderThan.UnixMicro(), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	keys, err := r.client.GetClient().ZRangeByScore(ctx, pendingIndex, by).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending saga records: %w", err)
	}
	return r.getAll(ctx, keys)
}

// getAll 按 keys 的顺序读取记录，索引和 hash 之间的短暂不一致直接跳过
func (r *SagaRecordRepository) getAll(ctx context.Context, keys []string) ([]domain.SagaRecord, error) {
	recs := make([]domain.SagaRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := r.Get(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (r *SagaRecordRepository) ListFinished(ctx context.Context, before time.Time, limit int) ([]domain.SagaRecord, error) {
	by := &goredis.ZRangeBy{Min: "-inf", Max: "(" + strconv.FormatInt(before.UnixMicro(), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	keys, err := r.client.GetClient().ZRevRangeByScore(ctx, finishedIndex, by).Result()
	if err != nil {
		return nil, fmt.Errorf("list finished saga records: %w", err)
	}
	return r.getAll(ctx, keys)
}

func (r *SagaRecordRepository) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.client.RunScript(ctx, recordPurge, []string{finishedIndex}, before.UnixMicro(), recordPrefix)
	if err != nil {
		return 0, fmt.Errorf("purge saga records: %w", err)
	}
	n, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from %s: %T", recordPurge, result)
	}
	return n, nil
}

func (r *SagaRecordRepository) run(ctx context.Context, script string, keys []string, args ...interface{}) (bool, error) {
	result, err := r.client.RunScript(ctx, script, keys, args...)
	if err != nil {
		return false, fmt.Errorf("%s on %s: %w", script, keys[0], err)
	}
	code, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from %s: %T", script, result)
	}
	return code == 1, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeRecord(key string, fields map[string]string) (domain.SagaRecord, error) {
	rec := domain.SagaRecord{
		Key:         key,
		Fingerprint: fields["fingerprint"],
		Status:      domain.SagaStatus(fields["status"]),
		BookingID:   fields["booking_id"],
		Reason:      domain.FailureReason(fields["reason"]),
		HoldID:      fields["hold_id"],
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return domain.SagaRecord{}, fmt.Errorf("saga record %s created_at: %w", key, err)
	}
	if v := fields["finished_at"]; v != "" {
		if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return domain.SagaRecord{}, fmt.Errorf("saga record %s finished_at: %w", key, err)
		}
	}
	return rec, nil
}
