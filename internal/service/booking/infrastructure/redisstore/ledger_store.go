package redisstore

import (
	"context"
	"fmt"
	"strconv"

	"boxoffice/internal/pkg/redis"
	"boxoffice/internal/service/booking/domain"
)

const (
	ledgerCreate     = "ledger_create"
	ledgerTryHold    = "ledger_try_hold"
	ledgerConfirm    = "ledger_confirm"
	ledgerRelease    = "ledger_release"
	ledgerQuarantine = "ledger_quarantine"
)

// LedgerStore 把账本放在 Redis hash 中，每个条件更新是一段 Lua 脚本
type LedgerStore struct {
	client *redis.Client
}

// NewLedgerStore 在创建时加载全部脚本
func NewLedgerStore(client *redis.Client) (*LedgerStore, error) {
	scripts := map[string]string{
		ledgerCreate:     ledgerCreateScript,
		ledgerTryHold:    ledgerTryHoldScript,
		ledgerConfirm:    ledgerConfirmScript,
		ledgerRelease:    ledgerReleaseScript,
		ledgerQuarantine: ledgerQuarantineScript,
	}
	for name, content := range scripts {
		if err := client.LoadScriptFromContent(name, content); err != nil {
			return nil, fmt.Errorf("failed to load ledger script: %w", err)
		}
	}
	return &LedgerStore{client: client}, nil
}

func ledgerKey(eventID string) string {
	return fmt.Sprintf("ledger:{%s}", eventID)
}

func (s *LedgerStore) Create(ctx context.Context, entry domain.LedgerEntry) error {
	quarantined := "0"
	if entry.Quarantined {
		quarantined = "1"
	}
	ok, err := s.run(ctx, ledgerCreate, entry.EventID,
		entry.TotalCapacity, entry.UnitPriceCents, entry.Confirmed, entry.Held, quarantined)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrEventExists
	}
	return nil
}

func (s *LedgerStore) Get(ctx context.Context, eventID string) (domain.LedgerEntry, error) {
	fields, err := s.client.GetClient().HGetAll(ctx, ledgerKey(eventID)).Result()
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("get ledger %s: %w", eventID, err)
	}
	if len(fields) == 0 {
		return domain.LedgerEntry{}, domain.ErrEventNotFound
	}
	entry := domain.LedgerEntry{EventID: eventID, Quarantined: fields["quarantined"] == "1"}
	for name, dst := range map[string]*int{
		"total":     &entry.TotalCapacity,
		"confirmed": &entry.Confirmed,
		"held":      &entry.Held,
	} {
		if *dst, err = strconv.Atoi(fields[name]); err != nil {
			return domain.LedgerEntry{}, fmt.Errorf("ledger %s field %s: %w", eventID, name, err)
		}
	}
	if entry.UnitPriceCents, err = strconv.ParseInt(fields["unit_price"], 10, 64); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("ledger %s field unit_price: %w", eventID, err)
	}
	return entry, nil
}

func (s *LedgerStore) TryHold(ctx context.Context, eventID string, seats int) (bool, error) {
	return s.run(ctx, ledgerTryHold, eventID, seats)
}

func (s *LedgerStore) ConfirmHeld(ctx context.Context, eventID string, seats int) (bool, error) {
	return s.run(ctx, ledgerConfirm, eventID, seats)
}

func (s *LedgerStore) ReleaseHeld(ctx context.Context, eventID string, seats int) (bool, error) {
	return s.run(ctx, ledgerRelease, eventID, seats)
}

func (s *LedgerStore) Quarantine(ctx context.Context, eventID string) error {
	ok, err := s.run(ctx, ledgerQuarantine, eventID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrEventNotFound
	}
	return nil
}

// run 执行脚本，返回 1 表示条件满足
func (s *LedgerStore) run(ctx context.Context, script, eventID string, args ...interface{}) (bool, error) {
	result, err := s.client.RunScript(ctx, script, []string{ledgerKey(eventID)}, args...)
	if err != nil {
		return false, fmt.Errorf("%s on %s: %w", script, eventID, err)
	}
	code, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from %s: %T", script, result)
	}
	return code == 1, nil
}
