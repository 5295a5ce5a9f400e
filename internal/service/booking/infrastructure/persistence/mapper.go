package persistence

import (
	"database/sql"

	"boxoffice/internal/service/booking/domain"
)

func toDomainLedger(m *LedgerModel) domain.LedgerEntry {
	return domain.LedgerEntry{
		EventID:        m.EventID,
		TotalCapacity:  m.TotalCapacity,
		Confirmed:      m.Confirmed,
		Held:           m.Held,
		UnitPriceCents: m.UnitPriceCents,
		Quarantined:    m.Quarantined,
	}
}

func fromDomainLedger(e domain.LedgerEntry) *LedgerModel {
	return &LedgerModel{
		EventID:        e.EventID,
		TotalCapacity:  e.TotalCapacity,
		Confirmed:      e.Confirmed,
		Held:           e.Held,
		UnitPriceCents: e.UnitPriceCents,
		Quarantined:    e.Quarantined,
	}
}

func toDomainHold(m *HoldModel) domain.Hold {
	return domain.Hold{
		ID:        m.ID,
		EventID:   m.EventID,
		Seats:     m.Seats,
		State:     domain.HoldState(m.State),
		ExpiresAt: m.ExpiresAt.UTC(),
		BookingID: m.BookingID,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func fromDomainHold(h domain.Hold) *HoldModel {
	return &HoldModel{
		ID:        h.ID,
		EventID:   h.EventID,
		Seats:     h.Seats,
		State:     string(h.State),
		ExpiresAt: h.ExpiresAt.UTC(),
		BookingID: h.BookingID,
		CreatedAt: h.CreatedAt.UTC(),
		UpdatedAt: h.UpdatedAt.UTC(),
	}
}

func toDomainSagaRecord(m *SagaRecordModel) domain.SagaRecord {
	rec := domain.SagaRecord{
		Key:         m.IdempotencyKey,
		Fingerprint: m.Fingerprint,
		Status:      domain.SagaStatus(m.Status),
		BookingID:   m.BookingID,
		Reason:      domain.FailureReason(m.Reason),
		HoldID:      m.HoldID,
		CreatedAt:   m.CreatedAt.UTC(),
	}
	if m.FinishedAt.Valid {
		rec.FinishedAt = m.FinishedAt.Time.UTC()
	}
	return rec
}

func fromDomainSagaRecord(r domain.SagaRecord) *SagaRecordModel {
	return &SagaRecordModel{
		IdempotencyKey: r.Key,
		Fingerprint:    r.Fingerprint,
		Status:         string(r.Status),
		BookingID:      r.BookingID,
		Reason:         string(r.Reason),
		HoldID:         r.HoldID,
		CreatedAt:      r.CreatedAt.UTC(),
		FinishedAt:     sql.NullTime{Time: r.FinishedAt.UTC(), Valid: !r.FinishedAt.IsZero()},
	}
}
