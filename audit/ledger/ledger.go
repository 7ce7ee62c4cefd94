// Package ledger persists audit records. The ledger is append-only: records
// are never updated or deleted, and each item's records carry a strictly
// increasing sequence number assigned at write time.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/donlaur/Engify-AI-App-sub000/types"
)

// ErrNoRecords is returned when an item has never been audited.
var ErrNoRecords = errors.New("no audit records for item")

type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

func New(db *gorm.DB, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{db: db, logger: logger.With(zap.String("component", "audit_ledger"))}
}

// Init creates the audit_records table.
func Init(db *gorm.DB) error {
	return db.AutoMigrate(&types.AuditRecord{})
}

// Append assigns the next sequence number for the item and writes the record
// in one transaction. The unique (item_id, audit_sequence) index backstops
// the read-then-write; a concurrent writer losing the race gets one retry.
func (l *Ledger) Append(ctx context.Context, rec *types.AuditRecord) (*types.AuditRecord, error) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var maxSeq int
			row := tx.Model(&types.AuditRecord{}).
				Where("item_id = ?", rec.ItemID).
				Select("COALESCE(MAX(audit_sequence), 0)").
				Row()
			if scanErr := row.Scan(&maxSeq); scanErr != nil {
				return scanErr
			}
			rec.AuditSequence = maxSeq + 1
			rec.ID = 0
			return tx.Create(rec).Error
		})
		if err == nil {
			l.logger.Debug("audit record appended",
				zap.String("item_id", rec.ItemID),
				zap.Int("sequence", rec.AuditSequence),
				zap.Float64("score", rec.OverallScore))
			return rec, nil
		}
	}
	return nil, fmt.Errorf("failed to append audit record for %s: %w", rec.ItemID, err)
}

// Latest returns the most recent record for an item.
func (l *Ledger) Latest(ctx context.Context, itemID string) (*types.AuditRecord, error) {
	var rec types.AuditRecord
	err := l.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("audit_sequence DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRecords
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// History returns all records for an item, oldest first.
func (l *Ledger) History(ctx context.Context, itemID string) ([]types.AuditRecord, error) {
	var recs []types.AuditRecord
	err := l.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("audit_sequence ASC").
		Find(&recs).Error
	return recs, err
}

// ListNeedingRemediation returns the latest record per item, filtered to
// those flagged for remediation. Superseded records do not count: an item
// fixed since its last bad audit is excluded.
func (l *Ledger) ListNeedingRemediation(ctx context.Context, limit int) ([]types.AuditRecord, error) {
	q := l.db.WithContext(ctx).
		Where("needs_remediation = ?", true).
		Where("audit_sequence = (SELECT MAX(audit_sequence) FROM audit_records a2 WHERE a2.item_id = audit_records.item_id)").
		Order("overall_score ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []types.AuditRecord
	err := q.Find(&recs).Error
	return recs, err
}
