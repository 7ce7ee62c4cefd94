// Package content owns persistence of the content items the audit pipeline
// evaluates and the improvement driver rewrites.
package content

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/donlaur/Engify-AI-App-sub000/types"
)

var (
	ErrItemNotFound = errors.New("content item not found")

	// ErrRevisionConflict means the item changed since the caller read it.
	// Callers re-read and retry rather than overwriting blind.
	ErrRevisionConflict = errors.New("content revision conflict")
)

// Store is the content persistence surface used by the audit and
// improvement layers.
type Store interface {
	GetItem(ctx context.Context, id string) (*types.ContentItem, error)
	ListItems(ctx context.Context, filter types.ItemFilter) ([]types.ContentItem, error)

	// UpdateItem applies patch atomically if the stored revision still
	// equals expectedRevision, bumping the revision by one. Returns
	// ErrRevisionConflict when another writer got there first.
	UpdateItem(ctx context.Context, id string, expectedRevision int, patch types.FieldPatch) (*types.ContentItem, error)

	SaveItem(ctx context.Context, item *types.ContentItem) error
}

// Init creates the content_items table.
func Init(db *gorm.DB) error {
	return db.AutoMigrate(&types.ContentItem{})
}

type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{db: db, logger: logger.With(zap.String("component", "content_store"))}
}

func (s *GormStore) GetItem(ctx context.Context, id string) (*types.ContentItem, error) {
	var item types.ContentItem
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *GormStore) ListItems(ctx context.Context, filter types.ItemFilter) ([]types.ContentItem, error) {
	q := s.db.WithContext(ctx).Model(&types.ContentItem{}).Order("id ASC")
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var items []types.ContentItem
	err := q.Find(&items).Error
	return items, err
}

// UpdateItem is a compare-and-swap on content_revision. The patch and the
// revision bump land in one UPDATE, so a concurrent writer can never
// interleave between check and write.
func (s *GormStore) UpdateItem(ctx context.Context, id string, expectedRevision int, patch types.FieldPatch) (*types.ContentItem, error) {
	if len(patch) == 0 {
		return s.GetItem(ctx, id)
	}

	updates := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		updates[k] = v
	}
	updates["content_revision"] = expectedRevision + 1

	res := s.db.WithContext(ctx).
		Model(&types.ContentItem{}).
		Where("id = ? AND content_revision = ?", id, expectedRevision).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update item %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		// Distinguish a stale revision from a missing item.
		if _, err := s.GetItem(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrRevisionConflict
	}

	s.logger.Debug("item updated",
		zap.String("item_id", id),
		zap.Int("revision", expectedRevision+1),
		zap.Int("fields", len(patch)))
	return s.GetItem(ctx, id)
}

func (s *GormStore) SaveItem(ctx context.Context, item *types.ContentItem) error {
	return s.db.WithContext(ctx).Save(item).Error
}
