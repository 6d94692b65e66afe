package gormrepository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"pmbots/internal/models"
	"pmbots/internal/repository"
)

func (s *Store) CreateStrategy(ctx context.Context, item *models.Strategy) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetStrategyByID(ctx context.Context, id uint64) (*models.Strategy, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Strategy
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetStrategyByContent(ctx context.Context, ownerID string, contentHash string, interval string) (*models.Strategy, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Strategy
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND content_hash = ? AND interval = ?", ownerID, contentHash, interval).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) MaxStrategyVersion(ctx context.Context, ownerID string, name string) (int, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var out struct {
		Version int
	}
	if err := s.db.WithContext(ctx).Model(&models.Strategy{}).
		Select("COALESCE(MAX(version), 0) AS version").
		Where("owner_id = ? AND name = ?", ownerID, strings.TrimSpace(name)).
		Scan(&out).Error; err != nil {
		return 0, err
	}
	return out.Version, nil
}

func (s *Store) ListStrategiesByOwner(ctx context.Context, ownerID string) ([]models.Strategy, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Strategy
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("name asc, version desc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListStrategiesByIDs(ctx context.Context, ids []uint64) ([]models.Strategy, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	ids = cleanIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	var items []models.Strategy
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListContentKeysByOwner(ctx context.Context, ownerID string) ([]repository.ContentKey, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var keys []repository.ContentKey
	if err := s.db.WithContext(ctx).Model(&models.Strategy{}).
		Distinct("content_hash", "interval").
		Where("owner_id = ?", ownerID).
		Scan(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) CountStrategiesByOwner(ctx context.Context, ownerID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Strategy{}).
		Where("owner_id = ?", ownerID).
		Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) DeleteStrategy(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Strategy{}).Error
}
