package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"pmbots/internal/models"
)

func (s *Store) CreateWallet(ctx context.Context, item *models.Wallet) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetWalletByID(ctx context.Context, id uint64) (*models.Wallet, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Wallet
	err := s.db.WithContext(ctx).
		Where("id = ? AND deleted = ?", id, false).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetLiveWalletByFunder(ctx context.Context, funder string) (*models.Wallet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	funder = strings.TrimSpace(funder)
	if funder == "" {
		return nil, nil
	}
	var item models.Wallet
	err := s.db.WithContext(ctx).
		Where("LOWER(funder) = LOWER(?) AND deleted = ?", funder, false).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListWalletsByOwner(ctx context.Context, ownerID string) ([]models.Wallet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Wallet
	if err := s.db.WithContext(ctx).
		Where("owner_id = ? AND deleted = ?", ownerID, false).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListWalletsByIDs(ctx context.Context, ids []uint64) ([]models.Wallet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	ids = cleanIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	var items []models.Wallet
	if err := s.db.WithContext(ctx).
		Where("id IN ? AND deleted = ?", ids, false).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountWalletsByOwner(ctx context.Context, ownerID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("owner_id = ? AND deleted = ?", ownerID, false).
		Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) RenameWallet(ctx context.Context, id uint64, name string) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ? AND deleted = ?", id, false).
		Updates(map[string]any{"name": name, "updated_at": time.Now().UTC()}).Error
}

func (s *Store) SoftDeleteWallet(ctx context.Context, id uint64, at time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ? AND deleted = ?", id, false).
		Updates(map[string]any{"deleted": true, "deleted_at": at, "updated_at": at}).Error
}

func (s *Store) UpdateWalletStatusIf(ctx context.Context, id uint64, from []string, to string) (bool, error) {
	if s == nil || s.db == nil || id == 0 {
		return false, nil
	}
	from = cleanStrings(from)
	if len(from) == 0 {
		return false, nil
	}
	res := s.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ? AND deleted = ? AND status IN ?", id, false, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) UpdateWalletActivation(ctx context.Context, id uint64, status string, txHash *string, errMsg *string) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           status,
			"activation_tx":    txHash,
			"activation_error": errMsg,
			"updated_at":       time.Now().UTC(),
		}).Error
}

func (s *Store) ListWalletsByStatusBefore(ctx context.Context, status string, before time.Time, limit int) ([]models.Wallet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Wallet
	if err := s.db.WithContext(ctx).
		Where("status = ? AND deleted = ? AND updated_at < ?", status, false, before).
		Order("updated_at asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListWalletsAfterID(ctx context.Context, afterID uint64, limit int) ([]models.Wallet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Wallet
	if err := s.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateWalletKey(ctx context.Context, id uint64, sealed string) error {
	if s == nil || s.db == nil || id == 0 || sealed == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"encrypted_private_key": sealed,
			"updated_at":            time.Now().UTC(),
		}).Error
}
