package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pmbots/internal/models"
)

func (s *Store) GetSubscription(ctx context.Context, ownerID string) (*models.UserSubscription, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, nil
	}
	var item models.UserSubscription
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListExpiredSubscriptions(ctx context.Context, before time.Time, limit int) ([]models.UserSubscription, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.UserSubscription
	if err := s.db.WithContext(ctx).
		Where("plan <> ? AND expires_at IS NOT NULL AND expires_at < ?", models.PlanFree, before).
		Order("expires_at asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertSubscriptionTx(ctx context.Context, tx *gorm.DB, item *models.UserSubscription) error {
	if s == nil || (s.db == nil && tx == nil) || item == nil {
		return nil
	}
	if strings.TrimSpace(item.OwnerID) == "" {
		return nil
	}
	// The conflict target is owner_id; an explicit id would hit the primary key instead.
	row := *item
	row.ID = 0
	if err := s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"plan", "expires_at", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return err
	}
	item.ID = row.ID
	return nil
}

func (s *Store) CreatePayment(ctx context.Context, item *models.SubscriptionPayment) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetPaymentByReference(ctx context.Context, reference string) (*models.SubscriptionPayment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil
	}
	var item models.SubscriptionPayment
	err := s.db.WithContext(ctx).Where("reference = ?", reference).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdatePaymentCheckout(ctx context.Context, id uint64, sessionID string, checkoutURL string) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.SubscriptionPayment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"provider_session_id": sessionID,
			"checkout_url":        checkoutURL,
			"updated_at":          time.Now().UTC(),
		}).Error
}

func (s *Store) SettlePaymentTx(ctx context.Context, tx *gorm.DB, id uint64, status string, reason *string, at time.Time) (bool, error) {
	if s == nil || (s.db == nil && tx == nil) || id == 0 {
		return false, nil
	}
	updates := map[string]any{
		"status":         status,
		"failure_reason": reason,
		"updated_at":     at,
	}
	if status == models.PaymentStatusConfirmed {
		updates["confirmed_at"] = at
	}
	res := s.conn(ctx, tx).Model(&models.SubscriptionPayment{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) FailStalePayments(ctx context.Context, before time.Time, reason string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&models.SubscriptionPayment{}).
		Where("status = ? AND created_at < ?", models.PaymentStatusPending, before).
		Updates(map[string]any{
			"status":         models.PaymentStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (s *Store) ListPaymentsByOwner(ctx context.Context, ownerID string, limit int, offset int) ([]models.SubscriptionPayment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SubscriptionPayment
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at desc").
		Limit(normalizeLimit(limit, 50)).
		Offset(normalizeOffset(offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
