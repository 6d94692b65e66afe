package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"pmbots/internal/models"
	"pmbots/internal/repository"
)

func (s *Store) CreateBot(ctx context.Context, item *models.Bot) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetBotByID(ctx context.Context, id uint64) (*models.Bot, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Bot
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetBotByMarket(ctx context.Context, symbol string, interval string, funder string) (*models.Bot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Bot
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND interval = ? AND LOWER(funder) = LOWER(?)", strings.ToUpper(strings.TrimSpace(symbol)), interval, funder).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListBotsByOwner(ctx context.Context, ownerID string) ([]models.Bot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Bot
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountBotsByOwner(ctx context.Context, ownerID string) (int64, error) {
	return s.countBots(ctx, "owner_id = ?", ownerID)
}

func (s *Store) CountBotsByWallet(ctx context.Context, walletID uint64) (int64, error) {
	return s.countBots(ctx, "wallet_id = ?", walletID)
}

func (s *Store) CountBotsByStrategy(ctx context.Context, strategyID uint64) (int64, error) {
	return s.countBots(ctx, "strategy_id = ?", strategyID)
}

func (s *Store) CountEnabledBotsByWallet(ctx context.Context, walletID uint64) (int64, error) {
	return s.countBots(ctx, "wallet_id = ? AND enabled = ?", walletID, true)
}

func (s *Store) countBots(ctx context.Context, where string, args ...any) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Bot{}).Where(where, args...).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListBotPreviewsByWallet(ctx context.Context, walletID uint64, limit int) ([]models.BotPreview, error) {
	return s.listBotPreviews(ctx, "wallet_id = ?", walletID, limit)
}

func (s *Store) ListBotPreviewsByStrategy(ctx context.Context, strategyID uint64, limit int) ([]models.BotPreview, error) {
	return s.listBotPreviews(ctx, "strategy_id = ?", strategyID, limit)
}

func (s *Store) listBotPreviews(ctx context.Context, where string, id uint64, limit int) ([]models.BotPreview, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.BotPreview
	if err := s.db.WithContext(ctx).Model(&models.Bot{}).
		Select("id, symbol, interval, enabled").
		Where(where, id).
		Order("id asc").
		Limit(normalizeLimit(limit, 3)).
		Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListWalletIDsWithEnabledBots(ctx context.Context, walletIDs []uint64) ([]uint64, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	walletIDs = cleanIDs(walletIDs)
	if len(walletIDs) == 0 {
		return nil, nil
	}
	var ids []uint64
	if err := s.db.WithContext(ctx).Model(&models.Bot{}).
		Where("wallet_id IN ? AND enabled = ?", walletIDs, true).
		Distinct().
		Pluck("wallet_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) SumEnabledStrategyAmountByWallet(ctx context.Context, walletID uint64, excludeBotID uint64) (decimal.Decimal, error) {
	if s == nil || s.db == nil || walletID == 0 {
		return decimal.Zero, nil
	}
	var out struct {
		Total decimal.NullDecimal
	}
	if err := s.db.WithContext(ctx).
		Table("bots AS b").
		Select("SUM(st.max_amount) AS total").
		Joins("JOIN strategies AS st ON st.id = b.strategy_id").
		Where("b.wallet_id = ? AND b.enabled = ? AND b.id <> ?", walletID, true, excludeBotID).
		Scan(&out).Error; err != nil {
		return decimal.Zero, err
	}
	if !out.Total.Valid {
		return decimal.Zero, nil
	}
	return out.Total.Decimal, nil
}

func (s *Store) SumRuntimeByOwner(ctx context.Context, ownerID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var out struct {
		Total int64
	}
	if err := s.db.WithContext(ctx).Model(&models.Bot{}).
		Select("COALESCE(SUM(total_runtime_seconds), 0) AS total").
		Where("owner_id = ?", ownerID).
		Scan(&out).Error; err != nil {
		return 0, err
	}
	return out.Total, nil
}

func (s *Store) DeleteBot(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("id = ? AND enabled = ?", id, false).Delete(&models.Bot{}).Error
}

func (s *Store) EnableBotTx(ctx context.Context, tx *gorm.DB, id uint64, at time.Time) (bool, error) {
	if s == nil || (s.db == nil && tx == nil) || id == 0 {
		return false, nil
	}
	res := s.conn(ctx, tx).Model(&models.Bot{}).
		Where("id = ? AND enabled = ?", id, false).
		Updates(map[string]any{"enabled": true, "enabled_at": at, "updated_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) DisableBotTx(ctx context.Context, tx *gorm.DB, id uint64, runtimeSeconds int64) (bool, error) {
	if s == nil || (s.db == nil && tx == nil) || id == 0 {
		return false, nil
	}
	if runtimeSeconds < 0 {
		runtimeSeconds = 0
	}
	res := s.conn(ctx, tx).Model(&models.Bot{}).
		Where("id = ? AND enabled = ?", id, true).
		Updates(map[string]any{
			"enabled":               false,
			"enabled_at":            nil,
			"total_runtime_seconds": gorm.Expr("total_runtime_seconds + ?", runtimeSeconds),
			"updated_at":            time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) InsertBotHistoryTx(ctx context.Context, tx *gorm.DB, item *models.BotOperationHistory) error {
	if s == nil || (s.db == nil && tx == nil) || item == nil {
		return nil
	}
	return s.conn(ctx, tx).Create(item).Error
}

func (s *Store) ListBotHistory(ctx context.Context, params repository.ListBotHistoryParams) ([]models.BotOperationHistory, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := botHistoryQuery(s.db.WithContext(ctx), params)
	var items []models.BotOperationHistory
	if err := query.
		Order("created_at desc, id desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountBotHistory(ctx context.Context, params repository.ListBotHistoryParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := botHistoryQuery(s.db.WithContext(ctx), params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func botHistoryQuery(db *gorm.DB, params repository.ListBotHistoryParams) *gorm.DB {
	query := db.Model(&models.BotOperationHistory{}).Where("bot_id = ?", params.BotID)
	if params.Action != nil && strings.TrimSpace(*params.Action) != "" {
		query = query.Where("action = ?", strings.ToUpper(strings.TrimSpace(*params.Action)))
	}
	return query
}
