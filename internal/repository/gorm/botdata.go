package gormrepository

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"pmbots/internal/models"
	"pmbots/internal/repository"
)

// BotDataStore reads the bot database. A nil store behaves as an empty
// database so dashboards keep working when it is not configured.
type BotDataStore struct {
	db *gorm.DB
}

func NewBotData(db *gorm.DB) *BotDataStore {
	return &BotDataStore{db: db}
}

var marketStrategyOrderColumns = map[string]string{
	"pnl":      "pnl",
	"winRate":  "win_rate",
	"trades":   "trades",
	"updated":  "updated_at",
	"win_rate": "win_rate",
}

func (s *BotDataStore) ListMarketStrategies(ctx context.Context, params repository.ListMarketStrategiesParams) ([]models.MarketStrategy, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.MarketStrategy{})
	if params.Interval != nil && strings.TrimSpace(*params.Interval) != "" {
		query = query.Where("interval = ?", strings.TrimSpace(*params.Interval))
	}
	query = applyOrder(query, marketStrategyOrderColumns[params.OrderBy], params.Asc, "pnl")
	var items []models.MarketStrategy
	if err := query.Limit(normalizeLimit(params.Limit, 50)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *BotDataStore) GetMarketStrategy(ctx context.Context, id uint64) (*models.MarketStrategy, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.MarketStrategy
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

type tradeSummaryRow struct {
	Trades int64
	Wins   int64
	PnL    decimal.NullDecimal `gorm:"column:pnl"`
	Volume decimal.NullDecimal
}

func (r tradeSummaryRow) summary() repository.TradeSummary {
	out := repository.TradeSummary{Trades: r.Trades, Wins: r.Wins, PnL: decimal.Zero, Volume: decimal.Zero}
	if r.PnL.Valid {
		out.PnL = r.PnL.Decimal
	}
	if r.Volume.Valid {
		out.Volume = r.Volume.Decimal
	}
	return out
}

const tradeSummarySelect = "COUNT(*) AS trades, " +
	"COUNT(*) FILTER (WHERE pnl > 0) AS wins, " +
	"SUM(pnl) AS pnl, " +
	"SUM(price * size) AS volume"

func (s *BotDataStore) SummarizeTrades(ctx context.Context, funders []string) (repository.TradeSummary, error) {
	empty := repository.TradeSummary{PnL: decimal.Zero, Volume: decimal.Zero}
	if s == nil || s.db == nil {
		return empty, nil
	}
	funders = lowerAll(cleanStrings(funders))
	if len(funders) == 0 {
		return empty, nil
	}
	var row tradeSummaryRow
	if err := s.db.WithContext(ctx).Model(&models.TransactionHistory{}).
		Select(tradeSummarySelect).
		Where("LOWER(funder) IN ?", funders).
		Scan(&row).Error; err != nil {
		return empty, err
	}
	return row.summary(), nil
}

func (s *BotDataStore) SummarizeBotTrades(ctx context.Context, funder string, symbol string, interval string) (repository.TradeSummary, error) {
	empty := repository.TradeSummary{PnL: decimal.Zero, Volume: decimal.Zero}
	if s == nil || s.db == nil {
		return empty, nil
	}
	var row tradeSummaryRow
	if err := s.db.WithContext(ctx).Model(&models.TransactionHistory{}).
		Select(tradeSummarySelect).
		Where("LOWER(funder) = LOWER(?) AND symbol = ? AND interval = ?", funder, symbol, interval).
		Scan(&row).Error; err != nil {
		return empty, err
	}
	return row.summary(), nil
}

func (s *BotDataStore) ListBotLogs(ctx context.Context, params repository.ListBotLogsParams) ([]models.BotLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := botLogQuery(s.db.WithContext(ctx), params)
	if params.AfterID > 0 {
		query = query.Where("id > ?", params.AfterID).Order("id asc")
	} else {
		query = query.Order("id desc").Offset(normalizeOffset(params.Offset))
	}
	var items []models.BotLog
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *BotDataStore) CountBotLogs(ctx context.Context, params repository.ListBotLogsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := botLogQuery(s.db.WithContext(ctx), params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func botLogQuery(db *gorm.DB, params repository.ListBotLogsParams) *gorm.DB {
	return db.Model(&models.BotLog{}).
		Where("LOWER(funder) = LOWER(?) AND symbol = ? AND interval = ?", params.Funder, params.Symbol, params.Interval)
}

func lowerAll(items []string) []string {
	for i := range items {
		items[i] = strings.ToLower(items[i])
	}
	return items
}
