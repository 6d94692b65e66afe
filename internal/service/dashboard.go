package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pmbots/internal/cache"
	"pmbots/internal/models"
	"pmbots/internal/repository"
	"pmbots/internal/strategy"
	"pmbots/internal/validator"
)

const leaderboardScope = "all"

// DashboardService serves read-only views. Trade data comes from the bot
// database, which may be absent in development; views then report zeros.
type DashboardService struct {
	Repo      repository.Repository
	BotData   repository.BotDataRepository
	Validator *validator.Validator
	Caches    *cache.Namespaces
	Logger    *zap.Logger
	Now       func() time.Time
}

func (s *DashboardService) now() time.Time { return clockNow(s.Now) }

type Dashboard struct {
	Wallets             int             `json:"wallets"`
	Bots                int             `json:"bots"`
	EnabledBots         int             `json:"enabledBots"`
	TotalRuntimeSeconds int64           `json:"totalRuntimeSeconds"`
	Trades              int64           `json:"trades"`
	Wins                int64           `json:"wins"`
	WinRate             float64         `json:"winRate"`
	PnL                 decimal.Decimal `json:"pnl"`
	Volume              decimal.Decimal `json:"volume"`
	GeneratedAt         time.Time       `json:"generatedAt"`
}

func (s *DashboardService) Summary(ctx context.Context, userID string) (*Dashboard, error) {
	out, err := cache.Load(ctx, s.Caches.Dashboard, userID, "summary", func(ctx context.Context) (Dashboard, error) {
		return s.buildSummary(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *DashboardService) buildSummary(ctx context.Context, userID string) (Dashboard, error) {
	now := s.now()
	wallets, err := s.Repo.ListWalletsByOwner(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}
	bots, err := s.Repo.ListBotsByOwner(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}
	runtime, err := s.Repo.SumRuntimeByOwner(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{Wallets: len(wallets), Bots: len(bots), GeneratedAt: now}
	for _, b := range bots {
		if b.Enabled {
			d.EnabledBots++
			runtime += RuntimeSeconds(b.EnabledAt, now)
		}
	}
	d.TotalRuntimeSeconds = runtime

	funders := make([]string, 0, len(wallets))
	for _, w := range wallets {
		funders = append(funders, w.Funder)
	}
	if s.BotData != nil && len(funders) > 0 {
		sum, err := s.BotData.SummarizeTrades(ctx, funders)
		if err != nil {
			return Dashboard{}, err
		}
		d.Trades, d.Wins, d.PnL, d.Volume = sum.Trades, sum.Wins, sum.PnL, sum.Volume
		d.WinRate = sum.WinRate()
	}
	return d, nil
}

type BotPerformance struct {
	BotID          uint64          `json:"botId"`
	Symbol         string          `json:"symbol"`
	Interval       string          `json:"interval"`
	Enabled        bool            `json:"enabled"`
	RuntimeSeconds int64           `json:"runtimeSeconds"`
	Trades         int64           `json:"trades"`
	Wins           int64           `json:"wins"`
	WinRate        float64         `json:"winRate"`
	PnL            decimal.Decimal `json:"pnl"`
	Volume         decimal.Decimal `json:"volume"`
}

func (s *DashboardService) Performance(ctx context.Context, userID string, botID uint64) (*BotPerformance, error) {
	b, _, err := s.Validator.Bot(ctx, botID, userID)
	if err != nil {
		return nil, err
	}
	out := &BotPerformance{
		BotID:          b.ID,
		Symbol:         b.Symbol,
		Interval:       b.Interval,
		Enabled:        b.Enabled,
		RuntimeSeconds: b.TotalRuntimeSeconds,
	}
	if b.Enabled {
		out.RuntimeSeconds += RuntimeSeconds(b.EnabledAt, s.now())
	}
	if s.BotData == nil {
		return out, nil
	}
	sum, err := s.BotData.SummarizeBotTrades(ctx, b.Funder, b.Symbol, b.Interval)
	if err != nil {
		return nil, err
	}
	out.Trades, out.Wins, out.PnL, out.Volume = sum.Trades, sum.Wins, sum.PnL, sum.Volume
	out.WinRate = sum.WinRate()
	return out, nil
}

type LeaderboardEntry struct {
	models.MarketStrategy
	ContentHash string          `json:"contentHash"`
	MaxAmount   decimal.Decimal `json:"maxAmount"`
	Owned       bool            `json:"owned"`
}

// Leaderboard lists top market strategies. Entries are cached for everyone;
// Owned is filled per caller from their strategies with the same content
// and interval.
func (s *DashboardService) Leaderboard(ctx context.Context, userID string, interval string, limit int) ([]LeaderboardEntry, error) {
	interval = strings.TrimSpace(interval)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	key := fmt.Sprintf("top:%s:%d", interval, limit)
	entries, err := cache.Load(ctx, s.Caches.Leaderboard, leaderboardScope, key, func(ctx context.Context) ([]LeaderboardEntry, error) {
		return s.loadLeaderboard(ctx, interval, limit)
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []LeaderboardEntry{}, nil
	}

	keys, err := s.Repo.ListContentKeysByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	owned := make(map[repository.ContentKey]bool, len(keys))
	for _, k := range keys {
		owned[k] = true
	}
	for i := range entries {
		e := &entries[i]
		e.Owned = e.ContentHash != "" && owned[repository.ContentKey{ContentHash: e.ContentHash, Interval: e.Interval}]
	}
	return entries, nil
}

func (s *DashboardService) loadLeaderboard(ctx context.Context, interval string, limit int) ([]LeaderboardEntry, error) {
	if s.BotData == nil {
		return []LeaderboardEntry{}, nil
	}
	params := repository.ListMarketStrategiesParams{Limit: limit, OrderBy: "pnl"}
	if interval != "" {
		params.Interval = &interval
	}
	items, err := s.BotData.ListMarketStrategies(ctx, params)
	if err != nil {
		return nil, err
	}
	out := make([]LeaderboardEntry, 0, len(items))
	for _, ms := range items {
		entry := LeaderboardEntry{MarketStrategy: ms}
		// Entries with steps we cannot normalize stay listed without a hash.
		if content, err := strategy.BuildRaw(ms.TradeSteps); err == nil {
			entry.ContentHash = content.Hash
			entry.MaxAmount = content.MaxAmount
		} else {
			nopIfNil(s.Logger).Debug("market strategy steps invalid", zap.Uint64("market_strategy_id", ms.ID), zap.Error(err))
		}
		out = append(out, entry)
	}
	return out, nil
}

type LogPage struct {
	Items  []models.BotLog `json:"items"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func (s *DashboardService) Logs(ctx context.Context, userID string, botID uint64, limit, offset int) (*LogPage, error) {
	b, _, err := s.Validator.Bot(ctx, botID, userID)
	if err != nil {
		return nil, err
	}
	page := &LogPage{Items: []models.BotLog{}, Limit: limit, Offset: offset}
	if s.BotData == nil {
		return page, nil
	}
	params := repository.ListBotLogsParams{Limit: limit, Offset: offset, Funder: b.Funder, Symbol: b.Symbol, Interval: b.Interval}
	items, err := s.BotData.ListBotLogs(ctx, params)
	if err != nil {
		return nil, err
	}
	total, err := s.BotData.CountBotLogs(ctx, params)
	if err != nil {
		return nil, err
	}
	if items != nil {
		page.Items = items
	}
	page.Total = total
	return page, nil
}

// LogTail checks ownership once and returns a reader for the bot's new logs.
func (s *DashboardService) LogTail(ctx context.Context, userID string, botID uint64) (*LogTail, error) {
	b, _, err := s.Validator.Bot(ctx, botID, userID)
	if err != nil {
		return nil, err
	}
	return &LogTail{data: s.BotData, bot: *b}, nil
}

type LogTail struct {
	data repository.BotDataRepository
	bot  models.Bot
}

// Next returns logs newer than afterID, oldest first.
func (t *LogTail) Next(ctx context.Context, afterID uint64, limit int) ([]models.BotLog, error) {
	if t == nil || t.data == nil {
		return nil, nil
	}
	return t.data.ListBotLogs(ctx, repository.ListBotLogsParams{
		Limit:    limit,
		Funder:   t.bot.Funder,
		Symbol:   t.bot.Symbol,
		Interval: t.bot.Interval,
		AfterID:  afterID,
	})
}

// Latest returns the id of the newest log so a tail can start after it.
func (t *LogTail) Latest(ctx context.Context) (uint64, error) {
	if t == nil || t.data == nil {
		return 0, nil
	}
	items, err := t.data.ListBotLogs(ctx, repository.ListBotLogsParams{
		Limit:    1,
		Funder:   t.bot.Funder,
		Symbol:   t.bot.Symbol,
		Interval: t.bot.Interval,
	})
	if err != nil || len(items) == 0 {
		return 0, err
	}
	return items[0].ID, nil
}
