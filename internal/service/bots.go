package service

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pmbots/internal/apperr"
	"pmbots/internal/cache"
	"pmbots/internal/chain"
	"pmbots/internal/events"
	"pmbots/internal/lock"
	"pmbots/internal/metrics"
	"pmbots/internal/models"
	"pmbots/internal/repository"
	"pmbots/internal/subscription"
	"pmbots/internal/validator"
)

const (
	defaultLockTTL    = 30 * time.Second
	defaultMultiplier = 10
	botListKey        = "list"
)

type BotService struct {
	Repo      repository.Repository
	Validator *validator.Validator
	Wallets   *WalletService
	Balances  *BalanceService
	Caches    *cache.Namespaces
	Settings  *SettingsService
	Locker    lock.Locker
	Events    events.Publisher
	Logger    *zap.Logger
	Now       func() time.Time

	// Production turns on the balance coverage check.
	Production        bool
	BalanceMultiplier int64
	LockTTL           time.Duration
}

func (s *BotService) now() time.Time { return clockNow(s.Now) }

func (s *BotService) log() *zap.Logger { return nopIfNil(s.Logger) }

type CreateBotInput struct {
	WalletID   uint64
	StrategyID uint64
	Symbol     string
	Interval   string
}

func (s *BotService) Create(ctx context.Context, userID string, in CreateBotInput) (*models.Bot, error) {
	if err := limits(ctx, s.Repo, userID, s.now()).CheckCount(ctx, subscription.KindBots, 1); err != nil {
		return nil, err
	}
	w, err := s.Validator.Wallet(ctx, in.WalletID, userID)
	if err != nil {
		return nil, err
	}
	st, err := s.Validator.Strategy(ctx, in.StrategyID, userID)
	if err != nil {
		return nil, err
	}
	interval := strings.TrimSpace(in.Interval)
	if interval == "" {
		interval = st.Interval
	}
	if interval != st.Interval {
		return nil, apperr.WithData(apperr.CodeBotIntervalMismatch, "bot interval differs from strategy interval", map[string]string{
			"botInterval":      interval,
			"strategyInterval": st.Interval,
		})
	}
	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))

	existing, err := s.Repo.GetBotByMarket(ctx, symbol, interval, w.Funder)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.WithData(apperr.CodeBotDuplicate, "bot already exists for this market", map[string]uint64{"botId": existing.ID})
	}

	item := &models.Bot{
		OwnerID:    userID,
		WalletID:   w.ID,
		StrategyID: st.ID,
		Symbol:     symbol,
		Interval:   interval,
		Funder:     w.Funder,
	}
	if err := s.Repo.CreateBot(ctx, item); err != nil {
		if isDuplicate(err) {
			return nil, apperr.New(apperr.CodeBotDuplicate, "bot already exists for this market")
		}
		return nil, err
	}
	s.invalidateBots(ctx, userID)
	s.log().Info("bot created", zap.String("owner_id", userID), zap.Uint64("bot_id", item.ID), zap.String("symbol", symbol), zap.String("interval", interval))
	return item, nil
}

func (s *BotService) List(ctx context.Context, userID string) ([]models.Bot, error) {
	items, err := cache.Load(ctx, s.Caches.Bots, userID, botListKey, func(ctx context.Context) ([]models.Bot, error) {
		return s.Repo.ListBotsByOwner(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Bot{}
	}
	return items, nil
}

func (s *BotService) Get(ctx context.Context, userID string, botID uint64) (*models.Bot, error) {
	b, _, err := s.Validator.Bot(ctx, botID, userID)
	return b, err
}

func (s *BotService) Delete(ctx context.Context, userID string, botID uint64) error {
	b, _, err := s.Validator.Bot(ctx, botID, userID)
	if err != nil {
		return err
	}
	if b.Enabled {
		return apperr.New(apperr.CodeBotEnabledCannotDelete, "disable the bot before deleting it")
	}
	if err := s.Repo.DeleteBot(ctx, b.ID); err != nil {
		return err
	}
	s.invalidateBots(ctx, userID)
	s.log().Info("bot deleted", zap.String("owner_id", userID), zap.Uint64("bot_id", b.ID))
	return nil
}

type HistoryPage struct {
	Items  []models.BotOperationHistory `json:"items"`
	Total  int64                        `json:"total"`
	Limit  int                          `json:"limit"`
	Offset int                          `json:"offset"`
}

func (s *BotService) History(ctx context.Context, userID string, botID uint64, limit, offset int, action string) (*HistoryPage, error) {
	b, _, err := s.Validator.Bot(ctx, botID, userID)
	if err != nil {
		return nil, err
	}
	params := repository.ListBotHistoryParams{Limit: limit, Offset: offset, BotID: b.ID}
	if action = strings.ToUpper(strings.TrimSpace(action)); action != "" {
		params.Action = &action
	}
	items, err := s.Repo.ListBotHistory(ctx, params)
	if err != nil {
		return nil, err
	}
	total, err := s.Repo.CountBotHistory(ctx, params)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.BotOperationHistory{}
	}
	return &HistoryPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// EnableResult is the enable response. WalletActivating is set when the
// wallet is being deployed and the bot will be enabled once that finishes.
type EnableResult struct {
	Bot              *models.Bot `json:"bot"`
	WalletActivating bool        `json:"walletActivating"`
}

// BalanceShortfall is the payload of BOT_WALLET_INSUFFICIENT_BALANCE. All
// amounts are token base units.
type BalanceShortfall struct {
	Required   string `json:"required"`
	Balance    string `json:"balance"`
	Shortfall  string `json:"shortfall"`
	Multiplier int64  `json:"multiplier"`
}

func (s *BotService) Enable(ctx context.Context, userID string, botID uint64) (*EnableResult, error) {
	if err := s.Settings.Require(ctx, FeatureBotEnable); err != nil {
		return nil, err
	}
	release, err := s.lock(ctx, botID)
	if err != nil {
		return nil, err
	}
	defer release()

	b, w, err := s.Validator.Bot(ctx, botID, userID)
	if err != nil {
		return nil, err
	}
	if b.Enabled {
		return &EnableResult{Bot: b}, nil
	}

	st, err := s.Repo.GetStrategyByID(ctx, b.StrategyID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, apperr.New(apperr.CodeStrategyNotFound, "strategy not found")
	}
	if err := limits(ctx, s.Repo, userID, s.now()).CheckStrategyAmount(ctx, st.MaxAmount); err != nil {
		return nil, err
	}

	if w.Status == models.WalletStatusDeploying {
		return nil, apperr.New(apperr.CodeBotWalletDeploying, "wallet is being deployed")
	}

	committed, err := s.Repo.SumEnabledStrategyAmountByWallet(ctx, w.ID, b.ID)
	if err != nil {
		return nil, err
	}
	if s.Production && s.Settings.IsEnabled(ctx, FeatureBalanceCheck) {
		if err := s.checkCoverage(ctx, w, committed.Add(st.MaxAmount)); err != nil {
			return nil, err
		}
	}

	if w.NeedsActivation() {
		flipped, err := s.Wallets.BeginActivation(ctx, w)
		if err != nil {
			return nil, err
		}
		if flipped {
			s.Wallets.StartActivation(*w, s.enableAfterActivation(*b))
			s.log().Info("bot waiting for wallet activation", zap.Uint64("bot_id", b.ID), zap.Uint64("wallet_id", w.ID))
			return &EnableResult{Bot: b, WalletActivating: true}, nil
		}
		if w.Status != models.WalletStatusActive {
			return nil, apperr.New(apperr.CodeBotWalletDeploying, "wallet is being deployed")
		}
	}

	updated, err := s.enable(ctx, *b, models.BotReasonUser)
	if err != nil {
		return nil, err
	}
	return &EnableResult{Bot: updated}, nil
}

// checkCoverage requires the wallet balance to cover total × multiplier.
func (s *BotService) checkCoverage(ctx context.Context, w *models.Wallet, total decimal.Decimal) error {
	multiplier := s.BalanceMultiplier
	if multiplier <= 0 {
		multiplier = defaultMultiplier
	}
	required := chain.ToRaw(total.Mul(decimal.NewFromInt(multiplier)), s.Balances.Decimals)
	balance, err := s.Balances.Raw(ctx, w.Funder)
	if err != nil {
		return err
	}
	if balance == nil {
		balance = new(big.Int)
	}
	if balance.Cmp(required) >= 0 {
		return nil
	}
	return apperr.WithData(apperr.CodeBotWalletInsufficientBal, "wallet balance does not cover enabled bots", BalanceShortfall{
		Required:   required.String(),
		Balance:    balance.String(),
		Shortfall:  new(big.Int).Sub(required, balance).String(),
		Multiplier: multiplier,
	})
}

// enableAfterActivation enables the bot once its wallet is ACTIVE. The bot
// stays disabled when activation failed.
func (s *BotService) enableAfterActivation(b models.Bot) ActivationDone {
	return func(ctx context.Context, w models.Wallet, err error) {
		log := s.log().With(zap.Uint64("bot_id", b.ID), zap.Uint64("wallet_id", w.ID))
		if err != nil {
			log.Warn("bot not enabled, wallet activation failed", zap.Error(err))
			return
		}
		if _, err := s.enable(ctx, b, models.BotReasonWalletActivated); err != nil {
			log.Error("enable after activation failed", zap.Error(err))
		}
	}
}

// enable flips the bot and records history in one transaction. A bot that
// is already enabled is returned as stored with no history row.
func (s *BotService) enable(ctx context.Context, b models.Bot, reason string) (*models.Bot, error) {
	at := s.now()
	changed := false
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.Repo.EnableBotTx(ctx, tx, b.ID, at)
		if err != nil || !ok {
			return err
		}
		changed = true
		return s.Repo.InsertBotHistoryTx(ctx, tx, &models.BotOperationHistory{
			BotID:     b.ID,
			OwnerID:   b.OwnerID,
			Action:    models.BotActionEnable,
			Reason:    reason,
			CreatedAt: at,
		})
	})
	if err != nil {
		return nil, err
	}

	if changed {
		metrics.BotTransitions.WithLabelValues(models.BotActionEnable, reason).Inc()
		s.invalidateBots(ctx, b.OwnerID)
		if n, err := s.Repo.CountEnabledBotsByWallet(ctx, b.WalletID); err == nil && n == 1 {
			s.invalidateWallets(ctx, b.OwnerID)
		}
		publish(ctx, s.Events, s.log(), botEvent(events.BotEnabled, b, reason, at))
		s.log().Info("bot enabled", zap.String("owner_id", b.OwnerID), zap.Uint64("bot_id", b.ID), zap.String("reason", reason))
	}
	return s.reload(ctx, b)
}

func (s *BotService) Disable(ctx context.Context, userID string, botID uint64) (*models.Bot, error) {
	release, err := s.lock(ctx, botID)
	if err != nil {
		return nil, err
	}
	defer release()

	b, _, err := s.Validator.Bot(ctx, botID, userID)
	if err != nil {
		return nil, err
	}
	return s.disable(ctx, *b, models.BotReasonUser)
}

func (s *BotService) disable(ctx context.Context, b models.Bot, reason string) (*models.Bot, error) {
	if !b.Enabled {
		return &b, nil
	}
	at := s.now()
	runtime := RuntimeSeconds(b.EnabledAt, at)
	changed := false
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.Repo.DisableBotTx(ctx, tx, b.ID, runtime)
		if err != nil || !ok {
			return err
		}
		changed = true
		return s.Repo.InsertBotHistoryTx(ctx, tx, &models.BotOperationHistory{
			BotID:          b.ID,
			OwnerID:        b.OwnerID,
			Action:         models.BotActionDisable,
			Reason:         reason,
			RuntimeSeconds: runtime,
			CreatedAt:      at,
		})
	})
	if err != nil {
		return nil, err
	}

	if changed {
		metrics.BotTransitions.WithLabelValues(models.BotActionDisable, reason).Inc()
		s.invalidateBots(ctx, b.OwnerID)
		if n, err := s.Repo.CountEnabledBotsByWallet(ctx, b.WalletID); err == nil && n == 0 {
			s.invalidateWallets(ctx, b.OwnerID)
		}
		publish(ctx, s.Events, s.log(), botEvent(events.BotDisabled, b, reason, at))
		s.log().Info("bot disabled",
			zap.String("owner_id", b.OwnerID),
			zap.Uint64("bot_id", b.ID),
			zap.String("reason", reason),
			zap.Int64("runtime_seconds", runtime),
		)
	}
	return s.reload(ctx, b)
}

// RuntimeSeconds is the whole seconds since enabledAt, never negative.
func RuntimeSeconds(enabledAt *time.Time, now time.Time) int64 {
	if enabledAt == nil {
		return 0
	}
	elapsed := int64(now.Sub(*enabledAt) / time.Second)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// DisableOverLimit disables the newest enabled bots of userID until the
// count fits the limit. Used when a paid plan lapses.
func (s *BotService) DisableOverLimit(ctx context.Context, userID string, limit int64, reason string) (int, error) {
	bots, err := s.Repo.ListBotsByOwner(ctx, userID)
	if err != nil {
		return 0, err
	}
	var enabled []models.Bot
	for _, b := range bots {
		if b.Enabled {
			enabled = append(enabled, b)
		}
	}
	excess := int64(len(enabled)) - limit
	if excess <= 0 {
		return 0, nil
	}
	n := 0
	// ListBotsByOwner is ordered oldest first; the newest go first.
	for i := len(enabled) - 1; i >= 0 && int64(n) < excess; i-- {
		b := enabled[i]
		release, err := s.lock(ctx, b.ID)
		if err != nil {
			if apperr.Is(err, apperr.CodeBotOperationInProgress) {
				continue
			}
			return n, err
		}
		_, err = s.disable(ctx, b, reason)
		release()
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// DisableByAdmin disables any bot regardless of owner.
func (s *BotService) DisableByAdmin(ctx context.Context, botID uint64) (*models.Bot, error) {
	release, err := s.lock(ctx, botID)
	if err != nil {
		return nil, err
	}
	defer release()
	b, err := s.Repo.GetBotByID(ctx, botID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperr.New(apperr.CodeBotNotFound, "bot not found")
	}
	return s.disable(ctx, *b, models.BotReasonAdmin)
}

func (s *BotService) lock(ctx context.Context, botID uint64) (func(), error) {
	if s.Locker == nil {
		return func() {}, nil
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	release, ok, err := s.Locker.Acquire(ctx, idKey("bot", botID), ttl)
	if err != nil {
		s.log().Error("acquire bot lock failed", zap.Uint64("bot_id", botID), zap.Error(err))
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.CodeBotOperationInProgress, "another operation on this bot is in progress")
	}
	return release, nil
}

func (s *BotService) reload(ctx context.Context, b models.Bot) (*models.Bot, error) {
	fresh, err := s.Repo.GetBotByID(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, apperr.New(apperr.CodeBotNotFound, "bot not found")
	}
	return fresh, nil
}

func (s *BotService) invalidateBots(ctx context.Context, userID string) {
	if s.Caches == nil {
		return
	}
	if err := s.Caches.Bots.Invalidate(ctx, userID); err != nil {
		s.log().Warn("bots cache invalidate failed", zap.String("owner_id", userID), zap.Error(err))
	}
	if err := s.Caches.Dashboard.Invalidate(ctx, userID); err != nil {
		s.log().Warn("dashboard cache invalidate failed", zap.String("owner_id", userID), zap.Error(err))
	}
}

func (s *BotService) invalidateWallets(ctx context.Context, userID string) {
	if s.Caches == nil {
		return
	}
	if err := s.Caches.Wallets.Invalidate(ctx, userID); err != nil {
		s.log().Warn("wallets cache invalidate failed", zap.String("owner_id", userID), zap.Error(err))
	}
}

func botEvent(typ string, b models.Bot, reason string, at time.Time) events.Event {
	return events.Event{
		Type:     typ,
		OwnerID:  b.OwnerID,
		BotID:    b.ID,
		WalletID: b.WalletID,
		Funder:   b.Funder,
		Symbol:   b.Symbol,
		Interval: b.Interval,
		Reason:   reason,
		At:       at,
	}
}
