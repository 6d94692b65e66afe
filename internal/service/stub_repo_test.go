package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"pmbots/internal/models"
	"pmbots/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// Transactions run fn directly; nothing is rolled back.
type stubRepo struct {
	mu sync.Mutex

	nextID     uint64
	wallets    map[uint64]*models.Wallet
	strategies map[uint64]*models.Strategy
	bots       map[uint64]*models.Bot
	history    []models.BotOperationHistory
	subs       map[string]*models.UserSubscription
	payments   map[uint64]*models.SubscriptionPayment
	settings   map[string]*models.SystemSetting
}

var _ repository.Repository = (*stubRepo)(nil)

func newStubRepo() *stubRepo {
	return &stubRepo{
		wallets:    map[uint64]*models.Wallet{},
		strategies: map[uint64]*models.Strategy{},
		bots:       map[uint64]*models.Bot{},
		subs:       map[string]*models.UserSubscription{},
		payments:   map[uint64]*models.SubscriptionPayment{},
		settings:   map[string]*models.SystemSetting{},
	}
}

func (s *stubRepo) id() uint64 {
	s.nextID++
	return s.nextID
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

// wallets

func (s *stubRepo) CreateWallet(ctx context.Context, item *models.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if !w.Deleted && strings.EqualFold(w.Funder, item.Funder) {
			return gorm.ErrDuplicatedKey
		}
	}
	item.ID = s.id()
	if item.Status == "" {
		item.Status = models.WalletStatusInactive
	}
	cp := *item
	s.wallets[item.ID] = &cp
	return nil
}

func (s *stubRepo) GetWalletByID(ctx context.Context, id uint64) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok || w.Deleted {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (s *stubRepo) GetLiveWalletByFunder(ctx context.Context, funder string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if !w.Deleted && strings.EqualFold(w.Funder, funder) {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListWalletsByOwner(ctx context.Context, ownerID string) ([]models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Wallet
	for _, w := range s.wallets {
		if w.OwnerID == ownerID && !w.Deleted {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) ListWalletsByIDs(ctx context.Context, ids []uint64) ([]models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Wallet
	for _, id := range ids {
		if w, ok := s.wallets[id]; ok {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (s *stubRepo) CountWalletsByOwner(ctx context.Context, ownerID string) (int64, error) {
	items, _ := s.ListWalletsByOwner(ctx, ownerID)
	return int64(len(items)), nil
}

func (s *stubRepo) RenameWallet(ctx context.Context, id uint64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[id]; ok {
		w.Name = name
	}
	return nil
}

func (s *stubRepo) SoftDeleteWallet(ctx context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[id]; ok {
		w.Deleted = true
		w.DeletedAt = &at
	}
	return nil
}

func (s *stubRepo) UpdateWalletStatusIf(ctx context.Context, id uint64, from []string, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok || w.Deleted {
		return false, nil
	}
	for _, f := range from {
		if w.Status == f {
			w.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (s *stubRepo) UpdateWalletActivation(ctx context.Context, id uint64, status string, txHash *string, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[id]; ok {
		w.Status = status
		w.ActivationTx = txHash
		w.ActivationError = errMsg
	}
	return nil
}

func (s *stubRepo) ListWalletsByStatusBefore(ctx context.Context, status string, before time.Time, limit int) ([]models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Wallet
	for _, w := range s.wallets {
		if w.Status == status && !w.Deleted && w.UpdatedAt.Before(before) {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (s *stubRepo) ListWalletsAfterID(ctx context.Context, afterID uint64, limit int) ([]models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Wallet
	for _, w := range s.wallets {
		if w.ID > afterID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubRepo) UpdateWalletKey(ctx context.Context, id uint64, sealed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[id]; ok {
		w.EncryptedPrivateKey = sealed
	}
	return nil
}

// strategies

func (s *stubRepo) CreateStrategy(ctx context.Context, item *models.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.strategies {
		if st.OwnerID == item.OwnerID && st.ContentHash == item.ContentHash && st.Interval == item.Interval {
			return gorm.ErrDuplicatedKey
		}
	}
	item.ID = s.id()
	cp := *item
	s.strategies[item.ID] = &cp
	return nil
}

func (s *stubRepo) GetStrategyByID(ctx context.Context, id uint64) (*models.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *stubRepo) GetStrategyByContent(ctx context.Context, ownerID string, contentHash string, interval string) (*models.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.strategies {
		if st.OwnerID == ownerID && st.ContentHash == contentHash && st.Interval == interval {
			cp := *st
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) MaxStrategyVersion(ctx context.Context, ownerID string, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, st := range s.strategies {
		if st.OwnerID == ownerID && st.Name == name && st.Version > max {
			max = st.Version
		}
	}
	return max, nil
}

func (s *stubRepo) ListStrategiesByOwner(ctx context.Context, ownerID string) ([]models.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Strategy
	for _, st := range s.strategies {
		if st.OwnerID == ownerID {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) ListStrategiesByIDs(ctx context.Context, ids []uint64) ([]models.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Strategy
	for _, id := range ids {
		if st, ok := s.strategies[id]; ok {
			out = append(out, *st)
		}
	}
	return out, nil
}

func (s *stubRepo) ListContentKeysByOwner(ctx context.Context, ownerID string) ([]repository.ContentKey, error) {
	items, _ := s.ListStrategiesByOwner(ctx, ownerID)
	out := make([]repository.ContentKey, 0, len(items))
	for _, st := range items {
		out = append(out, repository.ContentKey{ContentHash: st.ContentHash, Interval: st.Interval})
	}
	return out, nil
}

func (s *stubRepo) CountStrategiesByOwner(ctx context.Context, ownerID string) (int64, error) {
	items, _ := s.ListStrategiesByOwner(ctx, ownerID)
	return int64(len(items)), nil
}

func (s *stubRepo) DeleteStrategy(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.strategies, id)
	return nil
}

// bots

func (s *stubRepo) CreateBot(ctx context.Context, item *models.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bots {
		if b.Symbol == item.Symbol && b.Interval == item.Interval && b.Funder == item.Funder {
			return gorm.ErrDuplicatedKey
		}
	}
	item.ID = s.id()
	cp := *item
	s.bots[item.ID] = &cp
	return nil
}

func (s *stubRepo) GetBotByID(ctx context.Context, id uint64) (*models.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *stubRepo) GetBotByMarket(ctx context.Context, symbol string, interval string, funder string) (*models.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bots {
		if b.Symbol == symbol && b.Interval == interval && b.Funder == funder {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) botsWhere(match func(b *models.Bot) bool) []models.Bot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Bot
	for _, b := range s.bots {
		if match(b) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *stubRepo) ListBotsByOwner(ctx context.Context, ownerID string) ([]models.Bot, error) {
	return s.botsWhere(func(b *models.Bot) bool { return b.OwnerID == ownerID }), nil
}

func (s *stubRepo) CountBotsByOwner(ctx context.Context, ownerID string) (int64, error) {
	return int64(len(s.botsWhere(func(b *models.Bot) bool { return b.OwnerID == ownerID }))), nil
}

func (s *stubRepo) CountBotsByWallet(ctx context.Context, walletID uint64) (int64, error) {
	return int64(len(s.botsWhere(func(b *models.Bot) bool { return b.WalletID == walletID }))), nil
}

func (s *stubRepo) CountBotsByStrategy(ctx context.Context, strategyID uint64) (int64, error) {
	return int64(len(s.botsWhere(func(b *models.Bot) bool { return b.StrategyID == strategyID }))), nil
}

func previews(bots []models.Bot, limit int) []models.BotPreview {
	out := make([]models.BotPreview, 0, limit)
	for _, b := range bots {
		if len(out) == limit {
			break
		}
		out = append(out, b.Preview())
	}
	return out
}

func (s *stubRepo) ListBotPreviewsByWallet(ctx context.Context, walletID uint64, limit int) ([]models.BotPreview, error) {
	return previews(s.botsWhere(func(b *models.Bot) bool { return b.WalletID == walletID }), limit), nil
}

func (s *stubRepo) ListBotPreviewsByStrategy(ctx context.Context, strategyID uint64, limit int) ([]models.BotPreview, error) {
	return previews(s.botsWhere(func(b *models.Bot) bool { return b.StrategyID == strategyID }), limit), nil
}

func (s *stubRepo) CountEnabledBotsByWallet(ctx context.Context, walletID uint64) (int64, error) {
	return int64(len(s.botsWhere(func(b *models.Bot) bool { return b.WalletID == walletID && b.Enabled }))), nil
}

func (s *stubRepo) ListWalletIDsWithEnabledBots(ctx context.Context, walletIDs []uint64) ([]uint64, error) {
	want := map[uint64]bool{}
	for _, id := range walletIDs {
		want[id] = true
	}
	seen := map[uint64]bool{}
	var out []uint64
	for _, b := range s.botsWhere(func(b *models.Bot) bool { return b.Enabled && want[b.WalletID] }) {
		if !seen[b.WalletID] {
			seen[b.WalletID] = true
			out = append(out, b.WalletID)
		}
	}
	return out, nil
}

func (s *stubRepo) SumEnabledStrategyAmountByWallet(ctx context.Context, walletID uint64, excludeBotID uint64) (decimal.Decimal, error) {
	enabled := s.botsWhere(func(b *models.Bot) bool {
		return b.WalletID == walletID && b.Enabled && b.ID != excludeBotID
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, b := range enabled {
		if st, ok := s.strategies[b.StrategyID]; ok {
			total = total.Add(st.MaxAmount)
		}
	}
	return total, nil
}

func (s *stubRepo) SumRuntimeByOwner(ctx context.Context, ownerID string) (int64, error) {
	var total int64
	for _, b := range s.botsWhere(func(b *models.Bot) bool { return b.OwnerID == ownerID }) {
		total += b.TotalRuntimeSeconds
	}
	return total, nil
}

func (s *stubRepo) DeleteBot(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bots, id)
	return nil
}

func (s *stubRepo) EnableBotTx(ctx context.Context, tx *gorm.DB, id uint64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok || b.Enabled {
		return false, nil
	}
	b.Enabled = true
	b.EnabledAt = &at
	return true, nil
}

func (s *stubRepo) DisableBotTx(ctx context.Context, tx *gorm.DB, id uint64, runtimeSeconds int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok || !b.Enabled {
		return false, nil
	}
	b.Enabled = false
	b.EnabledAt = nil
	b.TotalRuntimeSeconds += runtimeSeconds
	return true, nil
}

func (s *stubRepo) InsertBotHistoryTx(ctx context.Context, tx *gorm.DB, item *models.BotOperationHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.id()
	s.history = append(s.history, *item)
	return nil
}

func (s *stubRepo) historyFor(params repository.ListBotHistoryParams) []models.BotOperationHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BotOperationHistory
	for _, h := range s.history {
		if h.BotID != params.BotID {
			continue
		}
		if params.Action != nil && h.Action != *params.Action {
			continue
		}
		out = append(out, h)
	}
	return out
}

func (s *stubRepo) ListBotHistory(ctx context.Context, params repository.ListBotHistoryParams) ([]models.BotOperationHistory, error) {
	return s.historyFor(params), nil
}

func (s *stubRepo) CountBotHistory(ctx context.Context, params repository.ListBotHistoryParams) (int64, error) {
	return int64(len(s.historyFor(params))), nil
}

// billing

func (s *stubRepo) GetSubscription(ctx context.Context, ownerID string) (*models.UserSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[ownerID]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (s *stubRepo) ListExpiredSubscriptions(ctx context.Context, before time.Time, limit int) ([]models.UserSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.UserSubscription
	for _, sub := range s.subs {
		if sub.Plan != models.PlanFree && sub.ExpiresAt != nil && sub.ExpiresAt.Before(before) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s *stubRepo) UpsertSubscriptionTx(ctx context.Context, tx *gorm.DB, item *models.UserSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.subs[item.OwnerID] = &cp
	return nil
}

func (s *stubRepo) CreatePayment(ctx context.Context, item *models.SubscriptionPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.id()
	cp := *item
	s.payments[item.ID] = &cp
	return nil
}

func (s *stubRepo) GetPaymentByReference(ctx context.Context, reference string) (*models.SubscriptionPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.Reference == reference {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) UpdatePaymentCheckout(ctx context.Context, id uint64, sessionID string, checkoutURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		p.ProviderSessionID = sessionID
		p.CheckoutURL = checkoutURL
	}
	return nil
}

func (s *stubRepo) SettlePaymentTx(ctx context.Context, tx *gorm.DB, id uint64, status string, reason *string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = status
	p.FailureReason = reason
	if status == models.PaymentStatusConfirmed {
		p.ConfirmedAt = &at
	}
	return true, nil
}

func (s *stubRepo) FailStalePayments(ctx context.Context, before time.Time, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.payments {
		if p.Status == models.PaymentStatusPending && p.CreatedAt.Before(before) {
			p.Status = models.PaymentStatusFailed
			r := reason
			p.FailureReason = &r
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) ListPaymentsByOwner(ctx context.Context, ownerID string, limit int, offset int) ([]models.SubscriptionPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SubscriptionPayment
	for _, p := range s.payments {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// settings

func (s *stubRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.settings[item.Key] = &cp
	return nil
}

func (s *stubRepo) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *stubRepo) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SystemSetting
	for _, item := range s.settings {
		out = append(out, *item)
	}
	return out, nil
}

func (s *stubRepo) CountSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.settings)), nil
}

// helpers for seeding

func (s *stubRepo) addWallet(owner, funder, status string) *models.Wallet {
	w := &models.Wallet{OwnerID: owner, Name: "w", Funder: funder, Status: status, EncryptedPrivateKey: "x"}
	_ = s.CreateWallet(context.Background(), w)
	return w
}

func (s *stubRepo) addStrategy(owner, interval string, maxAmount int64) *models.Strategy {
	st := &models.Strategy{
		OwnerID:     owner,
		Name:        "s",
		Version:     1,
		Interval:    interval,
		TradeSteps:  []byte(`[]`),
		ContentHash: fmt.Sprintf("%064d", s.nextID+1),
		MaxAmount:   decimal.NewFromInt(maxAmount),
	}
	_ = s.CreateStrategy(context.Background(), st)
	return st
}

func (s *stubRepo) addBot(owner string, w *models.Wallet, st *models.Strategy, symbol string, enabled bool) *models.Bot {
	b := &models.Bot{
		OwnerID:    owner,
		WalletID:   w.ID,
		StrategyID: st.ID,
		Symbol:     symbol,
		Interval:   st.Interval,
		Funder:     w.Funder,
	}
	_ = s.CreateBot(context.Background(), b)
	if enabled {
		at := time.Now().Add(-time.Hour)
		_, _ = s.EnableBotTx(context.Background(), nil, b.ID, at)
		b.Enabled = true
		b.EnabledAt = &at
	}
	return b
}

func (s *stubRepo) historyLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}
