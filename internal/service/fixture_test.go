package service

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"pmbots/internal/cache"
	"pmbots/internal/events"
	"pmbots/internal/keywrap"
	"pmbots/internal/lock"
	"pmbots/internal/models"
	"pmbots/internal/repository"
	"pmbots/internal/validator"
	"pmbots/internal/vault"
)

const (
	testUser  = "user-1"
	otherUser = "user-2"
	funderA   = "0x1111111111111111111111111111111111111111"
	funderB   = "0x2222222222222222222222222222222222222222"
)

type fakeBalances struct {
	mu    sync.Mutex
	raw   map[string]*big.Int
	calls int
	err   error
}

func (f *fakeBalances) Balances(ctx context.Context, addrs []string) (map[string]*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]*big.Int, len(addrs))
	for _, a := range addrs {
		if v, ok := f.raw[strings.ToLower(a)]; ok {
			out[strings.ToLower(a)] = new(big.Int).Set(v)
		} else {
			out[strings.ToLower(a)] = new(big.Int)
		}
	}
	return out, nil
}

func (f *fakeBalances) set(addr string, v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw[strings.ToLower(addr)] = big.NewInt(v)
}

// fakeGateway blocks Activate until release is closed when hold is set.
type fakeGateway struct {
	mu          sync.Mutex
	hold        chan struct{}
	activateErr error
	withdrawErr error
	activated   []uint64
	withdrawals []string
}

func (g *fakeGateway) Activate(ctx context.Context, w models.Wallet) (string, error) {
	if g.hold != nil {
		select {
		case <-g.hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activated = append(g.activated, w.ID)
	if g.activateErr != nil {
		return "", g.activateErr
	}
	return "0xdeployed", nil
}

func (g *fakeGateway) Withdraw(ctx context.Context, w models.Wallet, to string, amount *big.Int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.withdrawErr != nil {
		return "", g.withdrawErr
	}
	g.withdrawals = append(g.withdrawals, to+":"+amount.String())
	return "tx-1", nil
}

type fixture struct {
	repo     *stubRepo
	events   *events.Recorder
	gateway  *fakeGateway
	chain    *fakeBalances
	locker   *lock.MemoryLocker
	vault    *vault.Vault
	sessions *keywrap.SessionKeys
	settings *SettingsService
	balances *BalanceService
	wallets  *WalletService
	bots     *BotService
	strats   *StrategyService
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := vault.GenerateKey()
	if err != nil {
		t.Fatalf("vault key: %v", err)
	}
	v, err := vault.New(key, "")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}

	f := &fixture{
		repo:     newStubRepo(),
		events:   &events.Recorder{},
		gateway:  &fakeGateway{},
		chain:    &fakeBalances{raw: map[string]*big.Int{}},
		locker:   lock.NewMemoryLocker(),
		vault:    v,
		sessions: keywrap.NewSessionKeys(keywrap.DefaultBits, time.Minute),
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	caches := cache.NewNamespaces(cache.NewMemoryStore(), cache.TTLs{
		Balance:     30 * time.Second,
		List:        5 * time.Minute,
		Dashboard:   time.Minute,
		Leaderboard: 5 * time.Minute,
	}, nil)
	val := validator.New(f.repo)

	f.settings = &SettingsService{Repo: f.repo}
	f.balances = &BalanceService{Reader: f.chain, Cache: caches.Balance, Decimals: 6}
	f.wallets = &WalletService{
		Repo:      f.repo,
		Validator: val,
		Vault:     v,
		Sessions:  f.sessions,
		Balances:  f.balances,
		Caches:    caches,
		Settings:  f.settings,
		Gateway:   f.gateway,
		Events:    f.events,
		Now:       clock,

		ActivationTimeout: 5 * time.Second,
	}
	f.bots = &BotService{
		Repo:      f.repo,
		Validator: val,
		Wallets:   f.wallets,
		Balances:  f.balances,
		Caches:    caches,
		Settings:  f.settings,
		Locker:    f.locker,
		Events:    f.events,
		Now:       clock,

		BalanceMultiplier: 10,
	}
	f.strats = &StrategyService{Repo: f.repo, Validator: val, Now: clock}
	return f
}

func listHistory(botID uint64) repository.ListBotHistoryParams {
	return repository.ListBotHistoryParams{BotID: botID, Limit: 50}
}

// fakeBotData serves fixed rows for the read-only bot database.
type fakeBotData struct {
	market  []models.MarketStrategy
	summary repository.TradeSummary
	logs    []models.BotLog
}

func (d *fakeBotData) ListMarketStrategies(ctx context.Context, params repository.ListMarketStrategiesParams) ([]models.MarketStrategy, error) {
	var out []models.MarketStrategy
	for _, ms := range d.market {
		if params.Interval != nil && ms.Interval != *params.Interval {
			continue
		}
		out = append(out, ms)
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (d *fakeBotData) GetMarketStrategy(ctx context.Context, id uint64) (*models.MarketStrategy, error) {
	for _, ms := range d.market {
		if ms.ID == id {
			cp := ms
			return &cp, nil
		}
	}
	return nil, nil
}

func (d *fakeBotData) SummarizeTrades(ctx context.Context, funders []string) (repository.TradeSummary, error) {
	return d.summary, nil
}

func (d *fakeBotData) SummarizeBotTrades(ctx context.Context, funder string, symbol string, interval string) (repository.TradeSummary, error) {
	return d.summary, nil
}

func (d *fakeBotData) matchLogs(params repository.ListBotLogsParams) []models.BotLog {
	var out []models.BotLog
	for _, l := range d.logs {
		if l.Funder != params.Funder || l.Symbol != params.Symbol || l.Interval != params.Interval {
			continue
		}
		if params.AfterID > 0 && l.ID <= params.AfterID {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (d *fakeBotData) ListBotLogs(ctx context.Context, params repository.ListBotLogsParams) ([]models.BotLog, error) {
	all := d.matchLogs(params)
	if params.AfterID == 0 {
		// newest first, like the real query without a cursor
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
	}
	if params.Offset > 0 {
		if params.Offset >= len(all) {
			return nil, nil
		}
		all = all[params.Offset:]
	}
	if params.Limit > 0 && len(all) > params.Limit {
		all = all[:params.Limit]
	}
	return all, nil
}

func (d *fakeBotData) CountBotLogs(ctx context.Context, params repository.ListBotLogsParams) (int64, error) {
	return int64(len(d.matchLogs(params))), nil
}
