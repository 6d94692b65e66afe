package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"pmbots/internal/apperr"
	"pmbots/internal/events"
	"pmbots/internal/models"
)

func TestEnable_ActiveWallet(t *testing.T) {
	f := newFixture(t)
	w := f.repo.addWallet(testUser, funderA, models.WalletStatusActive)
	st := f.repo.addStrategy(testUser, "15m", 2)
	b := f.repo.addBot(testUser, w, st, "BTC", false)

	res, err := f.bots.Enable(context.Background(), testUser, b.ID)
	if err != nil {
		t.Fatalf("Enable err=%v", err)
	}
	if res.WalletActivating {
		t.Fatalf("walletActivating=true want=false")
	}
	if !res.Bot.Enabled || res.Bot.EnabledAt == nil || !res.Bot.EnabledAt.Equal(f.now) {
		t.Fatalf("bot=%+v want enabled at %v", res.Bot, f.now)
	}
	hist, _ := f.repo.ListBotHistory(context.Background(), listHistory(b.ID))
	if len(hist) != 1 || hist[0].Action != models.BotActionEnable || hist[0].Reason != models.BotReasonUser {
		t.Fatalf("history=%+v", hist)
	}
	if got := f.events.Types(); len(got) != 1 || got[0] != events.BotEnabled {
		t.Fatalf("events=%v want=[%s]", got, events.BotEnabled)
	}
}

func TestEnable_AlreadyEnabledIsNoop(t *testing.T) {
	f := newFixture(t)
	w := f.repo.addWallet(testUser, funderA, models.WalletStatusActive)
	st := f.repo.addStrategy(testUser, "15m", 2)
	b := f.repo.addBot(testUser, w, st, "BTC", true)

	res, err := f.bots.Enable(context.Background(), testUser, b.ID)
	if err != nil {
		t.Fatalf("Enable err=%v", err)
	}
	if !res.Bot.Enabled {
		t.Fatalf("enabled=false want=true")
	}
	if n := f.repo.historyLen(); n != 0 {
		t.Fatalf("history=%d want=0", n)
	}
	if got := f.events.Types(); len(got) != 0 {
		t.Fatalf("events=%v want none", got)
	}
}

func TestEnable_InactiveWalletActivatesFirst(t *testing.T) {
	f := newFixture(t)
	f.gateway.hold = make(chan struct{})
	w := f.repo.addWallet(testUser, funderA, models.WalletStatusInactive)
	st := f.repo.addStrategy(testUser, "1h", 2)
	b := f.repo.addBot(testUser, w, st, "ETH", false)

	res, err := f.bots.Enable(context.Background(), testUser, b.ID)
	if err != nil {
		t.Fatalf("Enable err=%v", err)
	}
	if !res.WalletActivating {
		t.Fatalf("walletActivating=false want=true")
	}
	if res.Bot.Enabled {
		t.Fatalf("enabled=true before activation finished")
	}
	stored, _ := f.repo.GetWalletByID(context.Background(), w.ID)
	if stored.Status != models.WalletStatusDeploying {
		t.Fatalf("status=%s want=%s", stored.Status, models.WalletStatusDeploying)
	}

	close(f.gateway.hold)
	f.wallets.Wait()

	stored, _ = f.repo.GetWalletByID(context.Background(), w.ID)
	if stored.Status != models.WalletStatusActive {
		t.Fatalf("status=%s want=%s", stored.Status, models.WalletStatusActive)
	}
	bot, _ := f.repo.GetBotByID(context.Background(), b.ID)
	if !bot.Enabled {
		t.Fatalf("bot not enabled after activation")
	}
	hist, _ := f.repo.ListBotHistory(context.Background(), listHistory(b.ID))
	if len(hist) != 1 || hist[0].Reason != models.BotReasonWalletActivated {
		t.Fatalf("history=%+v want one WALLET_ACTIVATED row", hist)
	}
	types := f.events.Types()
	if len(types) != 2 || types[0] != events.WalletActivated || types[1] != events.BotEnabled {
		t.Fatalf("events=%v", types)
	}
}

func TestEnable_ActivationFailureLeavesBotDisabled(t *testing.T) {
	f := newFixture(t)
	f.gateway.activateErr = errors.New("relayer down")
	w := f.repo.addWallet(testUser, funderA, models.WalletStatusFailed)
	st := f.repo.addStrategy(testUser, "1h", 2)
	b := f.repo.addBot(testUser, w, st, "ETH", false)

	res, err := f.bots.Enable(context.Background(), testUser, b.ID)
	if err != nil {
		t.Fatalf("Enable err=%v", err)
	}
	if !res.WalletActivating {
		t.Fatalf("walletActivating=false want=true")
	}
	f.wallets.Wait()

	stored, _ := f.repo.GetWalletByID(context.Background(), w.ID)
	if stored.Status != models.WalletStatusFailed || stored.ActivationError == nil {
		t.Fatalf("wallet=%+v want FAILED with error", stored)
	}
	bot, _ := f.repo.GetBotByID(context.Background(), b.ID)
	if bot.Enabled {
		t.Fatalf("bot enabled after failed activation")
	}
	if types := f.events.Types(); len(types) != 1 || types[0] != events.WalletActivationFailed {
		t.Fatalf("events=%v", types)
	}
}

func TestEnable_DeployingWallet(t *testing.T) {
	f := newFixture(t)
	w := f.repo.addWallet(testUser, funderA, models.WalletStatusDeploying)
	st := f.repo.addStrategy(testUser, "1h", 2)
	b := f.repo.addBot(testUser, w, st, "ETH", false)

	_, err := f.bots.Enable(context.Background(), testUser, b.ID)
	if !apperr.Is(err, apperr.CodeBotWalletDeploying) {
		t.Fatalf("err=%v want=%s", err, apperr.CodeBotWalletDeploying)
	}
}

func TestEnable_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.bots.Production = true
	w := f.repo.addWallet(testUser, funderA, models.WalletStatusActive)
	f.repo.addBot(testUser, w, f.repo.addStrategy(testUser, "5m", 2), "BTC", true)
	f.repo.addBot(testUser, w, f.repo.addStrategy(testUser, "5m", 3), "ETH", true)
	b := f.repo.addBot(testUser, w, f.repo.addStrategy(testUser, "5m", 1), "SOL", false)
	f.chain.set(funderA, 55_000000)

	_, err := f.bots.Enable(context.Background(), testUser, b.ID)
	if !apperr.Is(err, apperr.CodeBotWalletInsufficientBal) {
		t.Fatalf("err=%v want=%s", err, apperr.CodeBotWalletInsufficientBal)
	}
	data, ok := apperr.From(err).Data.(BalanceShortfall)
	if !ok {
		t.Fatalf("data=%T want BalanceShortfall", apperr.From(err).Data)
	}
	want := BalanceShortfall{Required: "60000000", Balance: "55000000", Shortfall: "5000000", Multiplier: 10}
	if data != want {
		t.Fatalf("data=%+v want=%+v", data, want)
	}
}

func TestEnable_BalanceCheckSkippedOutsideProduction(t *testing.T) {
	f := newFixture(t)
	w := f.repo.addWallet(testUser, funderA, models.WalletStatusActive)
	b := f.repo.addBot(testUser, w, f.repo.addStrategy(testUser, "5m", 5), "BTC", false)

	if _, err := f.bots.Enable(context.Background(), testUser, b.ID); err != nil {
		t.Fatalf("Enable err=%v", err)
	}
	if f.chain.calls != 0 {
		t.Fatalf("balance reads=%d want=0", f.chain.calls)
	}
}

func TestEnable_StrategyAmountOverPlan(t *testing.T) {
	f := newFixture(t)
	w := f.repo.addWallet(testUser, funderA, models.WalletStatusActive)
	b := f.repo.addBot(testUser, w, f.repo.addStrategy(testUser, "5m", 11), "BTC", false)

	_, err := f.bots.Enable(context.Background(), testUser, b.ID)
	if !apperr.Is(err, apperr.CodeSubscriptionAmountExceeded) {
		t.Fatalf("err=%v want=%s", err, apperr.CodeSubscriptionAmountExceeded)
	}
}

func TestEnable_LockHeld(t *testing.T) {
	f := newFixture(t)
	w := f.repo.addWallet(testUser, funderA, models.WalletStatusActive)
	b := f.repo.addBot(testUser, w, f.repo.addStrategy(testUser, "5m", 1), "BTC", false)

	release, ok, _ := f.locker.Acquire(context.Background(), idKey("bot", b.ID), time.Minute)
	if !ok {
		t.Fatalf("could not take lock")
	}
	defer release()

	_, err := f.bots.Enable(context.Background(), testUser, b.ID)
	if !apperr.Is(err, apperr.CodeBotOperationInProgress) {
		t.Fatalf("err=%v want=%s", err, apperr.CodeBotOperationInProgress)
	}
}

func TestEnable_FeatureSwitchOff(t *testing.T) {
	f := newFixture(t)
	if err := f.settings.SetEnabled(context.Background(), FeatureBotEnable, false); err != nil {
		t.Fatalf("SetEnabled err=%v", err)
	}
	_, err := f.bots.Enable(context.Background(), testUser, 1)
	if !apperr.Is(err, apperr.CodeFeatureOff) {
		t.Fatalf("err=%v want=%s", err, apperr.CodeFeatureOff)
	}
}

func TestEnable_ForeignBotIsNotFound(t *testing.T) {
	f := newFixture(t)
	w := f.repo.addWallet(otherUser, funderA, models.WalletStatusActive)
	b := f.repo.addBot(otherUser, w, f.repo.addStrategy(otherUser, "5m", 1), "BTC", false)

	_, err := f.bots.Enable(context.Background(), testUser, b.ID)
	if !apperr.Is(err, apperr.CodeBotNotFound) {
		t.Fatalf("err=%v want=%s", err, apperr.CodeBotNotFound)
	}
}

func TestDisable_AddsRuntime(t *testing.T) {
	f := newFixture(t)
	w := f.repo.addWallet(testUser, funderA, models.WalletStatusActive)
	b := f.repo.addBot(testUser, w, f.repo.addStrategy(testUser, "5m", 1), "BTC", false)
	enabledAt := f.now.Add(-90*time.Second - 700*time.Millisecond)
	_, _ = f.repo.EnableBotTx(context.Background(), nil, b.ID, enabledAt)
	f.repo.bots[b.ID].TotalRuntimeSeconds = 100

	bot, err := f.bots.Disable(context.Background(), testUser, b.ID)
	if err != nil {
		t.Fatalf("Disable err=%v", err)
	}
	if bot.Enabled || bot.EnabledAt != nil {
		t.Fatalf("bot=%+v want disabled with no enabledAt", bot)
	}
	if bot.TotalRuntimeSeconds != 190 {
		t.Fatalf("runtime=%d want=190", bot.TotalRuntimeSeconds)
	}
	hist, _ := f.repo.ListBotHistory(context.Background(), listHistory(b.ID))
	if len(hist) != 1 || hist[0].Action != models.BotActionDisable || hist[0].RuntimeSeconds != 90 {
		t.Fatalf("history=%+v", hist)
	}
	if types := f.events.Types(); len(types) != 1 || types[0] != events.BotDisabled {
		t.Fatalf("events=%v", types)
	}

	again, err := f.bots.Disable(context.Background(), testUser, b.ID)
	if err != nil || again.TotalRuntimeSeconds != 190 {
		t.Fatalf("second disable runtime=%d err=%v", again.TotalRuntimeSeconds, err)
	}
	if n := f.repo.historyLen(); n != 1 {
		t.Fatalf("history=%d want=1", n)
	}
}

func TestEnableDisable_InvalidatesLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.repo.addWallet(testUser, funderA, models.WalletStatusActive)
	b1 := f.repo.addBot(testUser, w, f.repo.addStrategy(testUser, "5m", 1), "BTC", false)
	b2 := f.repo.addBot(testUser, w, f.repo.addStrategy(testUser, "5m", 1), "ETH", false)

	hasEnabled := func() bool {
		t.Helper()
		items, err := f.wallets.List(ctx, testUser)
		if err != nil || len(items) != 1 {
			t.Fatalf("wallets=%+v err=%v", items, err)
		}
		return items[0].HasEnabledBots
	}
	enabled := func() map[uint64]bool {
		t.Helper()
		items, err := f.bots.List(ctx, testUser)
		if err != nil {
			t.Fatalf("bots err=%v", err)
		}
		out := make(map[uint64]bool, len(items))
		for _, it := range items {
			out[it.ID] = it.Enabled
		}
		return out
	}

	if hasEnabled() || enabled()[b1.ID] {
		t.Fatalf("fresh lists report enabled bots")
	}
	// Lists are cached: a write behind the services' back is not seen.
	f.repo.wallets[w.ID].Name = "renamed"
	if items, _ := f.wallets.List(ctx, testUser); items[0].Name == "renamed" {
		t.Fatalf("wallet list not served from cache")
	}

	steps := []struct {
		name    string
		run     func() error
		wallet  bool
		enabled map[uint64]bool
	}{
		{"enable first", func() error { _, err := f.bots.Enable(ctx, testUser, b1.ID); return err }, true, map[uint64]bool{b1.ID: true, b2.ID: false}},
		{"enable second", func() error { _, err := f.bots.Enable(ctx, testUser, b2.ID); return err }, true, map[uint64]bool{b1.ID: true, b2.ID: true}},
		{"disable first", func() error { _, err := f.bots.Disable(ctx, testUser, b1.ID); return err }, true, map[uint64]bool{b1.ID: false, b2.ID: true}},
		{"disable last", func() error { _, err := f.bots.Disable(ctx, testUser, b2.ID); return err }, false, map[uint64]bool{b1.ID: false, b2.ID: false}},
	}
	for _, st := range steps {
		if err := st.run(); err != nil {
			t.Fatalf("%s: err=%v", st.name, err)
		}
		if got := hasEnabled(); got != st.wallet {
			t.Fatalf("%s: hasEnabledBots=%v want=%v", st.name, got, st.wallet)
		}
		got := enabled()
		for id, want := range st.enabled {
			if got[id] != want {
				t.Fatalf("%s: bot %d enabled=%v want=%v", st.name, id, got[id], want)
			}
		}
	}
}

func TestRuntimeSeconds(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	future := now.Add(time.Minute)
	past := now.Add(-2500 * time.Millisecond)
	cases := []struct {
		at   *time.Time
		want int64
	}{
		{nil, 0},
		{&future, 0},
		{&past, 2},
	}
	for _, c := range cases {
		if got := RuntimeSeconds(c.at, now); got != c.want {
			t.Fatalf("RuntimeSeconds(%v)=%d want=%d", c.at, got, c.want)
		}
	}
}

func TestCreateBot_Rules(t *testing.T) {
	f := newFixture(t)
	w := f.repo.addWallet(testUser, funderA, models.WalletStatusActive)
	st := f.repo.addStrategy(testUser, "15m", 1)

	b, err := f.bots.Create(context.Background(), testUser, CreateBotInput{WalletID: w.ID, StrategyID: st.ID, Symbol: " btc "})
	if err != nil {
		t.Fatalf("Create err=%v", err)
	}
	if b.Symbol != "BTC" || b.Interval != "15m" || b.Funder != funderA {
		t.Fatalf("bot=%+v", b)
	}

	_, err = f.bots.Create(context.Background(), testUser, CreateBotInput{WalletID: w.ID, StrategyID: st.ID, Symbol: "BTC"})
	if !apperr.Is(err, apperr.CodeBotDuplicate) {
		t.Fatalf("err=%v want=%s", err, apperr.CodeBotDuplicate)
	}
	_, err = f.bots.Create(context.Background(), testUser, CreateBotInput{WalletID: w.ID, StrategyID: st.ID, Symbol: "ETH", Interval: "1h"})
	if !apperr.Is(err, apperr.CodeBotIntervalMismatch) {
		t.Fatalf("err=%v want=%s", err, apperr.CodeBotIntervalMismatch)
	}
}

func TestDeleteBot_MustBeDisabled(t *testing.T) {
	f := newFixture(t)
	w := f.repo.addWallet(testUser, funderA, models.WalletStatusActive)
	b := f.repo.addBot(testUser, w, f.repo.addStrategy(testUser, "5m", 1), "BTC", true)

	err := f.bots.Delete(context.Background(), testUser, b.ID)
	if !apperr.Is(err, apperr.CodeBotEnabledCannotDelete) {
		t.Fatalf("err=%v want=%s", err, apperr.CodeBotEnabledCannotDelete)
	}
}

func TestDisableOverLimit_NewestFirst(t *testing.T) {
	f := newFixture(t)
	w := f.repo.addWallet(testUser, funderA, models.WalletStatusActive)
	var ids []uint64
	for _, sym := range []string{"A", "B", "C", "D", "E"} {
		ids = append(ids, f.repo.addBot(testUser, w, f.repo.addStrategy(testUser, "5m", 1), sym, true).ID)
	}

	n, err := f.bots.DisableOverLimit(context.Background(), testUser, 3, models.BotReasonSubscriptionExpired)
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v want=2", n, err)
	}
	for i, id := range ids {
		b, _ := f.repo.GetBotByID(context.Background(), id)
		if wantEnabled := i < 3; b.Enabled != wantEnabled {
			t.Fatalf("bot %d enabled=%v want=%v", id, b.Enabled, wantEnabled)
		}
	}
}
