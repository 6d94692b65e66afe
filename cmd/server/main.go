package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pmbots/internal/cache"
	"pmbots/internal/chain"
	"pmbots/internal/config"
	cronrunner "pmbots/internal/cron"
	"pmbots/internal/db"
	"pmbots/internal/events"
	"pmbots/internal/handler"
	"pmbots/internal/keywrap"
	"pmbots/internal/lock"
	"pmbots/internal/logger"
	"pmbots/internal/metrics"
	"pmbots/internal/payment"
	"pmbots/internal/relayer"
	"pmbots/internal/repository"
	gormrepository "pmbots/internal/repository/gorm"
	"pmbots/internal/service"
	"pmbots/internal/validator"
	"pmbots/internal/vault"

	_ "pmbots/docs"
)

func main() {
	cfgPath := os.Getenv("PB_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("PB_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	botDB, err := db.OpenOptional(cfg.BotDB)
	if err != nil {
		logger.Fatal("bot db open failed", zap.Error(err))
	}
	defer db.Close(botDB)
	var botData repository.BotDataRepository
	if botDB != nil {
		botData = gormrepository.NewBotData(botDB.Gorm)
	} else {
		logger.Warn("bot db not configured; dashboards and logs are empty")
	}

	v, err := vault.New(cfg.Vault.Key, cfg.Vault.PrevKey)
	if err != nil {
		logger.Fatal("vault init failed", zap.Error(err))
	}

	metrics.Register()

	store := gormrepository.New(dbConn.Gorm)
	cacheStore, memStore, locker, rdb := initCache(cfg.Redis, logger)
	if rdb != nil {
		defer rdb.Close()
	}
	caches := cache.NewNamespaces(cacheStore, cache.TTLs{
		Balance:     cfg.Cache.BalanceTTL,
		List:        cfg.Cache.ListTTL,
		Dashboard:   cfg.Cache.DashboardTTL,
		Leaderboard: cfg.Cache.LeaderboardTTL,
	}, logger)

	publisher := initEvents(cfg.Events, logger)
	defer publisher.Close()

	dialCtx, cancelDial := context.WithTimeout(context.Background(), cfg.Chain.Timeout)
	balancesReader, err := chain.DialTokenBalances(dialCtx, cfg.Chain.RPCURL, cfg.Chain.TokenAddress, cfg.Chain.Timeout)
	cancelDial()
	if err != nil {
		logger.Fatal("rpc dial failed", zap.Error(err))
	}
	defer balancesReader.Close()

	settingsSvc := &service.SettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default feature switches failed", zap.Error(err))
	}

	sessions := keywrap.NewSessionKeys(cfg.Keywrap.Bits, cfg.Keywrap.SessionTTL)
	checks := validator.New(store)
	balanceSvc := &service.BalanceService{
		Reader:   balancesReader,
		Cache:    caches.Balance,
		Decimals: cfg.Chain.TokenDecimals,
		Logger:   logger,
	}
	gateway := &service.RelayerGateway{
		Relayer: &relayer.Client{
			BaseURL: cfg.Relayer.BaseURL,
			APIKey:  cfg.Relayer.APIKey,
			HTTP:    &http.Client{Timeout: cfg.Relayer.Timeout},
		},
		Vault:        v,
		Packer:       balancesReader,
		Spenders:     cfg.Relayer.Spenders,
		PollInterval: cfg.Relayer.PollInterval,
	}
	walletSvc := &service.WalletService{
		Repo:              store,
		Validator:         checks,
		Vault:             v,
		Sessions:          sessions,
		Balances:          balanceSvc,
		Caches:            caches,
		Settings:          settingsSvc,
		Gateway:           gateway,
		Events:            publisher,
		Logger:            logger,
		ActivationTimeout: cfg.Relayer.ActivationTimeout,
	}
	defer walletSvc.Wait()

	strategySvc := &service.StrategyService{Repo: store, BotData: botData, Validator: checks, Logger: logger}
	botSvc := &service.BotService{
		Repo:              store,
		Validator:         checks,
		Wallets:           walletSvc,
		Balances:          balanceSvc,
		Caches:            caches,
		Settings:          settingsSvc,
		Locker:            locker,
		Events:            publisher,
		Logger:            logger,
		Production:        cfg.App.IsProduction(),
		BalanceMultiplier: cfg.Bots.BalanceMultiplier,
		LockTTL:           cfg.Bots.LockTTL,
	}
	dashboardSvc := &service.DashboardService{Repo: store, BotData: botData, Validator: checks, Caches: caches, Logger: logger}
	billingSvc := &service.BillingService{
		Repo: store,
		Provider: &payment.Client{
			BaseURL: cfg.Payment.BaseURL,
			APIKey:  cfg.Payment.APIKey,
			HTTP:    &http.Client{Timeout: cfg.Payment.Timeout},
		},
		Settings:      settingsSvc,
		Bots:          botSvc,
		Caches:        caches,
		Events:        publisher,
		Logger:        logger,
		WebhookSecret: cfg.Payment.WebhookSecret,
		SuccessURL:    cfg.Payment.SuccessURL,
		CancelURL:     cfg.Payment.CancelURL,
		PendingTTL:    cfg.Payment.PendingTTL,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Auth.Disabled && cfg.App.IsProduction() {
		logger.Fatal("auth.disabled is not allowed in production")
	}
	router := &handler.Router{
		Auth:       handler.Auth{Secret: []byte(cfg.Auth.JWTSecret), Issuer: cfg.Auth.Issuer, Disabled: cfg.Auth.Disabled},
		Logger:     logger,
		Plans:      store,
		Health:     &handler.HealthHandler{DB: dbConn.Gorm, BotDB: gormOf(botDB)},
		Keys:       &handler.KeysHandler{Sessions: sessions},
		Wallets:    &handler.WalletHandler{Service: walletSvc},
		Strategies: &handler.StrategyHandler{Service: strategySvc},
		Bots: &handler.BotHandler{
			Service:      botSvc,
			Dashboard:    dashboardSvc,
			Logger:       logger,
			PollInterval: cfg.Bots.LogPollInterval,
		},
		Dashboard: &handler.DashboardHandler{Service: dashboardSvc, Strategies: strategySvc},
		Billing:   &handler.BillingHandler{Service: billingSvc, Logger: logger},
		Admin:     &handler.AdminHandler{Settings: settingsSvc, Bots: botSvc},
		Swagger:   !cfg.App.IsProduction(),
	}

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		purgers := map[string]cronrunner.Purger{"session_keys": sessions}
		if memStore != nil {
			purgers["memory_cache"] = memStore
		}
		if memLocker, ok := locker.(*lock.MemoryLocker); ok {
			purgers["memory_locks"] = memLocker
		}
		maintenance := &cronrunner.Maintenance{
			Payments:          billingSvc,
			Subscriptions:     billingSvc,
			Activations:       walletSvc,
			Purgers:           purgers,
			Logger:            logger,
			ActivationTimeout: cfg.Relayer.ActivationTimeout,
		}
		if err := maintenance.Register(cronRunner, cfg.Cron); err != nil {
			logger.Fatal("cron register failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	go func() {
		logger.Info("http server started", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
}

// initCache uses redis when an address is configured and falls back to the
// in-process store and locks otherwise.
func initCache(cfg config.RedisConfig, logger *zap.Logger) (cache.Store, *cache.MemoryStore, lock.Locker, *redis.Client) {
	if cfg.Addr == "" {
		mem := cache.NewMemoryStore()
		logger.Info("redis not configured; using in-process cache and locks")
		return mem, mem, lock.NewMemoryLocker(), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping failed; continuing", zap.String("addr", cfg.Addr), zap.Error(err))
	}
	return cache.NewRedisStore(rdb), nil, lock.NewRedisLocker(rdb, logger), rdb
}

func initEvents(cfg config.EventsConfig, logger *zap.Logger) events.Publisher {
	if cfg.AMQPURL == "" {
		return events.Nop{}
	}
	p, err := events.DialAMQP(cfg.AMQPURL, cfg.Exchange, logger)
	if err != nil {
		logger.Warn("amqp dial failed; bot events disabled", zap.Error(err))
		return events.Nop{}
	}
	return p
}

func gormOf(d *db.DB) *gorm.DB {
	if d == nil {
		return nil
	}
	return d.Gorm
}
