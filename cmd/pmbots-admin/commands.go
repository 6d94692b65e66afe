package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"pmbots/internal/cache"
	"pmbots/internal/db"
	"pmbots/internal/events"
	"pmbots/internal/lock"
	gormrepository "pmbots/internal/repository/gorm"
	"pmbots/internal/service"
	"pmbots/internal/validator"
	"pmbots/internal/vault"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the application schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := db.Open(cfg.DB)
		if err != nil {
			return err
		}
		defer db.Close(conn)
		if err := db.AutoMigrate(conn); err != nil {
			return err
		}
		settings := &service.SettingsService{Repo: gormrepository.New(conn.Gorm)}
		if err := settings.EnsureDefaultSwitches(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}

var grantPlanCmd = &cobra.Command{
	Use:   "grant-plan <user> <plan> [months]",
	Short: "Set a user's plan without a payment",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		months := 1
		if len(args) == 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("months: %w", err)
			}
			months = n
		}
		return withServices(func(s *services) error {
			sub, err := s.billing.Grant(cmd.Context(), args[0], args[1], months)
			if err != nil {
				return err
			}
			return printJSON(cmd, sub)
		})
	},
}

var vaultKeyCmd = &cobra.Command{
	Use:   "vault-key",
	Short: "Print a fresh base64 vault master key",
	Args:  cobra.NoArgs,
	// The key needs no configuration.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := vault.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

var vaultRotateCmd = &cobra.Command{
	Use:   "vault-rotate",
	Short: "Re-encrypt every wallet key under vault.key",
	Long: `Run after moving the old master key to vault.prev_key and setting a new
vault.key. Once it reports no failures the previous key can be removed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(func(s *services) error {
			res, err := s.wallets.ResealKeys(cmd.Context(), 100)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d wallet keys could not be opened", res.Failed)
			}
			return nil
		})
	},
}

var botDisableCmd = &cobra.Command{
	Use:   "bot-disable <id>",
	Short: "Disable a bot on behalf of its owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bot id: %w", err)
		}
		return withServices(func(s *services) error {
			b, err := s.bots.DisableByAdmin(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, b)
		})
	},
}

type services struct {
	wallets *service.WalletService
	bots    *service.BotService
	billing *service.BillingService
}

// withServices builds the subset of the server's service graph the admin
// commands need. Redis, when configured, is shared with the server so cache
// invalidation and bot locks stay coherent.
func withServices(fn func(*services) error) error {
	conn, err := db.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close(conn)

	v, err := vault.New(cfg.Vault.Key, cfg.Vault.PrevKey)
	if err != nil {
		return err
	}

	var store cache.Store = cache.NewMemoryStore()
	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		store, locker = cache.NewRedisStore(rdb), lock.NewRedisLocker(rdb, log)
	}
	caches := cache.NewNamespaces(store, cache.TTLs{
		Balance:     cfg.Cache.BalanceTTL,
		List:        cfg.Cache.ListTTL,
		Dashboard:   cfg.Cache.DashboardTTL,
		Leaderboard: cfg.Cache.LeaderboardTTL,
	}, log)

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.AMQPURL != "" {
		p, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange, log)
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
	}

	repo := gormrepository.New(conn.Gorm)
	settings := &service.SettingsService{Repo: repo}
	checks := validator.New(repo)
	wallets := &service.WalletService{
		Repo:      repo,
		Validator: checks,
		Vault:     v,
		Caches:    caches,
		Settings:  settings,
		Events:    publisher,
		Logger:    log,
	}
	bots := &service.BotService{
		Repo:      repo,
		Validator: checks,
		Wallets:   wallets,
		Caches:    caches,
		Settings:  settings,
		Locker:    locker,
		Events:    publisher,
		Logger:    log,
		LockTTL:   cfg.Bots.LockTTL,
	}
	billing := &service.BillingService{
		Repo:     repo,
		Settings: settings,
		Bots:     bots,
		Caches:   caches,
		Events:   publisher,
		Logger:   log,
	}
	return fn(&services{wallets: wallets, bots: bots, billing: billing})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
