package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"pmbots/internal/models"
)

// Repository is the application database. Lookups return (nil, nil) when the
// row does not exist; *Tx methods run on the given transaction, or on the
// store's own connection when tx is nil.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	WalletRepository
	StrategyRepository
	BotRepository
	BillingRepository
	SettingsRepository
}

type WalletRepository interface {
	CreateWallet(ctx context.Context, item *models.Wallet) error
	// GetWalletByID ignores soft-deleted wallets.
	GetWalletByID(ctx context.Context, id uint64) (*models.Wallet, error)
	GetLiveWalletByFunder(ctx context.Context, funder string) (*models.Wallet, error)
	ListWalletsByOwner(ctx context.Context, ownerID string) ([]models.Wallet, error)
	ListWalletsByIDs(ctx context.Context, ids []uint64) ([]models.Wallet, error)
	CountWalletsByOwner(ctx context.Context, ownerID string) (int64, error)
	RenameWallet(ctx context.Context, id uint64, name string) error
	SoftDeleteWallet(ctx context.Context, id uint64, at time.Time) error
	// UpdateWalletStatusIf moves the wallet to status only when its current
	// status is one of from. It reports whether the row changed.
	UpdateWalletStatusIf(ctx context.Context, id uint64, from []string, to string) (bool, error)
	UpdateWalletActivation(ctx context.Context, id uint64, status string, txHash *string, errMsg *string) error
	ListWalletsByStatusBefore(ctx context.Context, status string, before time.Time, limit int) ([]models.Wallet, error)
	// ListWalletsAfterID pages over every wallet, soft-deleted included, by id.
	ListWalletsAfterID(ctx context.Context, afterID uint64, limit int) ([]models.Wallet, error)
	UpdateWalletKey(ctx context.Context, id uint64, sealed string) error
}

type StrategyRepository interface {
	CreateStrategy(ctx context.Context, item *models.Strategy) error
	GetStrategyByID(ctx context.Context, id uint64) (*models.Strategy, error)
	GetStrategyByContent(ctx context.Context, ownerID string, contentHash string, interval string) (*models.Strategy, error)
	MaxStrategyVersion(ctx context.Context, ownerID string, name string) (int, error)
	ListStrategiesByOwner(ctx context.Context, ownerID string) ([]models.Strategy, error)
	ListStrategiesByIDs(ctx context.Context, ids []uint64) ([]models.Strategy, error)
	ListContentKeysByOwner(ctx context.Context, ownerID string) ([]ContentKey, error)
	CountStrategiesByOwner(ctx context.Context, ownerID string) (int64, error)
	DeleteStrategy(ctx context.Context, id uint64) error
}

type BotRepository interface {
	CreateBot(ctx context.Context, item *models.Bot) error
	GetBotByID(ctx context.Context, id uint64) (*models.Bot, error)
	GetBotByMarket(ctx context.Context, symbol string, interval string, funder string) (*models.Bot, error)
	ListBotsByOwner(ctx context.Context, ownerID string) ([]models.Bot, error)
	CountBotsByOwner(ctx context.Context, ownerID string) (int64, error)
	CountBotsByWallet(ctx context.Context, walletID uint64) (int64, error)
	CountBotsByStrategy(ctx context.Context, strategyID uint64) (int64, error)
	ListBotPreviewsByWallet(ctx context.Context, walletID uint64, limit int) ([]models.BotPreview, error)
	ListBotPreviewsByStrategy(ctx context.Context, strategyID uint64, limit int) ([]models.BotPreview, error)
	CountEnabledBotsByWallet(ctx context.Context, walletID uint64) (int64, error)
	ListWalletIDsWithEnabledBots(ctx context.Context, walletIDs []uint64) ([]uint64, error)
	// SumEnabledStrategyAmountByWallet sums strategy max amounts over the
	// wallet's enabled bots, skipping excludeBotID.
	SumEnabledStrategyAmountByWallet(ctx context.Context, walletID uint64, excludeBotID uint64) (decimal.Decimal, error)
	SumRuntimeByOwner(ctx context.Context, ownerID string) (int64, error)
	DeleteBot(ctx context.Context, id uint64) error

	// EnableBotTx flips a disabled bot to enabled; false when it was already enabled.
	EnableBotTx(ctx context.Context, tx *gorm.DB, id uint64, at time.Time) (bool, error)
	// DisableBotTx flips an enabled bot to disabled and adds runtimeSeconds to
	// its total; false when it was already disabled.
	DisableBotTx(ctx context.Context, tx *gorm.DB, id uint64, runtimeSeconds int64) (bool, error)
	InsertBotHistoryTx(ctx context.Context, tx *gorm.DB, item *models.BotOperationHistory) error
	ListBotHistory(ctx context.Context, params ListBotHistoryParams) ([]models.BotOperationHistory, error)
	CountBotHistory(ctx context.Context, params ListBotHistoryParams) (int64, error)
}

type BillingRepository interface {
	GetSubscription(ctx context.Context, ownerID string) (*models.UserSubscription, error)
	// ListExpiredSubscriptions returns paid subscriptions whose term ended before the given time.
	ListExpiredSubscriptions(ctx context.Context, before time.Time, limit int) ([]models.UserSubscription, error)
	UpsertSubscriptionTx(ctx context.Context, tx *gorm.DB, item *models.UserSubscription) error

	CreatePayment(ctx context.Context, item *models.SubscriptionPayment) error
	GetPaymentByReference(ctx context.Context, reference string) (*models.SubscriptionPayment, error)
	UpdatePaymentCheckout(ctx context.Context, id uint64, sessionID string, checkoutURL string) error
	// SettlePaymentTx moves a PENDING payment to a terminal status. It reports
	// false when the payment was already terminal.
	SettlePaymentTx(ctx context.Context, tx *gorm.DB, id uint64, status string, reason *string, at time.Time) (bool, error)
	FailStalePayments(ctx context.Context, before time.Time, reason string) (int64, error)
	ListPaymentsByOwner(ctx context.Context, ownerID string, limit int, offset int) ([]models.SubscriptionPayment, error)
}

type SettingsRepository interface {
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
	CountSystemSettings(ctx context.Context, params ListSystemSettingsParams) (int64, error)
}

// BotDataRepository reads the bot database. Tables there are written by the
// bot runners; nothing here mutates them.
type BotDataRepository interface {
	ListMarketStrategies(ctx context.Context, params ListMarketStrategiesParams) ([]models.MarketStrategy, error)
	GetMarketStrategy(ctx context.Context, id uint64) (*models.MarketStrategy, error)
	SummarizeTrades(ctx context.Context, funders []string) (TradeSummary, error)
	SummarizeBotTrades(ctx context.Context, funder string, symbol string, interval string) (TradeSummary, error)
	ListBotLogs(ctx context.Context, params ListBotLogsParams) ([]models.BotLog, error)
	CountBotLogs(ctx context.Context, params ListBotLogsParams) (int64, error)
}

// ContentKey identifies a strategy's content for one interval; the pair is
// unique per owner.
type ContentKey struct {
	ContentHash string
	Interval    string
}

type ListBotHistoryParams struct {
	Limit  int
	Offset int
	BotID  uint64
	Action *string
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}

type ListMarketStrategiesParams struct {
	Limit    int
	Interval *string
	OrderBy  string
	Asc      *bool
}

type ListBotLogsParams struct {
	Limit    int
	Offset   int
	Funder   string
	Symbol   string
	Interval string
	// AfterID returns only rows newer than the given id, oldest first.
	AfterID uint64
}

type TradeSummary struct {
	Trades int64           `json:"trades"`
	Wins   int64           `json:"wins"`
	PnL    decimal.Decimal `json:"pnl"`
	Volume decimal.Decimal `json:"volume"`
}

// WinRate is wins over trades, 0 when there were none.
func (t TradeSummary) WinRate() float64 {
	if t.Trades <= 0 {
		return 0
	}
	return float64(t.Wins) / float64(t.Trades)
}
