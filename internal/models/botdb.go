package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Tables below live in the bot database. They are written by the bot runners
// and only read here.

// MarketStrategy is a public strategy ranked on the leaderboard.
type MarketStrategy struct {
	ID         uint64          `gorm:"primaryKey" json:"id"`
	Name       string          `gorm:"type:varchar(100)" json:"name"`
	Interval   string          `gorm:"type:varchar(10);index" json:"interval"`
	TradeSteps datatypes.JSON  `gorm:"type:jsonb" json:"tradeSteps"`
	PnL        decimal.Decimal `gorm:"column:pnl;type:numeric(30,6)" json:"pnl"`
	WinRate    float64         `json:"winRate"`
	Trades     int64           `json:"trades"`
	UpdatedAt  time.Time       `gorm:"type:timestamptz" json:"updatedAt"`
}

func (MarketStrategy) TableName() string {
	return "market_strategies"
}

type TransactionHistory struct {
	ID         uint64          `gorm:"primaryKey" json:"id"`
	Funder     string          `gorm:"type:varchar(42);index" json:"funder"`
	Symbol     string          `gorm:"type:varchar(20)" json:"symbol"`
	Interval   string          `gorm:"type:varchar(10)" json:"interval"`
	MarketSlug string          `gorm:"type:varchar(200)" json:"marketSlug"`
	Outcome    string          `gorm:"type:varchar(10)" json:"outcome"`
	Price      decimal.Decimal `gorm:"type:numeric(20,6)" json:"price"`
	Size       decimal.Decimal `gorm:"type:numeric(30,6)" json:"size"`
	PnL        decimal.Decimal `gorm:"column:pnl;type:numeric(30,6)" json:"pnl"`
	CreatedAt  time.Time       `gorm:"type:timestamptz;index" json:"createdAt"`
}

func (TransactionHistory) TableName() string {
	return "transaction_history"
}

type BotLog struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Funder    string    `gorm:"type:varchar(42);index" json:"funder"`
	Symbol    string    `gorm:"type:varchar(20)" json:"symbol"`
	Interval  string    `gorm:"type:varchar(10)" json:"interval"`
	Level     string    `gorm:"type:varchar(10)" json:"level"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `gorm:"type:timestamptz;index" json:"createdAt"`
}

func (BotLog) TableName() string {
	return "bot_logs"
}
