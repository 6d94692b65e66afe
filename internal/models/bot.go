package models

import "time"

// Bot binds one strategy to one wallet for a (symbol, interval) market series.
type Bot struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID    string `gorm:"type:varchar(64);not null;index" json:"ownerId"`
	WalletID   uint64 `gorm:"not null;index" json:"walletId"`
	StrategyID uint64 `gorm:"not null;index" json:"strategyId"`

	Symbol   string `gorm:"type:varchar(20);not null;uniqueIndex:uq_bot_market,priority:1" json:"symbol"`
	Interval string `gorm:"type:varchar(10);not null;uniqueIndex:uq_bot_market,priority:2" json:"interval"`
	Funder   string `gorm:"type:varchar(42);not null;uniqueIndex:uq_bot_market,priority:3" json:"funder"`

	Enabled             bool       `gorm:"not null;default:false;index" json:"enabled"`
	EnabledAt           *time.Time `gorm:"type:timestamptz" json:"enabledAt,omitempty"`
	TotalRuntimeSeconds int64      `gorm:"not null;default:0" json:"totalRuntimeSeconds"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (Bot) TableName() string {
	return "bots"
}

// BotPreview is the short form used in dependents errors.
type BotPreview struct {
	ID       uint64 `json:"id"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Enabled  bool   `json:"enabled"`
}

func (b Bot) Preview() BotPreview {
	return BotPreview{ID: b.ID, Symbol: b.Symbol, Interval: b.Interval, Enabled: b.Enabled}
}
