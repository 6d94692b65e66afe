package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Strategy is a named, versioned list of trade steps. Interval is fixed at
// creation; ContentHash + Interval is unique per owner.
type Strategy struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID string `gorm:"type:varchar(64);not null;uniqueIndex:uq_strategy_content,priority:1;index" json:"ownerId"`
	Name    string `gorm:"type:varchar(100);not null" json:"name"`
	Version int    `gorm:"not null;default:1" json:"version"`

	Interval    string          `gorm:"type:varchar(10);not null;uniqueIndex:uq_strategy_content,priority:3" json:"interval"`
	TradeSteps  datatypes.JSON  `gorm:"type:jsonb;not null" json:"tradeSteps"`
	ContentHash string          `gorm:"type:char(64);not null;uniqueIndex:uq_strategy_content,priority:2" json:"contentHash"`
	MaxAmount   decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0" json:"maxAmount"`

	SourceMarketStrategyID *uint64 `gorm:"index" json:"sourceMarketStrategyId,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (Strategy) TableName() string {
	return "strategies"
}
