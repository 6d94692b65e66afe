package models

import "time"

const (
	BotActionEnable  = "ENABLE"
	BotActionDisable = "DISABLE"

	BotReasonUser                = "USER"
	BotReasonWalletActivated     = "WALLET_ACTIVATED"
	BotReasonSubscriptionExpired = "SUBSCRIPTION_EXPIRED"
	BotReasonAdmin               = "ADMIN"
)

// BotOperationHistory is append-only; rows are written in the same
// transaction as the bot update they describe.
type BotOperationHistory struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	BotID          uint64    `gorm:"not null;index" json:"botId"`
	OwnerID        string    `gorm:"type:varchar(64);not null;index" json:"ownerId"`
	Action         string    `gorm:"type:varchar(10);not null" json:"action"`
	Reason         string    `gorm:"type:varchar(30);not null" json:"reason"`
	RuntimeSeconds int64     `gorm:"not null;default:0" json:"runtimeSeconds"`
	CreatedAt      time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"createdAt"`
}

func (BotOperationHistory) TableName() string {
	return "bot_operation_history"
}
