package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PlanFree    = "FREE"
	PlanPro     = "PRO"
	PlanPremium = "PREMIUM"

	PaymentStatusPending   = "PENDING"
	PaymentStatusConfirmed = "CONFIRMED"
	PaymentStatusFailed    = "FAILED"
)

type UserSubscription struct {
	ID        uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID   string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"ownerId"`
	Plan      string     `gorm:"type:varchar(20);not null;default:'FREE'" json:"plan"`
	ExpiresAt *time.Time `gorm:"type:timestamptz" json:"expiresAt,omitempty"`
	CreatedAt time.Time  `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (UserSubscription) TableName() string {
	return "user_subscriptions"
}

// SubscriptionPayment moves PENDING -> CONFIRMED | FAILED exactly once.
type SubscriptionPayment struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Reference string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"reference"`
	OwnerID   string          `gorm:"type:varchar(64);not null;index" json:"ownerId"`
	Plan      string          `gorm:"type:varchar(20);not null" json:"plan"`
	Months    int             `gorm:"not null" json:"months"`
	Amount    decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Credit    decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"credit"`
	Status    string          `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`

	ProviderSessionID string     `gorm:"type:varchar(120);index" json:"-"`
	CheckoutURL       string     `gorm:"type:text" json:"checkoutUrl,omitempty"`
	FailureReason     *string    `gorm:"type:text" json:"failureReason,omitempty"`
	ConfirmedAt       *time.Time `gorm:"type:timestamptz" json:"confirmedAt,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (SubscriptionPayment) TableName() string {
	return "subscription_payments"
}

func (p SubscriptionPayment) Terminal() bool {
	return p.Status == PaymentStatusConfirmed || p.Status == PaymentStatusFailed
}
