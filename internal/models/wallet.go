package models

import "time"

const (
	WalletStatusInactive  = "INACTIVE"
	WalletStatusDeploying = "DEPLOYING"
	WalletStatusActive    = "ACTIVE"
	WalletStatusFailed    = "FAILED"
)

// Wallet is a custodial trading account. Funder is the on-chain address that
// holds collateral and is referenced by bots.
type Wallet struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID string `gorm:"type:varchar(64);not null;index" json:"ownerId"`
	Name    string `gorm:"type:varchar(100);not null" json:"name"`
	Funder  string `gorm:"type:varchar(42);not null;index" json:"funder"`

	// AES-GCM envelope produced by vault.Seal; never leaves the server unwrapped.
	EncryptedPrivateKey string `gorm:"type:text;not null" json:"-"`

	Status          string  `gorm:"type:varchar(20);not null;default:'INACTIVE';index" json:"status"`
	ActivationTx    *string `gorm:"type:varchar(80)" json:"activationTx,omitempty"`
	ActivationError *string `gorm:"type:text" json:"activationError,omitempty"`

	Deleted   bool       `gorm:"not null;default:false;index" json:"-"`
	DeletedAt *time.Time `gorm:"type:timestamptz" json:"-"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// NeedsActivation reports whether enabling a bot on the wallet must first
// deploy it on-chain.
func (w Wallet) NeedsActivation() bool {
	return w.Status == WalletStatusInactive || w.Status == WalletStatusFailed
}
