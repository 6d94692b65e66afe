// Package validator resolves resources for the requesting user. Missing,
// soft-deleted and foreign records all look the same to the caller.
package validator

import (
	"context"

	"pmbots/internal/apperr"
	"pmbots/internal/models"
)

const previewLimit = 3

// Source is the slice of the repository ownership checks read.
type Source interface {
	GetWalletByID(ctx context.Context, id uint64) (*models.Wallet, error)
	GetStrategyByID(ctx context.Context, id uint64) (*models.Strategy, error)
	GetBotByID(ctx context.Context, id uint64) (*models.Bot, error)
	CountBotsByWallet(ctx context.Context, walletID uint64) (int64, error)
	CountBotsByStrategy(ctx context.Context, strategyID uint64) (int64, error)
	ListBotPreviewsByWallet(ctx context.Context, walletID uint64, limit int) ([]models.BotPreview, error)
	ListBotPreviewsByStrategy(ctx context.Context, strategyID uint64, limit int) ([]models.BotPreview, error)
}

type Validator struct {
	src Source
}

func New(src Source) *Validator {
	return &Validator{src: src}
}

func (v *Validator) Wallet(ctx context.Context, walletID uint64, userID string) (*models.Wallet, error) {
	w, err := v.src.GetWalletByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if w == nil || w.Deleted || w.OwnerID != userID {
		return nil, apperr.New(apperr.CodeWalletNotFound, "wallet not found")
	}
	return w, nil
}

func (v *Validator) Strategy(ctx context.Context, strategyID uint64, userID string) (*models.Strategy, error) {
	s, err := v.src.GetStrategyByID(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if s == nil || s.OwnerID != userID {
		return nil, apperr.New(apperr.CodeStrategyNotFound, "strategy not found")
	}
	return s, nil
}

// Bot requires both the bot and its wallet to belong to userID and returns
// them together.
func (v *Validator) Bot(ctx context.Context, botID uint64, userID string) (*models.Bot, *models.Wallet, error) {
	b, err := v.src.GetBotByID(ctx, botID)
	if err != nil {
		return nil, nil, err
	}
	if b == nil || b.OwnerID != userID {
		return nil, nil, apperr.New(apperr.CodeBotNotFound, "bot not found")
	}
	w, err := v.src.GetWalletByID(ctx, b.WalletID)
	if err != nil {
		return nil, nil, err
	}
	if w == nil || w.Deleted || w.OwnerID != userID {
		return nil, nil, apperr.New(apperr.CodeBotNotFound, "bot not found")
	}
	return b, w, nil
}

type DependentsData struct {
	BotCount int64               `json:"botCount"`
	Bots     []models.BotPreview `json:"bots"`
}

func (v *Validator) NoWalletDependents(ctx context.Context, walletID uint64) error {
	n, err := v.src.CountBotsByWallet(ctx, walletID)
	if err != nil || n == 0 {
		return err
	}
	preview, err := v.src.ListBotPreviewsByWallet(ctx, walletID, previewLimit)
	if err != nil {
		return err
	}
	return apperr.WithData(apperr.CodeWalletHasDependents, "wallet has dependent bots", dependents(n, preview))
}

func (v *Validator) NoStrategyDependents(ctx context.Context, strategyID uint64) error {
	n, err := v.src.CountBotsByStrategy(ctx, strategyID)
	if err != nil || n == 0 {
		return err
	}
	preview, err := v.src.ListBotPreviewsByStrategy(ctx, strategyID, previewLimit)
	if err != nil {
		return err
	}
	return apperr.WithData(apperr.CodeStrategyHasDependents, "strategy has dependent bots", dependents(n, preview))
}

func dependents(n int64, preview []models.BotPreview) DependentsData {
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}
	if preview == nil {
		preview = []models.BotPreview{}
	}
	return DependentsData{BotCount: n, Bots: preview}
}
