package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"pmbots/internal/apperr"
	"pmbots/internal/models"
	"pmbots/internal/repository"
)

const (
	FeatureBotEnable      = "feature.bot_enable"
	FeatureWalletWithdraw = "feature.wallet_withdraw"
	FeatureWalletImport   = "feature.wallet_import"
	FeatureCheckout       = "feature.checkout"
	FeatureBalanceCheck   = "feature.balance_check"
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureBotEnable:      true,
		FeatureWalletWithdraw: true,
		FeatureWalletImport:   true,
		FeatureCheckout:       true,
		FeatureBalanceCheck:   true,
	}
}

type SettingsService struct {
	Repo repository.SettingsRepository
}

// EnsureDefaultSwitches inserts missing switches. Existing values are left
// as operators set them.
func (s *SettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// IsEnabled falls back to the compiled default when the switch is missing
// or unreadable.
func (s *SettingsService) IsEnabled(ctx context.Context, key string) bool {
	key = strings.TrimSpace(key)
	fallback := DefaultFeatureSwitches()[key]
	if s == nil || s.Repo == nil || key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

// Require fails with FEATURE_DISABLED when the switch is off.
func (s *SettingsService) Require(ctx context.Context, key string) error {
	if s.IsEnabled(ctx, key) {
		return nil
	}
	return apperr.WithData(apperr.CodeFeatureOff, "feature disabled", map[string]string{"feature": key})
}

func (s *SettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if _, ok := DefaultFeatureSwitches()[key]; !ok {
		return apperr.WithData(apperr.CodeValidation, "unknown feature switch", map[string]string{"field": "key", "key": "unknown_feature"})
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "feature switch",
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

// Switches returns every known switch with its effective value.
func (s *SettingsService) Switches(ctx context.Context) map[string]bool {
	out := DefaultFeatureSwitches()
	for key := range out {
		out[key] = s.IsEnabled(ctx, key)
	}
	return out
}
