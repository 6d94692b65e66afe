package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"pmbots/internal/chain"
	"pmbots/internal/events"
	"pmbots/internal/models"
	"pmbots/internal/repository"
	"pmbots/internal/subscription"
	"pmbots/internal/vault"
)

func clockNow(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}

func nopIfNil(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func idKey(prefix string, id uint64) string {
	return prefix + ":" + strconv.FormatUint(id, 10)
}

// limits returns the request's subscription context for userID.
func limits(ctx context.Context, repo repository.Repository, userID string, now time.Time) *subscription.Context {
	return subscription.FromContext(ctx, repo, userID, now)
}

// openKey decrypts the wallet's private key.
func openKey(v *vault.Vault, w models.Wallet) (*ecdsa.PrivateKey, error) {
	pt, err := v.Open(w.Funder, w.EncryptedPrivateKey)
	if err != nil {
		return nil, err
	}
	return chain.ParsePrivateKey(string(pt))
}

// publish never fails the caller; the runners reconcile from the bots table.
func publish(ctx context.Context, p events.Publisher, log *zap.Logger, ev events.Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		nopIfNil(log).Warn("publish event failed",
			zap.String("type", ev.Type),
			zap.String("owner_id", ev.OwnerID),
			zap.Uint64("bot_id", ev.BotID),
			zap.Uint64("wallet_id", ev.WalletID),
			zap.Error(err),
		)
	}
}
