package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pmbots/internal/apperr"
	"pmbots/internal/cache"
	"pmbots/internal/chain"
	"pmbots/internal/events"
	"pmbots/internal/keywrap"
	"pmbots/internal/metrics"
	"pmbots/internal/models"
	"pmbots/internal/repository"
	"pmbots/internal/subscription"
	"pmbots/internal/validator"
	"pmbots/internal/vault"
)

const (
	defaultActivationTimeout = 5 * time.Minute
	callbackTimeout          = 30 * time.Second
	walletListKey            = "list"
)

// WalletView is a wallet as the API returns it.
type WalletView struct {
	models.Wallet
	Balance        *Balance `json:"balance,omitempty"`
	HasEnabledBots bool     `json:"hasEnabledBots"`
}

// ActivationDone runs after an activation attempt finishes. err is nil when
// the wallet became ACTIVE.
type ActivationDone func(ctx context.Context, w models.Wallet, err error)

type WalletService struct {
	Repo      repository.Repository
	Validator *validator.Validator
	Vault     *vault.Vault
	Sessions  *keywrap.SessionKeys
	Balances  *BalanceService
	Caches    *cache.Namespaces
	Settings  *SettingsService
	Gateway   WalletGateway
	Events    events.Publisher
	Logger    *zap.Logger
	Now       func() time.Time

	ActivationTimeout time.Duration

	wg sync.WaitGroup
}

func (s *WalletService) now() time.Time { return clockNow(s.Now) }

func (s *WalletService) log() *zap.Logger { return nopIfNil(s.Logger) }

func (s *WalletService) Create(ctx context.Context, userID string, name string) (*WalletView, error) {
	if err := limits(ctx, s.Repo, userID, s.now()).CheckCount(ctx, subscription.KindWallets, 1); err != nil {
		return nil, err
	}
	privHex, address, err := chain.GenerateWallet()
	if err != nil {
		return nil, err
	}
	return s.store(ctx, userID, name, address, privHex)
}

// ImportInput carries a private key wrapped with the session public key.
type ImportInput struct {
	Name          string
	EncryptedKey  string
	SessionHandle string
}

func (s *WalletService) Import(ctx context.Context, userID string, in ImportInput) (*WalletView, error) {
	if err := s.Settings.Require(ctx, FeatureWalletImport); err != nil {
		return nil, err
	}
	if err := limits(ctx, s.Repo, userID, s.now()).CheckCount(ctx, subscription.KindWallets, 1); err != nil {
		return nil, err
	}
	pt, err := s.Sessions.Decrypt(ctx, in.SessionHandle, in.EncryptedKey)
	if err != nil {
		return nil, err
	}
	key, err := chain.ParsePrivateKey(string(pt))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeWalletInvalidKey, "invalid private key", err)
	}
	address := chain.AddressOf(key)
	existing, err := s.Repo.GetLiveWalletByFunder(ctx, address)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.New(apperr.CodeWalletDuplicate, "wallet already exists")
	}
	return s.store(ctx, userID, in.Name, address, chain.EncodePrivateKey(key))
}

func (s *WalletService) store(ctx context.Context, userID, name, address, privHex string) (*WalletView, error) {
	sealed, err := s.Vault.Seal(address, []byte(privHex))
	if err != nil {
		return nil, err
	}
	item := &models.Wallet{
		OwnerID:             userID,
		Name:                walletName(name, address),
		Funder:              address,
		EncryptedPrivateKey: sealed,
		Status:              models.WalletStatusInactive,
	}
	if err := s.Repo.CreateWallet(ctx, item); err != nil {
		if isDuplicate(err) {
			return nil, apperr.New(apperr.CodeWalletDuplicate, "wallet already exists")
		}
		return nil, err
	}
	s.invalidate(ctx, userID)
	s.log().Info("wallet created", zap.String("owner_id", userID), zap.Uint64("wallet_id", item.ID), zap.String("funder", address))
	return &WalletView{Wallet: *item}, nil
}

func walletName(name, address string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	return "Wallet " + address[len(address)-4:]
}

// Export returns the private key wrapped with the caller's public key.
func (s *WalletService) Export(ctx context.Context, userID string, walletID uint64, clientPublicKey string) (string, error) {
	w, err := s.Validator.Wallet(ctx, walletID, userID)
	if err != nil {
		return "", err
	}
	pt, err := s.Vault.Open(w.Funder, w.EncryptedPrivateKey)
	if err != nil {
		s.log().Error("open wallet key failed", zap.Uint64("wallet_id", w.ID), zap.Error(err))
		return "", apperr.Wrap(apperr.CodeWalletKeyUnavailable, "wallet key could not be opened", err)
	}
	s.log().Info("wallet exported", zap.String("owner_id", userID), zap.Uint64("wallet_id", w.ID))
	return keywrap.Encrypt(clientPublicKey, pt)
}

func (s *WalletService) Rename(ctx context.Context, userID string, walletID uint64, name string) (*WalletView, error) {
	w, err := s.Validator.Wallet(ctx, walletID, userID)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if err := s.Repo.RenameWallet(ctx, w.ID, name); err != nil {
		return nil, err
	}
	w.Name = name
	s.invalidate(ctx, userID)
	return &WalletView{Wallet: *w}, nil
}

func (s *WalletService) Delete(ctx context.Context, userID string, walletID uint64) error {
	w, err := s.Validator.Wallet(ctx, walletID, userID)
	if err != nil {
		return err
	}
	if err := s.Validator.NoWalletDependents(ctx, w.ID); err != nil {
		return err
	}
	if err := s.Repo.SoftDeleteWallet(ctx, w.ID, s.now()); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	s.Balances.Invalidate(ctx, w.Funder)
	s.log().Info("wallet deleted", zap.String("owner_id", userID), zap.Uint64("wallet_id", w.ID))
	return nil
}

// List returns the user's wallets with balances attached. Balances come from
// their own cache; a failed read leaves them empty instead of failing the list.
func (s *WalletService) List(ctx context.Context, userID string) ([]WalletView, error) {
	items, err := cache.Load(ctx, s.Caches.Wallets, userID, walletListKey, func(ctx context.Context) ([]WalletView, error) {
		return s.loadList(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []WalletView{}, nil
	}

	funders := make([]string, 0, len(items))
	for _, it := range items {
		funders = append(funders, it.Funder)
	}
	balances, err := s.Balances.RawMany(ctx, funders)
	if err != nil {
		s.log().Warn("wallet list balances unavailable", zap.String("owner_id", userID), zap.Error(err))
		return items, nil
	}
	for i := range items {
		if raw, ok := balances[balanceAddr(items[i].Funder)]; ok {
			b := s.Balances.Format(raw)
			items[i].Balance = &b
		}
	}
	return items, nil
}

func (s *WalletService) loadList(ctx context.Context, userID string) ([]WalletView, error) {
	wallets, err := s.Repo.ListWalletsByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(wallets))
	for _, w := range wallets {
		ids = append(ids, w.ID)
	}
	withBots, err := s.Repo.ListWalletIDsWithEnabledBots(ctx, ids)
	if err != nil {
		return nil, err
	}
	enabled := make(map[uint64]bool, len(withBots))
	for _, id := range withBots {
		enabled[id] = true
	}
	out := make([]WalletView, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, WalletView{Wallet: w, HasEnabledBots: enabled[w.ID]})
	}
	return out, nil
}

func (s *WalletService) Get(ctx context.Context, userID string, walletID uint64) (*WalletView, error) {
	w, err := s.Validator.Wallet(ctx, walletID, userID)
	if err != nil {
		return nil, err
	}
	n, err := s.Repo.CountEnabledBotsByWallet(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	view := &WalletView{Wallet: *w, HasEnabledBots: n > 0}
	if raw, err := s.Balances.Raw(ctx, w.Funder); err == nil {
		b := s.Balances.Format(raw)
		view.Balance = &b
	}
	return view, nil
}

func (s *WalletService) Balance(ctx context.Context, userID string, walletID uint64) (Balance, error) {
	w, err := s.Validator.Wallet(ctx, walletID, userID)
	if err != nil {
		return Balance{}, err
	}
	raw, err := s.Balances.Raw(ctx, w.Funder)
	if err != nil {
		return Balance{}, err
	}
	return s.Balances.Format(raw), nil
}

type WithdrawInput struct {
	To     string
	Amount decimal.Decimal
}

type WithdrawResult struct {
	TransactionID string          `json:"transactionId"`
	To            string          `json:"to"`
	Amount        decimal.Decimal `json:"amount"`
	Raw           string          `json:"raw"`
}

func (s *WalletService) Withdraw(ctx context.Context, userID string, walletID uint64, in WithdrawInput) (*WithdrawResult, error) {
	if err := s.Settings.Require(ctx, FeatureWalletWithdraw); err != nil {
		return nil, err
	}
	w, err := s.Validator.Wallet(ctx, walletID, userID)
	if err != nil {
		return nil, err
	}
	if w.Status != models.WalletStatusActive {
		return nil, apperr.WithData(apperr.CodeWalletNotActive, "wallet is not active", map[string]string{"status": w.Status})
	}
	if !chain.ValidAddress(in.To) {
		return nil, apperr.WithData(apperr.CodeInvalidAddress, "invalid destination address", map[string]string{"field": "to", "key": "invalid_address"})
	}
	if !chain.FitsDecimals(in.Amount, s.Balances.Decimals) {
		return nil, apperr.WithData(apperr.CodeValidation, "amount has too many decimal places", map[string]string{"field": "amount", "key": "precision"})
	}
	raw := chain.ToRaw(in.Amount, s.Balances.Decimals)
	if raw.Sign() <= 0 {
		return nil, apperr.WithData(apperr.CodeValidation, "amount must be positive", map[string]string{"field": "amount", "key": "positive"})
	}

	balance, err := s.Balances.Live(ctx, w.Funder)
	if err != nil {
		return nil, err
	}
	if raw.Cmp(balance) > 0 {
		return nil, apperr.WithData(apperr.CodeWalletInsufficientBalance, "insufficient balance", map[string]string{
			"requested": raw.String(),
			"balance":   balance.String(),
		})
	}

	to := chain.NormalizeAddress(in.To)
	txID, err := s.Gateway.Withdraw(ctx, *w, to, new(big.Int).Set(raw))
	if err != nil {
		metrics.ExternalErrors.WithLabelValues("relayer", "transfer").Inc()
		s.log().Error("withdraw failed", zap.Uint64("wallet_id", w.ID), zap.String("to", to), zap.Error(err))
		return nil, apperr.Wrap(apperr.CodeWalletWithdrawFailed, "withdraw failed", err)
	}
	s.Balances.Invalidate(ctx, w.Funder)
	s.log().Info("withdraw submitted",
		zap.String("owner_id", userID),
		zap.Uint64("wallet_id", w.ID),
		zap.String("to", to),
		zap.String("amount", raw.String()),
		zap.String("transaction_id", txID),
	)
	return &WithdrawResult{
		TransactionID: txID,
		To:            to,
		Amount:        chain.FromRaw(raw, s.Balances.Decimals),
		Raw:           raw.String(),
	}, nil
}

// Activate starts activation of an INACTIVE or FAILED wallet. Other states
// are returned unchanged.
func (s *WalletService) Activate(ctx context.Context, userID string, walletID uint64) (*WalletView, error) {
	w, err := s.Validator.Wallet(ctx, walletID, userID)
	if err != nil {
		return nil, err
	}
	if !w.NeedsActivation() {
		return &WalletView{Wallet: *w}, nil
	}
	flipped, err := s.BeginActivation(ctx, w)
	if err != nil {
		return nil, err
	}
	if flipped {
		s.StartActivation(*w, nil)
	}
	return &WalletView{Wallet: *w}, nil
}

// BeginActivation moves the wallet to DEPLOYING when it needs activation.
// It reports false when another request got there first; w is updated with
// the stored status in that case.
func (s *WalletService) BeginActivation(ctx context.Context, w *models.Wallet) (bool, error) {
	ok, err := s.Repo.UpdateWalletStatusIf(ctx, w.ID,
		[]string{models.WalletStatusInactive, models.WalletStatusFailed},
		models.WalletStatusDeploying,
	)
	if err != nil {
		return false, err
	}
	if ok {
		w.Status = models.WalletStatusDeploying
		s.invalidate(ctx, w.OwnerID)
		return true, nil
	}
	fresh, err := s.Repo.GetWalletByID(ctx, w.ID)
	if err != nil {
		return false, err
	}
	if fresh != nil {
		*w = *fresh
	}
	return false, nil
}

// StartActivation runs activation in the background with its own deadline.
// The wallet must already be DEPLOYING. done is called in both outcomes.
func (s *WalletService) StartActivation(w models.Wallet, done ActivationDone) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timeout := s.ActivationTimeout
		if timeout <= 0 {
			timeout = defaultActivationTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		w, err := s.runActivation(ctx, w)
		cancel()

		if done == nil {
			return
		}
		cbCtx, cbCancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cbCancel()
		done(cbCtx, w, err)
	}()
}

// Wait blocks until background activations finish.
func (s *WalletService) Wait() {
	s.wg.Wait()
}

func (s *WalletService) runActivation(ctx context.Context, w models.Wallet) (models.Wallet, error) {
	log := s.log().With(zap.Uint64("wallet_id", w.ID), zap.String("funder", w.Funder))
	if s.Gateway == nil {
		return s.finishActivation(ctx, w, "", errGatewayNotConfigured, log)
	}
	txHash, err := s.Gateway.Activate(ctx, w)
	return s.finishActivation(ctx, w, txHash, err, log)
}

func (s *WalletService) finishActivation(ctx context.Context, w models.Wallet, txHash string, cause error, log *zap.Logger) (models.Wallet, error) {
	// The activation deadline may already be gone; the status write gets its own.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callbackTimeout)
	defer cancel()

	ev := events.Event{OwnerID: w.OwnerID, WalletID: w.ID, Funder: w.Funder, At: s.now()}
	var result error
	if cause != nil {
		msg := cause.Error()
		if errors.Is(cause, context.DeadlineExceeded) {
			msg = "activation timed out"
		}
		w.Status = models.WalletStatusFailed
		w.ActivationError = &msg
		ev.Type = events.WalletActivationFailed
		ev.Reason = msg
		metrics.ExternalErrors.WithLabelValues("relayer", "activate").Inc()
		log.Error("wallet activation failed", zap.Error(cause))
		result = apperr.Wrap(apperr.CodeWalletActivationFailed, "wallet activation failed", cause)
	} else {
		w.Status = models.WalletStatusActive
		w.ActivationError = nil
		if txHash != "" {
			w.ActivationTx = &txHash
		}
		ev.Type = events.WalletActivated
		log.Info("wallet activated", zap.String("tx_hash", txHash))
	}
	metrics.WalletActivations.WithLabelValues(w.Status).Inc()

	if err := s.Repo.UpdateWalletActivation(writeCtx, w.ID, w.Status, w.ActivationTx, w.ActivationError); err != nil {
		log.Error("store activation result failed", zap.String("status", w.Status), zap.Error(err))
		if result == nil {
			result = err
		}
	}
	s.invalidate(writeCtx, w.OwnerID)
	publish(writeCtx, s.Events, log, ev)
	return w, result
}

// FailStuckActivations marks wallets left in DEPLOYING since before the
// cutoff as FAILED. Activations that die with their process end up here.
func (s *WalletService) FailStuckActivations(ctx context.Context, before time.Time) (int, error) {
	stuck, err := s.Repo.ListWalletsByStatusBefore(ctx, models.WalletStatusDeploying, before, 100)
	if err != nil {
		return 0, err
	}
	msg := "activation timed out"
	n := 0
	for _, w := range stuck {
		ok, err := s.Repo.UpdateWalletStatusIf(ctx, w.ID, []string{models.WalletStatusDeploying}, models.WalletStatusFailed)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		if err := s.Repo.UpdateWalletActivation(ctx, w.ID, models.WalletStatusFailed, w.ActivationTx, &msg); err != nil {
			return n, err
		}
		metrics.WalletActivations.WithLabelValues(models.WalletStatusFailed).Inc()
		s.invalidate(ctx, w.OwnerID)
		publish(ctx, s.Events, s.log(), events.Event{
			Type:     events.WalletActivationFailed,
			OwnerID:  w.OwnerID,
			WalletID: w.ID,
			Funder:   w.Funder,
			Reason:   msg,
			At:       s.now(),
		})
		n++
	}
	return n, nil
}

func (s *WalletService) invalidate(ctx context.Context, userID string) {
	if s.Caches == nil {
		return
	}
	if err := s.Caches.Wallets.Invalidate(ctx, userID); err != nil {
		s.log().Warn("wallets cache invalidate failed", zap.String("owner_id", userID), zap.Error(err))
	}
	if err := s.Caches.Dashboard.Invalidate(ctx, userID); err != nil {
		s.log().Warn("dashboard cache invalidate failed", zap.String("owner_id", userID), zap.Error(err))
	}
}

type ResealResult struct {
	Scanned  int `json:"scanned"`
	Resealed int `json:"resealed"`
	Failed   int `json:"failed"`
}

// ResealKeys re-encrypts every stored key, deleted wallets included, under
// the vault's primary key. Keys that open with neither key are counted and
// left untouched.
func (s *WalletService) ResealKeys(ctx context.Context, batch int) (ResealResult, error) {
	if batch <= 0 {
		batch = 100
	}
	var res ResealResult
	var after uint64
	for {
		items, err := s.Repo.ListWalletsAfterID(ctx, after, batch)
		if err != nil {
			return res, err
		}
		for _, w := range items {
			after = w.ID
			res.Scanned++
			sealed, changed, err := s.Vault.Reseal(w.Funder, w.EncryptedPrivateKey)
			if err != nil {
				res.Failed++
				s.log().Warn("wallet key reseal failed", zap.Uint64("wallet_id", w.ID), zap.Error(err))
				continue
			}
			if !changed {
				continue
			}
			if err := s.Repo.UpdateWalletKey(ctx, w.ID, sealed); err != nil {
				return res, err
			}
			res.Resealed++
		}
		if len(items) < batch {
			return res, nil
		}
	}
}
