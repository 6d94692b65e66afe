package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pmbots/internal/apperr"
	"pmbots/internal/cache"
	"pmbots/internal/events"
	"pmbots/internal/metrics"
	"pmbots/internal/models"
	"pmbots/internal/payment"
	"pmbots/internal/repository"
	"pmbots/internal/subscription"
)

const (
	defaultPendingTTL = 24 * time.Hour
	checkoutCurrency  = "USD"
)

// CheckoutProvider creates hosted checkout sessions.
type CheckoutProvider interface {
	CreateCheckout(ctx context.Context, in payment.CheckoutRequest) (payment.CheckoutSession, error)
}

type BillingService struct {
	Repo     repository.Repository
	Provider CheckoutProvider
	Settings *SettingsService
	Bots     *BotService
	Caches   *cache.Namespaces
	Events   events.Publisher
	Logger   *zap.Logger
	Now      func() time.Time

	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	PendingTTL    time.Duration
}

func (s *BillingService) now() time.Time { return clockNow(s.Now) }

func (s *BillingService) log() *zap.Logger { return nopIfNil(s.Logger) }

type Usage struct {
	Wallets    int64 `json:"wallets"`
	Strategies int64 `json:"strategies"`
	Bots       int64 `json:"bots"`
}

type SubscriptionSummary struct {
	Plan      string              `json:"plan"`
	ExpiresAt *time.Time          `json:"expiresAt,omitempty"`
	Limits    subscription.Limits `json:"limits"`
	Usage     Usage               `json:"usage"`
	Plans     []subscription.Plan `json:"plans"`
}

// Summary returns the effective plan with its limits and current usage.
func (s *BillingService) Summary(ctx context.Context, userID string) (*SubscriptionSummary, error) {
	sc := limits(ctx, s.Repo, userID, s.now())
	sub, err := sc.Subscription(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := sc.Plan(ctx)
	if err != nil {
		return nil, err
	}
	out := &SubscriptionSummary{Plan: plan.Name, Limits: plan.Limits, Plans: subscription.Plans()}
	if plan.Paid() && sub != nil {
		out.ExpiresAt = sub.ExpiresAt
	}
	if out.Usage.Wallets, err = sc.Usage(ctx, subscription.KindWallets); err != nil {
		return nil, err
	}
	if out.Usage.Strategies, err = sc.Usage(ctx, subscription.KindStrategies); err != nil {
		return nil, err
	}
	if out.Usage.Bots, err = sc.Usage(ctx, subscription.KindBots); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BillingService) Quote(ctx context.Context, userID string, plan string, months int) (subscription.Quote, error) {
	sub, err := s.Repo.GetSubscription(ctx, userID)
	if err != nil {
		return subscription.Quote{}, err
	}
	return subscription.QuoteChange(sub, plan, months, s.now())
}

type CheckoutResult struct {
	Reference   string             `json:"reference"`
	CheckoutURL string             `json:"checkoutUrl,omitempty"`
	Amount      decimal.Decimal    `json:"amount"`
	Credit      decimal.Decimal    `json:"credit"`
	Status      string             `json:"status"`
	Quote       subscription.Quote `json:"quote"`
}

// Checkout records a pending payment and opens a hosted checkout for it. A
// change fully paid by credit is confirmed without the provider.
func (s *BillingService) Checkout(ctx context.Context, userID string, plan string, months int) (*CheckoutResult, error) {
	if err := s.Settings.Require(ctx, FeatureCheckout); err != nil {
		return nil, err
	}
	q, err := s.Quote(ctx, userID, plan, months)
	if err != nil {
		return nil, err
	}

	p := &models.SubscriptionPayment{
		Reference: uuid.NewString(),
		OwnerID:   userID,
		Plan:      q.Plan,
		Months:    q.Months,
		Amount:    q.Amount,
		Credit:    q.Credit,
		Status:    models.PaymentStatusPending,
	}
	if err := s.Repo.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	result := &CheckoutResult{Reference: p.Reference, Amount: q.Amount, Credit: q.Credit, Status: p.Status, Quote: q}

	if !q.Amount.IsPositive() {
		if err := s.confirm(ctx, p); err != nil {
			return nil, err
		}
		result.Status = models.PaymentStatusConfirmed
		return result, nil
	}

	session, err := s.Provider.CreateCheckout(ctx, payment.CheckoutRequest{
		Reference:   p.Reference,
		Amount:      q.Amount.StringFixed(2),
		Currency:    checkoutCurrency,
		Description: fmt.Sprintf("%s plan, %d month(s)", q.Plan, q.Months),
		SuccessURL:  s.SuccessURL,
		CancelURL:   s.CancelURL,
		Metadata: map[string]string{
			"ownerId": userID,
			"plan":    q.Plan,
			"months":  fmt.Sprint(q.Months),
		},
	})
	if err != nil {
		metrics.ExternalErrors.WithLabelValues("payment", "checkout").Inc()
		s.log().Error("create checkout failed", zap.String("reference", p.Reference), zap.Error(err))
		reason := "checkout session failed"
		if _, settleErr := s.Repo.SettlePaymentTx(ctx, nil, p.ID, models.PaymentStatusFailed, &reason, s.now()); settleErr != nil {
			s.log().Error("fail payment failed", zap.String("reference", p.Reference), zap.Error(settleErr))
		}
		return nil, apperr.Wrap(apperr.CodePaymentProvider, "payment provider error", err)
	}
	if err := s.Repo.UpdatePaymentCheckout(ctx, p.ID, session.ID, session.URL); err != nil {
		return nil, err
	}
	result.CheckoutURL = session.URL
	s.log().Info("checkout created",
		zap.String("owner_id", userID),
		zap.String("reference", p.Reference),
		zap.String("plan", q.Plan),
		zap.Int("months", q.Months),
		zap.String("amount", q.Amount.StringFixed(2)),
	)
	return result, nil
}

// HandleWebhook applies a signed provider event. Unknown references and
// already settled payments are ignored.
func (s *BillingService) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if err := payment.Verify(s.WebhookSecret, body, signature); err != nil {
		return err
	}
	ev, err := payment.ParseEvent(body)
	if err != nil {
		return err
	}
	log := s.log().With(zap.String("event_id", ev.ID), zap.String("type", ev.Type), zap.String("reference", ev.Data.Reference))

	p, err := s.Repo.GetPaymentByReference(ctx, ev.Data.Reference)
	if err != nil {
		return err
	}
	if p == nil {
		log.Warn("webhook for unknown payment")
		return nil
	}
	if p.Terminal() {
		log.Info("webhook for settled payment ignored", zap.String("status", p.Status))
		return nil
	}

	switch ev.Type {
	case payment.EventConfirmed:
		if paid := strings.TrimSpace(ev.Data.Amount); paid != "" {
			amount, err := decimal.NewFromString(paid)
			if err != nil || !amount.Equal(p.Amount) {
				reason := "amount mismatch"
				log.Warn("payment amount mismatch", zap.String("paid", paid), zap.String("expected", p.Amount.String()))
				_, err := s.Repo.SettlePaymentTx(ctx, nil, p.ID, models.PaymentStatusFailed, &reason, s.now())
				return err
			}
		}
		if err := s.confirm(ctx, p); err != nil {
			return err
		}
		log.Info("payment confirmed", zap.String("owner_id", p.OwnerID), zap.String("plan", p.Plan))
	case payment.EventFailed:
		reason := strings.TrimSpace(ev.Data.Reason)
		if reason == "" {
			reason = "payment failed"
		}
		if _, err := s.Repo.SettlePaymentTx(ctx, nil, p.ID, models.PaymentStatusFailed, &reason, s.now()); err != nil {
			return err
		}
		log.Info("payment failed", zap.String("owner_id", p.OwnerID), zap.String("reason", reason))
	default:
		log.Debug("webhook event ignored")
	}
	return nil
}

// confirm settles the payment and extends the subscription in one
// transaction. A payment settled concurrently leaves the subscription alone.
func (s *BillingService) confirm(ctx context.Context, p *models.SubscriptionPayment) error {
	at := s.now()
	current, err := s.Repo.GetSubscription(ctx, p.OwnerID)
	if err != nil {
		return err
	}
	next := subscription.Apply(current, p.OwnerID, p.Plan, p.Months, at)
	applied := false
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.Repo.SettlePaymentTx(ctx, tx, p.ID, models.PaymentStatusConfirmed, nil, at)
		if err != nil || !ok {
			return err
		}
		applied = true
		return s.Repo.UpsertSubscriptionTx(ctx, tx, &next)
	})
	if err != nil || !applied {
		return err
	}
	s.invalidate(ctx, p.OwnerID)
	publish(ctx, s.Events, s.log(), events.Event{
		Type:    events.SubscriptionConfirmed,
		OwnerID: p.OwnerID,
		Reason:  p.Plan,
		At:      at,
	})
	return nil
}

// Grant sets a plan without a payment.
func (s *BillingService) Grant(ctx context.Context, userID string, plan string, months int) (*models.UserSubscription, error) {
	target, ok := subscription.Lookup(plan)
	if !ok {
		return nil, apperr.New(apperr.CodeSubscriptionPlanInvalid, "unknown plan")
	}
	if target.Paid() && (months < 1 || months > subscription.MaxMonths) {
		return nil, apperr.New(apperr.CodeSubscriptionPlanInvalid, "months out of range")
	}
	current, err := s.Repo.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	next := subscription.Apply(current, userID, target.Name, months, s.now())
	if !target.Paid() {
		next.ExpiresAt = nil
	}
	if err := s.Repo.UpsertSubscriptionTx(ctx, nil, &next); err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID)
	s.log().Info("plan granted", zap.String("owner_id", userID), zap.String("plan", target.Name), zap.Int("months", months))
	return &next, nil
}

func (s *BillingService) Payments(ctx context.Context, userID string, limit, offset int) ([]models.SubscriptionPayment, error) {
	items, err := s.Repo.ListPaymentsByOwner(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.SubscriptionPayment{}
	}
	return items, nil
}

// ExpirePendingPayments fails checkouts left open past the pending TTL.
func (s *BillingService) ExpirePendingPayments(ctx context.Context) (int64, error) {
	ttl := s.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	return s.Repo.FailStalePayments(ctx, s.now().Add(-ttl), "checkout expired")
}

// ExpireSubscriptions moves lapsed paid plans to FREE and disables enabled
// bots beyond the FREE bot limit.
func (s *BillingService) ExpireSubscriptions(ctx context.Context) (int, error) {
	now := s.now()
	subs, err := s.Repo.ListExpiredSubscriptions(ctx, now, 100)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sub := range subs {
		// A renewal may have landed since the list was read.
		fresh, err := s.Repo.GetSubscription(ctx, sub.OwnerID)
		if err != nil {
			return n, err
		}
		if fresh == nil || fresh.Plan == models.PlanFree || (fresh.ExpiresAt != nil && fresh.ExpiresAt.After(now)) {
			continue
		}
		if s.Bots != nil {
			disabled, err := s.Bots.DisableOverLimit(ctx, sub.OwnerID, subscription.Free().Limits.Bots, models.BotReasonSubscriptionExpired)
			if err != nil {
				s.log().Error("disable bots over limit failed", zap.String("owner_id", sub.OwnerID), zap.Error(err))
				continue
			}
			if disabled > 0 {
				s.log().Info("bots disabled after plan expiry", zap.String("owner_id", sub.OwnerID), zap.Int("count", disabled))
			}
		}
		downgraded := models.UserSubscription{ID: fresh.ID, OwnerID: fresh.OwnerID, Plan: models.PlanFree, CreatedAt: fresh.CreatedAt}
		if err := s.Repo.UpsertSubscriptionTx(ctx, nil, &downgraded); err != nil {
			return n, err
		}
		s.invalidate(ctx, sub.OwnerID)
		n++
	}
	return n, nil
}

func (s *BillingService) invalidate(ctx context.Context, userID string) {
	if s.Caches == nil {
		return
	}
	if err := s.Caches.Dashboard.Invalidate(ctx, userID); err != nil {
		s.log().Warn("dashboard cache invalidate failed", zap.String("owner_id", userID), zap.Error(err))
	}
}
