package subscription

import (
	"time"

	"github.com/shopspring/decimal"

	"pmbots/internal/apperr"
	"pmbots/internal/models"
)

const (
	billingPeriod = 30 * 24 * time.Hour
	MaxMonths     = 12
)

type Quote struct {
	Plan      string          `json:"plan"`
	Months    int             `json:"months"`
	Gross     decimal.Decimal `json:"gross"`
	Credit    decimal.Decimal `json:"credit"`
	Amount    decimal.Decimal `json:"amount"`
	Renewal   bool            `json:"renewal"`
	StartsAt  time.Time       `json:"startsAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// QuoteChange prices moving to plan for months. Renewing the active plan
// extends from its expiry; upgrading credits the unused part of the current
// paid plan; downgrading an active paid plan is refused.
func QuoteChange(current *models.UserSubscription, planName string, months int, now time.Time) (Quote, error) {
	target, ok := Lookup(planName)
	if !ok || !target.Paid() {
		return Quote{}, apperr.New(apperr.CodeSubscriptionPlanInvalid, "unknown or free plan")
	}
	if months < 1 || months > MaxMonths {
		return Quote{}, apperr.New(apperr.CodeSubscriptionPlanInvalid, "months out of range")
	}

	gross := target.MonthlyPrice.Mul(decimal.NewFromInt(int64(months)))
	q := Quote{
		Plan:     target.Name,
		Months:   months,
		Gross:    gross,
		Credit:   decimal.Zero,
		StartsAt: now,
	}

	active := EffectivePlan(current, now)
	if active.Paid() {
		switch {
		case target.Rank < active.Rank:
			return Quote{}, apperr.WithData(apperr.CodeSubscriptionDowngrade, "downgrade not allowed while plan is active",
				map[string]any{"current": active.Name, "requested": target.Name, "expiresAt": current.ExpiresAt})
		case target.Rank == active.Rank:
			q.Renewal = true
			q.StartsAt = *current.ExpiresAt
		default:
			remaining := current.ExpiresAt.Sub(now)
			credit := active.MonthlyPrice.
				Mul(decimal.NewFromInt(int64(remaining / time.Second))).
				Div(decimal.NewFromInt(int64(billingPeriod / time.Second))).
				RoundDown(2)
			if credit.GreaterThan(gross) {
				credit = gross
			}
			q.Credit = credit
		}
	}

	q.Amount = gross.Sub(q.Credit)
	q.ExpiresAt = q.StartsAt.AddDate(0, months, 0)
	return q, nil
}

// Apply returns the subscription that results from a confirmed payment.
// The term is recomputed from the state at confirmation time.
func Apply(current *models.UserSubscription, ownerID string, planName string, months int, now time.Time) models.UserSubscription {
	start := now
	active := EffectivePlan(current, now)
	if active.Paid() && active.Name == planName && current.ExpiresAt != nil && current.ExpiresAt.After(now) {
		start = *current.ExpiresAt
	}
	expires := start.AddDate(0, months, 0)
	out := models.UserSubscription{OwnerID: ownerID, Plan: planName, ExpiresAt: &expires}
	if current != nil {
		out.ID = current.ID
		out.CreatedAt = current.CreatedAt
	}
	return out
}
