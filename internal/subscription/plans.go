// Package subscription holds the plan catalog, the per-request limit checks
// and the proration math for plan changes.
package subscription

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pmbots/internal/models"
)

type Limits struct {
	Wallets    int64 `json:"wallets"`
	Strategies int64 `json:"strategies"`
	Bots       int64 `json:"bots"`
	// nil means unlimited.
	MaxStrategyAmount *decimal.Decimal `json:"maxStrategyAmount"`
}

type Plan struct {
	Name         string          `json:"name"`
	Rank         int             `json:"rank"`
	MonthlyPrice decimal.Decimal `json:"monthlyPrice"`
	Limits       Limits          `json:"limits"`
}

func (p Plan) Paid() bool {
	return p.MonthlyPrice.IsPositive()
}

func amountPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

var catalog = map[string]Plan{
	models.PlanFree: {
		Name:         models.PlanFree,
		Rank:         0,
		MonthlyPrice: decimal.Zero,
		Limits:       Limits{Wallets: 5, Strategies: 5, Bots: 3, MaxStrategyAmount: amountPtr(10)},
	},
	models.PlanPro: {
		Name:         models.PlanPro,
		Rank:         1,
		MonthlyPrice: decimal.NewFromInt(29),
		Limits:       Limits{Wallets: 20, Strategies: 50, Bots: 20, MaxStrategyAmount: amountPtr(500)},
	},
	models.PlanPremium: {
		Name:         models.PlanPremium,
		Rank:         2,
		MonthlyPrice: decimal.NewFromInt(99),
		Limits:       Limits{Wallets: 100, Strategies: 200, Bots: 100},
	},
}

// Lookup returns the plan by name (case-insensitive).
func Lookup(name string) (Plan, bool) {
	p, ok := catalog[strings.ToUpper(strings.TrimSpace(name))]
	return p, ok
}

func Plans() []Plan {
	return []Plan{catalog[models.PlanFree], catalog[models.PlanPro], catalog[models.PlanPremium]}
}

func Free() Plan {
	return catalog[models.PlanFree]
}

// EffectivePlan is the stored plan unless it is a paid plan whose expiry has
// passed, in which case the user is on FREE.
func EffectivePlan(sub *models.UserSubscription, now time.Time) Plan {
	if sub == nil {
		return Free()
	}
	p, ok := Lookup(sub.Plan)
	if !ok {
		return Free()
	}
	if p.Paid() && (sub.ExpiresAt == nil || !sub.ExpiresAt.After(now)) {
		return Free()
	}
	return p
}
