package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pmbots/internal/apperr"
	"pmbots/internal/models"
)

type Kind string

const (
	KindWallets    Kind = "wallets"
	KindStrategies Kind = "strategies"
	KindBots       Kind = "bots"
)

// Source is the slice of the repository the checks read.
type Source interface {
	GetSubscription(ctx context.Context, ownerID string) (*models.UserSubscription, error)
	CountWalletsByOwner(ctx context.Context, ownerID string) (int64, error)
	CountStrategiesByOwner(ctx context.Context, ownerID string) (int64, error)
	CountBotsByOwner(ctx context.Context, ownerID string) (int64, error)
}

type memo[T any] struct {
	done bool
	val  T
	err  error
}

// Context memoizes subscription and usage lookups for one request. Each
// underlying query runs at most once, errors included.
type Context struct {
	src    Source
	userID string
	now    time.Time

	mu    sync.Mutex
	sub   memo[*models.UserSubscription]
	usage map[Kind]*memo[int64]
}

func NewContext(src Source, userID string, now time.Time) *Context {
	return &Context{src: src, userID: userID, now: now, usage: map[Kind]*memo[int64]{}}
}

func (c *Context) UserID() string { return c.userID }

func (c *Context) Subscription(ctx context.Context) (*models.UserSubscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sub.done {
		c.sub.val, c.sub.err = c.src.GetSubscription(ctx, c.userID)
		c.sub.done = true
	}
	return c.sub.val, c.sub.err
}

func (c *Context) Plan(ctx context.Context) (Plan, error) {
	sub, err := c.Subscription(ctx)
	if err != nil {
		return Plan{}, err
	}
	return EffectivePlan(sub, c.now), nil
}

func (c *Context) Limits(ctx context.Context) (Limits, error) {
	p, err := c.Plan(ctx)
	if err != nil {
		return Limits{}, err
	}
	return p.Limits, nil
}

func (c *Context) Usage(ctx context.Context, kind Kind) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.usage[kind]
	if !ok {
		m = &memo[int64]{}
		c.usage[kind] = m
	}
	if !m.done {
		switch kind {
		case KindWallets:
			m.val, m.err = c.src.CountWalletsByOwner(ctx, c.userID)
		case KindStrategies:
			m.val, m.err = c.src.CountStrategiesByOwner(ctx, c.userID)
		case KindBots:
			m.val, m.err = c.src.CountBotsByOwner(ctx, c.userID)
		}
		m.done = true
	}
	return m.val, m.err
}

var limitCodes = map[Kind]apperr.Code{
	KindWallets:    apperr.CodeSubscriptionWalletLimit,
	KindStrategies: apperr.CodeSubscriptionStrategyLimit,
	KindBots:       apperr.CodeSubscriptionBotLimit,
}

func limitFor(l Limits, kind Kind) int64 {
	switch kind {
	case KindWallets:
		return l.Wallets
	case KindStrategies:
		return l.Strategies
	case KindBots:
		return l.Bots
	}
	return 0
}

// CheckCount fails when current usage plus delta would pass the plan limit.
func (c *Context) CheckCount(ctx context.Context, kind Kind, delta int64) error {
	p, err := c.Plan(ctx)
	if err != nil {
		return err
	}
	current, err := c.Usage(ctx, kind)
	if err != nil {
		return err
	}
	limit := limitFor(p.Limits, kind)
	if current+delta > limit {
		return apperr.WithData(limitCodes[kind], "subscription limit exceeded", apperr.QuotaData{
			Current: current,
			Limit:   limit,
			Plan:    p.Name,
		})
	}
	return nil
}

type AmountData struct {
	Amount string `json:"amount"`
	Limit  string `json:"limit"`
	Plan   string `json:"plan"`
}

// CheckStrategyAmount fails when amount is above the plan ceiling.
func (c *Context) CheckStrategyAmount(ctx context.Context, amount decimal.Decimal) error {
	p, err := c.Plan(ctx)
	if err != nil {
		return err
	}
	ceiling := p.Limits.MaxStrategyAmount
	if ceiling == nil || amount.LessThanOrEqual(*ceiling) {
		return nil
	}
	return apperr.WithData(apperr.CodeSubscriptionAmountExceeded, "strategy amount exceeds plan limit", AmountData{
		Amount: amount.String(),
		Limit:  ceiling.String(),
		Plan:   p.Name,
	})
}

type contextKey struct{}

// WithContext stores sc in ctx for code deeper in the call tree.
func WithContext(ctx context.Context, sc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, sc)
}

// FromContext returns the request's Context, or a fresh one when none is
// attached or it belongs to another user.
func FromContext(ctx context.Context, src Source, userID string, now time.Time) *Context {
	if sc, ok := ctx.Value(contextKey{}).(*Context); ok && sc != nil && sc.userID == userID {
		return sc
	}
	return NewContext(src, userID, now)
}
