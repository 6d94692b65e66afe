package cronrunner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pmbots/internal/config"
)

type PaymentExpirer interface {
	ExpirePendingPayments(ctx context.Context) (int64, error)
}

type SubscriptionExpirer interface {
	ExpireSubscriptions(ctx context.Context) (int, error)
}

type ActivationSweeper interface {
	FailStuckActivations(ctx context.Context, before time.Time) (int, error)
}

// Purger drops expired in-process entries (session keys, memory cache).
type Purger interface {
	Purge() int
}

// Maintenance holds the periodic housekeeping jobs. Nil dependencies skip
// their job.
type Maintenance struct {
	Payments      PaymentExpirer
	Subscriptions SubscriptionExpirer
	Activations   ActivationSweeper
	Purgers       map[string]Purger
	Logger        *zap.Logger
	Now           func() time.Time

	// ActivationTimeout is the in-process activation deadline. Wallets still
	// DEPLOYING a minute past it are considered abandoned.
	ActivationTimeout time.Duration
	JobTimeout        time.Duration
}

func (m *Maintenance) log() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

func (m *Maintenance) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// Register adds every job with its configured spec. An empty spec disables
// that job.
func (m *Maintenance) Register(r *Runner, cfg config.CronConfig) error {
	jobs := []struct {
		spec string
		run  func(context.Context)
	}{
		{cfg.PaymentExpiry, m.ExpirePayments},
		{cfg.SubscriptionExpiry, m.ExpireSubscriptions},
		{cfg.DeployingSweep, m.SweepActivations},
		{cfg.SessionKeysSweep, m.PurgeExpired},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := r.Add(j.spec, m.bounded(j.run)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Maintenance) bounded(run func(context.Context)) func(context.Context) {
	return func(ctx context.Context) {
		timeout := m.JobTimeout
		if timeout <= 0 {
			timeout = time.Minute
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		run(ctx)
	}
}

func (m *Maintenance) ExpirePayments(ctx context.Context) {
	if m.Payments == nil {
		return
	}
	n, err := m.Payments.ExpirePendingPayments(ctx)
	if err != nil {
		m.log().Warn("cron payment expiry failed", zap.Error(err))
		return
	}
	if n > 0 {
		m.log().Info("cron payment expiry ok", zap.Int64("failed", n))
	}
}

func (m *Maintenance) ExpireSubscriptions(ctx context.Context) {
	if m.Subscriptions == nil {
		return
	}
	n, err := m.Subscriptions.ExpireSubscriptions(ctx)
	if err != nil {
		m.log().Warn("cron subscription expiry failed", zap.Int("expired", n), zap.Error(err))
		return
	}
	if n > 0 {
		m.log().Info("cron subscription expiry ok", zap.Int("expired", n))
	}
}

func (m *Maintenance) SweepActivations(ctx context.Context) {
	if m.Activations == nil {
		return
	}
	cutoff := m.now().Add(-m.ActivationTimeout - time.Minute)
	n, err := m.Activations.FailStuckActivations(ctx, cutoff)
	if err != nil {
		m.log().Warn("cron activation sweep failed", zap.Int("failed", n), zap.Error(err))
		return
	}
	if n > 0 {
		m.log().Info("cron activation sweep ok", zap.Int("failed", n), zap.Time("cutoff", cutoff))
	}
}

func (m *Maintenance) PurgeExpired(ctx context.Context) {
	for name, p := range m.Purgers {
		if p == nil {
			continue
		}
		if n := p.Purge(); n > 0 {
			m.log().Debug("cron purge", zap.String("store", name), zap.Int("removed", n))
		}
	}
}
