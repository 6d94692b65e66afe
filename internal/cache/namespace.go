package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pmbots/internal/metrics"
)

const (
	NamespaceBalance     = "balance"
	NamespaceBots        = "bots"
	NamespaceWallets     = "wallets"
	NamespaceDashboard   = "dashboard"
	NamespaceLeaderboard = "leaderboard"
)

const keyPrefix = "pmbots:"

// Namespace groups cache entries per scope (usually a user id). Invalidate
// bumps the scope's version, so every key written under the old version
// becomes unreachable at once and expires on its own.
type Namespace struct {
	store Store
	name  string
	ttl   time.Duration
	log   *zap.Logger
}

func NewNamespace(store Store, name string, ttl time.Duration, log *zap.Logger) *Namespace {
	if log == nil {
		log = zap.NewNop()
	}
	return &Namespace{store: store, name: name, ttl: ttl, log: log}
}

func (n *Namespace) Name() string {
	if n == nil {
		return ""
	}
	return n.name
}

func (n *Namespace) versionKey(scope string) string {
	return keyPrefix + n.name + ":" + scope + ":v"
}

func (n *Namespace) version(ctx context.Context, scope string) (string, error) {
	b, ok, err := n.store.Get(ctx, n.versionKey(scope))
	if err != nil {
		return "", err
	}
	if !ok {
		return "0", nil
	}
	return string(b), nil
}

func (n *Namespace) dataKey(version, scope, key string) string {
	return keyPrefix + n.name + ":" + scope + ":" + version + ":" + key
}

// GetJSON decodes a cached value into out. Store errors are reported but
// callers normally treat them as a miss.
func (n *Namespace) GetJSON(ctx context.Context, scope, key string, out any) (bool, error) {
	if n == nil || n.store == nil {
		return false, nil
	}
	ver, err := n.version(ctx, scope)
	if err != nil {
		metrics.CacheRequests.WithLabelValues(n.name, "error").Inc()
		return false, err
	}
	b, ok, err := n.store.Get(ctx, n.dataKey(ver, scope, key))
	if err != nil {
		metrics.CacheRequests.WithLabelValues(n.name, "error").Inc()
		return false, err
	}
	if !ok {
		metrics.CacheRequests.WithLabelValues(n.name, "miss").Inc()
		return false, nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		metrics.CacheRequests.WithLabelValues(n.name, "error").Inc()
		return false, err
	}
	metrics.CacheRequests.WithLabelValues(n.name, "hit").Inc()
	return true, nil
}

func (n *Namespace) SetJSON(ctx context.Context, scope, key string, v any) error {
	if n == nil || n.store == nil {
		return nil
	}
	ver, err := n.version(ctx, scope)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return n.store.Set(ctx, n.dataKey(ver, scope, key), b, n.ttl)
}

// Invalidate drops every entry of scope. The version key outlives data
// entries so a stale version never comes back.
func (n *Namespace) Invalidate(ctx context.Context, scope string) error {
	if n == nil || n.store == nil {
		return nil
	}
	return n.store.Set(ctx, n.versionKey(scope), []byte(uuid.NewString()), 0)
}

// Load is cache-aside: on a miss it calls fn and stores the result. Cache
// failures are logged and fall through to fn.
func Load[T any](ctx context.Context, n *Namespace, scope, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	if n != nil {
		ok, err := n.GetJSON(ctx, scope, key, &out)
		if err != nil {
			n.log.Warn("cache get failed", zap.String("namespace", n.name), zap.String("key", key), zap.Error(err))
		}
		if ok {
			return out, nil
		}
	}
	out, err := fn(ctx)
	if err != nil {
		return out, err
	}
	if n != nil {
		if err := n.SetJSON(ctx, scope, key, out); err != nil {
			n.log.Warn("cache set failed", zap.String("namespace", n.name), zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

// Namespaces bundles the caches the services share.
type Namespaces struct {
	Balance     *Namespace
	Bots        *Namespace
	Wallets     *Namespace
	Dashboard   *Namespace
	Leaderboard *Namespace
}

type TTLs struct {
	Balance     time.Duration
	List        time.Duration
	Dashboard   time.Duration
	Leaderboard time.Duration
}

func NewNamespaces(store Store, ttl TTLs, log *zap.Logger) *Namespaces {
	return &Namespaces{
		Balance:     NewNamespace(store, NamespaceBalance, ttl.Balance, log),
		Bots:        NewNamespace(store, NamespaceBots, ttl.List, log),
		Wallets:     NewNamespace(store, NamespaceWallets, ttl.List, log),
		Dashboard:   NewNamespace(store, NamespaceDashboard, ttl.Dashboard, log),
		Leaderboard: NewNamespace(store, NamespaceLeaderboard, ttl.Leaderboard, log),
	}
}
