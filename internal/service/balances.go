package service

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pmbots/internal/apperr"
	"pmbots/internal/cache"
	"pmbots/internal/chain"
	"pmbots/internal/metrics"
)

const balanceKey = "raw"

var errNoBalanceReader = errors.New("balance reader not configured")

// Balance is a token balance in base units plus its decimal form.
type Balance struct {
	Raw    string          `json:"raw"`
	Amount decimal.Decimal `json:"amount"`
}

// BalanceService reads collateral balances through the balance cache. The
// cache is scoped per funder address.
type BalanceService struct {
	Reader   chain.BalanceReader
	Cache    *cache.Namespace
	Decimals int32
	Logger   *zap.Logger
}

func (s *BalanceService) logger() *zap.Logger {
	if s == nil || s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Raw returns the cached balance of funder, reading the chain on a miss.
func (s *BalanceService) Raw(ctx context.Context, funder string) (*big.Int, error) {
	out, err := s.RawMany(ctx, []string{funder})
	if err != nil {
		return nil, err
	}
	return out[balanceAddr(funder)], nil
}

// RawMany returns balances keyed by lower-cased address. Misses are read in
// one batch.
func (s *BalanceService) RawMany(ctx context.Context, funders []string) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(funders))
	var missing []string
	for _, f := range funders {
		addr := balanceAddr(f)
		if addr == "" {
			continue
		}
		if _, seen := out[addr]; seen {
			continue
		}
		var raw string
		ok, err := s.Cache.GetJSON(ctx, addr, balanceKey, &raw)
		if err != nil {
			s.logger().Warn("balance cache get failed", zap.String("funder", addr), zap.Error(err))
		}
		if v, parsed := new(big.Int).SetString(raw, 10); ok && parsed {
			out[addr] = v
			continue
		}
		out[addr] = nil
		missing = append(missing, addr)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := s.read(ctx, missing)
	if err != nil {
		return nil, err
	}
	for addr, v := range fresh {
		out[addr] = v
		if err := s.Cache.SetJSON(ctx, addr, balanceKey, v.String()); err != nil {
			s.logger().Warn("balance cache set failed", zap.String("funder", addr), zap.Error(err))
		}
	}
	for _, addr := range missing {
		if out[addr] == nil {
			out[addr] = new(big.Int)
		}
	}
	return out, nil
}

// Live bypasses the cache and refreshes it.
func (s *BalanceService) Live(ctx context.Context, funder string) (*big.Int, error) {
	addr := balanceAddr(funder)
	fresh, err := s.read(ctx, []string{addr})
	if err != nil {
		return nil, err
	}
	v := fresh[addr]
	if v == nil {
		v = new(big.Int)
	}
	if err := s.Cache.SetJSON(ctx, addr, balanceKey, v.String()); err != nil {
		s.logger().Warn("balance cache set failed", zap.String("funder", addr), zap.Error(err))
	}
	return v, nil
}

func (s *BalanceService) Invalidate(ctx context.Context, funder string) {
	addr := balanceAddr(funder)
	if err := s.Cache.Invalidate(ctx, addr); err != nil {
		s.logger().Warn("balance cache invalidate failed", zap.String("funder", addr), zap.Error(err))
	}
}

// Format converts a raw balance for responses.
func (s *BalanceService) Format(raw *big.Int) Balance {
	if raw == nil {
		raw = new(big.Int)
	}
	return Balance{Raw: raw.String(), Amount: chain.FromRaw(raw, s.Decimals)}
}

// balanceAddr is the cache scope and reader key for an address.
func balanceAddr(funder string) string {
	funder = strings.TrimSpace(funder)
	if funder == "" {
		return ""
	}
	return strings.ToLower(chain.NormalizeAddress(funder))
}

func (s *BalanceService) read(ctx context.Context, addrs []string) (map[string]*big.Int, error) {
	if s == nil || s.Reader == nil {
		return nil, apperr.Wrap(apperr.CodeBalanceUnavailable, "balance unavailable", errNoBalanceReader)
	}
	fresh, err := s.Reader.Balances(ctx, addrs)
	if err != nil {
		metrics.ExternalErrors.WithLabelValues("rpc", "balance").Inc()
		s.logger().Error("read token balances failed", zap.Int("count", len(addrs)), zap.Error(err))
		return nil, apperr.Wrap(apperr.CodeBalanceUnavailable, "balance unavailable", err)
	}
	return fresh, nil
}
