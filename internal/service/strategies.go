package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"pmbots/internal/apperr"
	"pmbots/internal/models"
	"pmbots/internal/repository"
	"pmbots/internal/strategy"
	"pmbots/internal/subscription"
	"pmbots/internal/validator"
)

type StrategyService struct {
	Repo      repository.Repository
	BotData   repository.BotDataRepository
	Validator *validator.Validator
	Logger    *zap.Logger
	Now       func() time.Time
}

func (s *StrategyService) now() time.Time { return clockNow(s.Now) }

func (s *StrategyService) log() *zap.Logger { return nopIfNil(s.Logger) }

type CreateStrategyInput struct {
	Name       string
	Interval   string
	TradeSteps []strategy.TradeStep

	SourceMarketStrategyID *uint64
}

// DuplicateData points at the strategy that already holds the same content.
type DuplicateData struct {
	StrategyID uint64 `json:"strategyId"`
	Name       string `json:"name"`
	Version    int    `json:"version"`
}

func (s *StrategyService) Create(ctx context.Context, userID string, in CreateStrategyInput) (*models.Strategy, error) {
	interval := strings.TrimSpace(in.Interval)
	if !strategy.ValidInterval(interval) {
		return nil, apperr.WithData(apperr.CodeValidation, "invalid interval", map[string]string{"field": "interval", "key": "oneof"})
	}
	content, err := strategy.Build(in.TradeSteps)
	if err != nil {
		return nil, err
	}

	sc := limits(ctx, s.Repo, userID, s.now())
	if err := sc.CheckStrategyAmount(ctx, content.MaxAmount); err != nil {
		return nil, err
	}
	if err := sc.CheckCount(ctx, subscription.KindStrategies, 1); err != nil {
		return nil, err
	}

	existing, err := s.Repo.GetStrategyByContent(ctx, userID, content.Hash, interval)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, duplicateStrategy(existing)
	}

	name := strings.TrimSpace(in.Name)
	version, err := s.Repo.MaxStrategyVersion(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	item := &models.Strategy{
		OwnerID:                userID,
		Name:                   name,
		Version:                version + 1,
		Interval:               interval,
		TradeSteps:             datatypes.JSON(content.JSON),
		ContentHash:            content.Hash,
		MaxAmount:              content.MaxAmount,
		SourceMarketStrategyID: in.SourceMarketStrategyID,
	}
	if err := s.Repo.CreateStrategy(ctx, item); err != nil {
		if isDuplicate(err) {
			if existing, _ := s.Repo.GetStrategyByContent(ctx, userID, content.Hash, interval); existing != nil {
				return nil, duplicateStrategy(existing)
			}
			return nil, apperr.New(apperr.CodeStrategyDuplicate, "strategy already exists")
		}
		return nil, err
	}
	s.log().Info("strategy created",
		zap.String("owner_id", userID),
		zap.Uint64("strategy_id", item.ID),
		zap.String("name", name),
		zap.Int("version", item.Version),
		zap.String("content_hash", item.ContentHash),
	)
	return item, nil
}

func duplicateStrategy(existing *models.Strategy) error {
	return apperr.WithData(apperr.CodeStrategyDuplicate, "strategy already exists", DuplicateData{
		StrategyID: existing.ID,
		Name:       existing.Name,
		Version:    existing.Version,
	})
}

func (s *StrategyService) List(ctx context.Context, userID string) ([]models.Strategy, error) {
	items, err := s.Repo.ListStrategiesByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Strategy{}
	}
	return items, nil
}

func (s *StrategyService) Get(ctx context.Context, userID string, strategyID uint64) (*models.Strategy, error) {
	return s.Validator.Strategy(ctx, strategyID, userID)
}

func (s *StrategyService) Delete(ctx context.Context, userID string, strategyID uint64) error {
	st, err := s.Validator.Strategy(ctx, strategyID, userID)
	if err != nil {
		return err
	}
	if err := s.Validator.NoStrategyDependents(ctx, st.ID); err != nil {
		return err
	}
	if err := s.Repo.DeleteStrategy(ctx, st.ID); err != nil {
		return err
	}
	s.log().Info("strategy deleted", zap.String("owner_id", userID), zap.Uint64("strategy_id", st.ID))
	return nil
}

// Copy creates a strategy from a leaderboard entry. An empty name keeps the
// entry's name.
func (s *StrategyService) Copy(ctx context.Context, userID string, marketStrategyID uint64, name string) (*models.Strategy, error) {
	if s.BotData == nil {
		return nil, apperr.New(apperr.CodeStrategyNotFound, "market strategy not found")
	}
	ms, err := s.BotData.GetMarketStrategy(ctx, marketStrategyID)
	if err != nil {
		return nil, err
	}
	if ms == nil {
		return nil, apperr.New(apperr.CodeStrategyNotFound, "market strategy not found")
	}
	steps, err := strategy.Parse(ms.TradeSteps)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = ms.Name
	}
	id := ms.ID
	return s.Create(ctx, userID, CreateStrategyInput{
		Name:                   name,
		Interval:               ms.Interval,
		TradeSteps:             steps,
		SourceMarketStrategyID: &id,
	})
}
