package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pmbots/internal/models"
	"pmbots/internal/service"
	"pmbots/internal/strategy"
)

type StrategyHandler struct {
	Service *service.StrategyService
}

type createStrategyRequest struct {
	Name       string               `json:"name" validate:"required,max=64"`
	Interval   string               `json:"interval" validate:"required"`
	TradeSteps []strategy.TradeStep `json:"tradeSteps"`
}

func (h *StrategyHandler) Register(api *gin.RouterGroup, s *Schemas) {
	g := api.Group("/strategies")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.delete)

	Add[createStrategyRequest](s, http.MethodPost, "/api/strategies")
}

// @Summary List strategies
// @Tags strategies
// @Produce json
// @Success 200 {array} models.Strategy
// @Router /api/strategies [get]
func (h *StrategyHandler) list(c *gin.Context) {
	items, err := h.Service.List(c.Request.Context(), userID(c))
	if err != nil {
		Error(c, err)
		return
	}
	if items == nil {
		items = []models.Strategy{}
	}
	Ok(c, items)
}

// @Summary Create a strategy version
// @Tags strategies
// @Accept json
// @Produce json
// @Param body body createStrategyRequest true "strategy"
// @Success 201 {object} models.Strategy
// @Failure 409 {object} errorResponse
// @Router /api/strategies [post]
func (h *StrategyHandler) create(c *gin.Context) {
	req := bodyOf[createStrategyRequest](c)
	st, err := h.Service.Create(c.Request.Context(), userID(c), service.CreateStrategyInput{
		Name:       req.Name,
		Interval:   req.Interval,
		TradeSteps: req.TradeSteps,
	})
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, st)
}

func (h *StrategyHandler) get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	st, err := h.Service.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, st)
}

func (h *StrategyHandler) delete(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.Service.Delete(c.Request.Context(), userID(c), id); err != nil {
		Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
