package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pmbots/internal/service"
	"pmbots/internal/strategy"
)

type DashboardHandler struct {
	Service    *service.DashboardService
	Strategies *service.StrategyService
}

type copyStrategyRequest struct {
	Name string `json:"name" validate:"max=64"`
}

func (h *DashboardHandler) Register(api *gin.RouterGroup, s *Schemas) {
	api.GET("/dashboard", h.summary)
	api.GET("/leaderboard", h.leaderboard)
	api.POST("/leaderboard/:id/copy", h.copy)

	Add[copyStrategyRequest](s, http.MethodPost, "/api/leaderboard/:id/copy")
}

// @Summary Account dashboard
// @Tags dashboard
// @Produce json
// @Success 200 {object} service.Dashboard
// @Router /api/dashboard [get]
func (h *DashboardHandler) summary(c *gin.Context) {
	res, err := h.Service.Summary(c.Request.Context(), userID(c))
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, res)
}

// @Summary Top market strategies
// @Tags dashboard
// @Produce json
// @Param interval query string false "5m, 15m, 1h, 4h or 1d"
// @Param limit query int false "limit"
// @Success 200 {array} service.LeaderboardEntry
// @Router /api/leaderboard [get]
func (h *DashboardHandler) leaderboard(c *gin.Context) {
	interval := strings.TrimSpace(c.Query("interval"))
	if interval != "" && !strategy.ValidInterval(interval) {
		Error(c, invalid("interval", "oneof"))
		return
	}
	limit, _ := page(c, 20, 100)
	res, err := h.Service.Leaderboard(c.Request.Context(), userID(c), interval, limit)
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, res)
}

// @Summary Copy a market strategy into the caller's strategies
// @Tags dashboard
// @Accept json
// @Produce json
// @Param id path int true "market strategy id"
// @Param body body copyStrategyRequest false "optional name"
// @Success 201 {object} models.Strategy
// @Router /api/leaderboard/{id}/copy [post]
func (h *DashboardHandler) copy(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	req := bodyOf[copyStrategyRequest](c)
	st, err := h.Strategies.Copy(c.Request.Context(), userID(c), id, req.Name)
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, st)
}
