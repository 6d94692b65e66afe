package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pmbots/internal/service"
)

type AdminHandler struct {
	Settings *service.SettingsService
	Bots     *service.BotService
}

type setSwitchRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// Register mounts operator routes; the group must already carry
// RequireAdmin.
func (h *AdminHandler) Register(admin *gin.RouterGroup, s *Schemas) {
	admin.GET("/settings", h.listSettings)
	admin.PUT("/settings/:key", h.setSetting)
	admin.POST("/bots/:id/disable", h.disableBot)

	Add[setSwitchRequest](s, http.MethodPut, "/api/admin/settings/:key")
}

// @Summary Feature switches
// @Tags admin
// @Produce json
// @Success 200 {object} map[string]bool
// @Router /api/admin/settings [get]
func (h *AdminHandler) listSettings(c *gin.Context) {
	Ok(c, h.Settings.Switches(c.Request.Context()))
}

// @Summary Turn a feature switch on or off
// @Tags admin
// @Accept json
// @Produce json
// @Param key path string true "switch key"
// @Param body body setSwitchRequest true "state"
// @Success 200 {object} map[string]bool
// @Router /api/admin/settings/{key} [put]
func (h *AdminHandler) setSetting(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	req := bodyOf[setSwitchRequest](c)
	if err := h.Settings.SetEnabled(c.Request.Context(), key, *req.Enabled); err != nil {
		Error(c, err)
		return
	}
	Ok(c, h.Settings.Switches(c.Request.Context()))
}

func (h *AdminHandler) disableBot(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	b, err := h.Bots.DisableByAdmin(c.Request.Context(), id)
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, b)
}
