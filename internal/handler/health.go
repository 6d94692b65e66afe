package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthHandler struct {
	DB    *gorm.DB
	BotDB *gorm.DB
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

// @Summary Health check
// @Tags health
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *HealthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Readiness check
// @Description The app database is required; the bot database only degrades dashboards.
// @Tags health
// @Success 200 {object} map[string]string
// @Router /readyz [get]
func (h *HealthHandler) ready(c *gin.Context) {
	if h.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_missing"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if status := ping(ctx, h.DB); status != "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": status})
		return
	}
	res := gin.H{"status": "ready", "bot_db": "ok"}
	if h.BotDB == nil {
		res["bot_db"] = "disabled"
	} else if status := ping(ctx, h.BotDB); status != "" {
		res["bot_db"] = status
	}
	c.JSON(http.StatusOK, res)
}

func ping(ctx context.Context, db *gorm.DB) string {
	sqlDB, err := db.DB()
	if err != nil {
		return "db_error"
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return "db_unreachable"
	}
	return ""
}
