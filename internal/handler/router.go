package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"pmbots/internal/logger"
	"pmbots/internal/metrics"
	"pmbots/internal/subscription"
)

// Router assembles the HTTP surface. Nil handlers are skipped.
type Router struct {
	Auth   Auth
	Logger *zap.Logger
	// Plans backs the per-request subscription context. Optional.
	Plans  subscription.Source

	Health     *HealthHandler
	Keys       *KeysHandler
	Wallets    *WalletHandler
	Strategies *StrategyHandler
	Bots       *BotHandler
	Dashboard  *DashboardHandler
	Billing    *BillingHandler
	Admin      *AdminHandler

	Swagger bool
}

func (rt *Router) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(rt.Logger))
	engine.Use(metrics.GinMiddleware())
	engine.Use(corsMiddleware())

	if rt.Health != nil {
		rt.Health.Register(engine)
	}
	engine.GET("/metrics", metrics.Handler())
	if rt.Swagger {
		engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	if rt.Billing != nil {
		rt.Billing.RegisterWebhook(engine)
	}

	schemas := NewSchemas()
	chain := []gin.HandlerFunc{rt.Auth.Middleware()}
	if rt.Plans != nil {
		chain = append(chain, PlanContext(rt.Plans))
	}
	api := engine.Group("/api", append(chain, schemas.Middleware())...)
	if rt.Keys != nil {
		rt.Keys.Register(api)
	}
	if rt.Wallets != nil {
		rt.Wallets.Register(api, schemas)
	}
	if rt.Strategies != nil {
		rt.Strategies.Register(api, schemas)
	}
	if rt.Bots != nil {
		rt.Bots.Register(api, schemas)
	}
	if rt.Dashboard != nil {
		rt.Dashboard.Register(api, schemas)
	}
	if rt.Billing != nil {
		rt.Billing.Register(api, schemas)
	}
	if rt.Admin != nil {
		admin := engine.Group("/api/admin", rt.Auth.Middleware(), RequireAdmin(), schemas.Middleware())
		rt.Admin.Register(admin, schemas)
	}
	return engine
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
