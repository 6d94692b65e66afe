package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pmbots/internal/models"
	"pmbots/internal/payment"
	"pmbots/internal/service"
)

const maxWebhookBody = 1 << 20

type BillingHandler struct {
	Service *service.BillingService
	Logger  *zap.Logger
}

type checkoutRequest struct {
	Plan   string `json:"plan" validate:"required"`
	Months int    `json:"months" validate:"omitempty,min=1,max=12"`
}

func (h *BillingHandler) Register(api *gin.RouterGroup, s *Schemas) {
	g := api.Group("/subscription")
	g.GET("", h.summary)
	g.GET("/quote", h.quote)
	g.POST("/checkout", h.checkout)
	g.GET("/payments", h.payments)

	Add[checkoutRequest](s, http.MethodPost, "/api/subscription/checkout")
}

// RegisterWebhook mounts the provider callback outside the authenticated
// group.
func (h *BillingHandler) RegisterWebhook(r gin.IRouter) {
	r.POST("/api/webhooks/payment", h.webhook)
}

func (h *BillingHandler) log() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// @Summary Effective plan, limits and usage
// @Tags billing
// @Produce json
// @Success 200 {object} service.SubscriptionSummary
// @Router /api/subscription [get]
func (h *BillingHandler) summary(c *gin.Context) {
	res, err := h.Service.Summary(c.Request.Context(), userID(c))
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, res)
}

// @Summary Price a plan change
// @Tags billing
// @Produce json
// @Param plan query string true "PRO or PREMIUM"
// @Param months query int false "1-12"
// @Success 200 {object} subscription.Quote
// @Router /api/subscription/quote [get]
func (h *BillingHandler) quote(c *gin.Context) {
	plan := strings.TrimSpace(c.Query("plan"))
	if plan == "" {
		Error(c, invalid("plan", "required"))
		return
	}
	q, err := h.Service.Quote(c.Request.Context(), userID(c), plan, intQuery(c, "months", 1))
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, q)
}

// @Summary Start a hosted checkout
// @Tags billing
// @Accept json
// @Produce json
// @Param body body checkoutRequest true "plan and months"
// @Success 200 {object} service.CheckoutResult
// @Failure 409 {object} errorResponse
// @Router /api/subscription/checkout [post]
func (h *BillingHandler) checkout(c *gin.Context) {
	req := bodyOf[checkoutRequest](c)
	months := req.Months
	if months == 0 {
		months = 1
	}
	res, err := h.Service.Checkout(c.Request.Context(), userID(c), req.Plan, months)
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, res)
}

func (h *BillingHandler) payments(c *gin.Context) {
	limit, offset := page(c, 20, 100)
	items, err := h.Service.Payments(c.Request.Context(), userID(c), limit, offset)
	if err != nil {
		Error(c, err)
		return
	}
	if items == nil {
		items = []models.SubscriptionPayment{}
	}
	Ok(c, items)
}

// webhook always answers 200 so the provider does not retry events this
// service has rejected; failures are only logged.
func (h *BillingHandler) webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.log().Warn("payment webhook read failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if err := h.Service.HandleWebhook(c.Request.Context(), body, c.GetHeader(payment.SignatureHeader)); err != nil {
		h.log().Warn("payment webhook rejected", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
