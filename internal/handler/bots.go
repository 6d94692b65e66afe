package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"pmbots/internal/models"
	"pmbots/internal/service"
)

const streamBatch = 100

type BotHandler struct {
	Service   *service.BotService
	Dashboard *service.DashboardService
	Logger    *zap.Logger

	PollInterval   time.Duration
	OriginPatterns []string
}

type createBotRequest struct {
	WalletID   uint64 `json:"walletId" validate:"required"`
	StrategyID uint64 `json:"strategyId" validate:"required"`
	Symbol     string `json:"symbol" validate:"required,max=32"`
	Interval   string `json:"interval" validate:"required"`
}

func (h *BotHandler) Register(api *gin.RouterGroup, s *Schemas) {
	g := api.Group("/bots")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/enable", h.enable)
	g.POST("/:id/disable", h.disable)
	g.GET("/:id/history", h.history)
	g.GET("/:id/performance", h.performance)
	g.GET("/:id/logs", h.logs)
	g.GET("/:id/logs/stream", h.stream)

	Add[createBotRequest](s, http.MethodPost, "/api/bots")
}

func (h *BotHandler) log() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// @Summary List bots
// @Tags bots
// @Produce json
// @Success 200 {array} models.Bot
// @Router /api/bots [get]
func (h *BotHandler) list(c *gin.Context) {
	items, err := h.Service.List(c.Request.Context(), userID(c))
	if err != nil {
		Error(c, err)
		return
	}
	if items == nil {
		items = []models.Bot{}
	}
	Ok(c, items)
}

// @Summary Create a disabled bot
// @Tags bots
// @Accept json
// @Produce json
// @Param body body createBotRequest true "bot"
// @Success 201 {object} models.Bot
// @Router /api/bots [post]
func (h *BotHandler) create(c *gin.Context) {
	req := bodyOf[createBotRequest](c)
	b, err := h.Service.Create(c.Request.Context(), userID(c), service.CreateBotInput{
		WalletID:   req.WalletID,
		StrategyID: req.StrategyID,
		Symbol:     req.Symbol,
		Interval:   req.Interval,
	})
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, b)
}

func (h *BotHandler) get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	b, err := h.Service.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, b)
}

func (h *BotHandler) delete(c *gin.Context) {
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

// @Summary Enable a bot
// @Description Starts wallet activation first when the wallet is not active; walletActivating is then true and the bot is enabled once activation succeeds.
// @Tags bots
// @Produce json
// @Param id path int true "bot id"
// @Success 200 {object} service.EnableResult
// @Failure 409 {object} errorResponse
// @Failure 422 {object} errorResponse
// @Router /api/bots/{id}/enable [post]
func (h *BotHandler) enable(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	res, err := h.Service.Enable(c.Request.Context(), userID(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, res)
}

// @Summary Disable a bot
// @Tags bots
// @Produce json
// @Param id path int true "bot id"
// @Success 200 {object} models.Bot
// @Router /api/bots/{id}/disable [post]
func (h *BotHandler) disable(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	b, err := h.Service.Disable(c.Request.Context(), userID(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, b)
}

// @Summary Bot enable/disable history
// @Tags bots
// @Produce json
// @Param id path int true "bot id"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Param action query string false "ENABLE or DISABLE"
// @Success 200 {object} service.HistoryPage
// @Router /api/bots/{id}/history [get]
func (h *BotHandler) history(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit, offset := page(c, 20, 100)
	action := strings.ToUpper(strings.TrimSpace(c.Query("action")))
	if action != "" && action != models.BotActionEnable && action != models.BotActionDisable {
		Error(c, invalid("action", "oneof"))
		return
	}
	res, err := h.Service.History(c.Request.Context(), userID(c), id, limit, offset, action)
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, res)
}

func (h *BotHandler) performance(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	res, err := h.Dashboard.Performance(c.Request.Context(), userID(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, res)
}

func (h *BotHandler) logs(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit, offset := page(c, 50, 200)
	res, err := h.Dashboard.Logs(c.Request.Context(), userID(c), id, limit, offset)
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, res)
}

// @Summary Stream new bot logs over a websocket
// @Description Sends each new log row as a JSON text message. Pass after to resume from a known log id.
// @Tags bots
// @Param id path int true "bot id"
// @Param after query int false "last seen log id"
// @Router /api/bots/{id}/logs/stream [get]
func (h *BotHandler) stream(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	tail, err := h.Dashboard.LogTail(c.Request.Context(), userID(c), id)
	if err != nil {
		Error(c, err)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		h.log().Warn("log stream accept failed", zap.Uint64("bot_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(c.Request.Context())
	last, err := h.startAfter(ctx, c, tail)
	if err != nil {
		h.log().Warn("log stream start failed", zap.Uint64("bot_id", id), zap.Error(err))
		conn.Close(websocket.StatusInternalError, "log read failed")
		return
	}

	err = h.pump(ctx, conn, tail, last)
	switch {
	case err == nil, errors.Is(err, context.Canceled), websocket.CloseStatus(err) != -1:
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		h.log().Warn("log stream stopped", zap.Uint64("bot_id", id), zap.Error(err))
		conn.Close(websocket.StatusInternalError, "log read failed")
	}
}

func (h *BotHandler) startAfter(ctx context.Context, c *gin.Context, tail *service.LogTail) (uint64, error) {
	if raw := c.Query("after"); raw != "" {
		if after, err := strconv.ParseUint(raw, 10, 64); err == nil {
			return after, nil
		}
	}
	return tail.Latest(ctx)
}

// pump polls the tail and writes rows until the client goes away.
func (h *BotHandler) pump(ctx context.Context, conn *websocket.Conn, tail *service.LogTail, last uint64) error {
	every := h.PollInterval
	if every <= 0 {
		every = 2 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for {
			items, err := tail.Next(ctx, last, streamBatch)
			if err != nil {
				return err
			}
			for _, item := range items {
				if err := wsjson.Write(ctx, conn, item); err != nil {
					return err
				}
				last = item.ID
			}
			if len(items) < streamBatch {
				break
			}
		}
	}
}
