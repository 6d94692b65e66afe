package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"pmbots/internal/service"
)

type WalletHandler struct {
	Service *service.WalletService
}

type createWalletRequest struct {
	Name string `json:"name" validate:"max=64"`
}

type importWalletRequest struct {
	Name         string `json:"name" validate:"max=64"`
	EncryptedKey string `json:"encryptedKey" validate:"required"`
}

type renameWalletRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

type exportWalletRequest struct {
	PublicKey string `json:"publicKey" validate:"required"`
}

type exportWalletResponse struct {
	EncryptedKey string `json:"encryptedKey"`
}

type withdrawRequest struct {
	To     string          `json:"to" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *WalletHandler) Register(api *gin.RouterGroup, s *Schemas) {
	g := api.Group("/wallets")
	g.GET("", h.list)
	g.POST("", h.create)
	g.POST("/import", h.importKey)
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.rename)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/balance", h.balance)
	g.POST("/:id/export", h.export)
	g.POST("/:id/withdraw", h.withdraw)
	g.POST("/:id/activate", h.activate)

	Add[createWalletRequest](s, http.MethodPost, "/api/wallets")
	Add[importWalletRequest](s, http.MethodPost, "/api/wallets/import")
	Add[renameWalletRequest](s, http.MethodPatch, "/api/wallets/:id")
	Add[exportWalletRequest](s, http.MethodPost, "/api/wallets/:id/export")
	Add[withdrawRequest](s, http.MethodPost, "/api/wallets/:id/withdraw")
}

// @Summary List wallets with balances
// @Tags wallets
// @Produce json
// @Success 200 {array} service.WalletView
// @Router /api/wallets [get]
func (h *WalletHandler) list(c *gin.Context) {
	items, err := h.Service.List(c.Request.Context(), userID(c))
	if err != nil {
		Error(c, err)
		return
	}
	if items == nil {
		items = []service.WalletView{}
	}
	Ok(c, items)
}

// @Summary Generate a new custodial wallet
// @Tags wallets
// @Accept json
// @Produce json
// @Param body body createWalletRequest false "wallet"
// @Success 201 {object} service.WalletView
// @Router /api/wallets [post]
func (h *WalletHandler) create(c *gin.Context) {
	req := bodyOf[createWalletRequest](c)
	w, err := h.Service.Create(c.Request.Context(), userID(c), req.Name)
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, w)
}

// @Summary Import a private key wrapped with the session public key
// @Tags wallets
// @Accept json
// @Produce json
// @Param body body importWalletRequest true "wrapped key"
// @Success 201 {object} service.WalletView
// @Router /api/wallets/import [post]
func (h *WalletHandler) importKey(c *gin.Context) {
	req := bodyOf[importWalletRequest](c)
	w, err := h.Service.Import(c.Request.Context(), userID(c), service.ImportInput{
		Name:          req.Name,
		EncryptedKey:  req.EncryptedKey,
		SessionHandle: session(c),
	})
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, w)
}

func (h *WalletHandler) get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	w, err := h.Service.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, w)
}

func (h *WalletHandler) rename(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	req := bodyOf[renameWalletRequest](c)
	w, err := h.Service.Rename(c.Request.Context(), userID(c), id, req.Name)
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, w)
}

// @Summary Delete a wallet without bots
// @Tags wallets
// @Param id path int true "wallet id"
// @Success 204
// @Router /api/wallets/{id} [delete]
func (h *WalletHandler) delete(c *gin.Context) {
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

func (h *WalletHandler) balance(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	b, err := h.Service.Balance(c.Request.Context(), userID(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, b)
}

// @Summary Export the private key wrapped with the caller's public key
// @Tags wallets
// @Accept json
// @Produce json
// @Param id path int true "wallet id"
// @Param body body exportWalletRequest true "client public key"
// @Success 200 {object} exportWalletResponse
// @Router /api/wallets/{id}/export [post]
func (h *WalletHandler) export(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	req := bodyOf[exportWalletRequest](c)
	ct, err := h.Service.Export(c.Request.Context(), userID(c), id, req.PublicKey)
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, exportWalletResponse{EncryptedKey: ct})
}

// @Summary Withdraw collateral to an external address
// @Tags wallets
// @Accept json
// @Produce json
// @Param id path int true "wallet id"
// @Param body body withdrawRequest true "destination and amount"
// @Success 200 {object} service.WithdrawResult
// @Router /api/wallets/{id}/withdraw [post]
func (h *WalletHandler) withdraw(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	req := bodyOf[withdrawRequest](c)
	res, err := h.Service.Withdraw(c.Request.Context(), userID(c), id, service.WithdrawInput{To: req.To, Amount: req.Amount})
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, res)
}

// activate starts deployment in the background and returns the wallet in
// its DEPLOYING state.
func (h *WalletHandler) activate(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	w, err := h.Service.Activate(c.Request.Context(), userID(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusAccepted, w)
}
