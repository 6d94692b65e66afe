package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"pmbots/internal/keywrap"
)

type KeysHandler struct {
	Sessions *keywrap.SessionKeys
}

type publicKeyResponse struct {
	PublicKey string    `json:"publicKey"`
	Algorithm string    `json:"algorithm"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *KeysHandler) Register(api *gin.RouterGroup) {
	api.GET("/keys/public", h.publicKey)
}

// @Summary Session public key for wallet import
// @Tags keys
// @Produce json
// @Success 200 {object} publicKeyResponse
// @Router /api/keys/public [get]
func (h *KeysHandler) publicKey(c *gin.Context) {
	pub, expires, err := h.Sessions.PublicKey(c.Request.Context(), session(c))
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, publicKeyResponse{PublicKey: pub, Algorithm: "RSA-OAEP-256", ExpiresAt: expires})
}
