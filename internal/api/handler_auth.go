package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"locker-kiosk-backend/internal/auth"
)

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// Login handles POST /api/admin/login and returns a bearer token.
func (h *Handler) Login(c *gin.Context) {
	if h.admin.PasswordHash == "" || h.admin.JWTSecret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin access is not configured"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}

	if err := auth.CheckPassword(h.admin.PasswordHash, req.Password); err != nil {
		h.logger.Warn().Str("client_ip", c.ClientIP()).Msg("failed admin login")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}

	token, err := auth.GenerateToken(h.admin.JWTSecret, h.admin.TokenTTL)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresIn": int(h.admin.TokenTTL.Seconds())})
}
