package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"qooqz/internal/middleware"
	"qooqz/internal/models"
	"qooqz/internal/services"
)

type AuthHandler struct {
	sessions services.SessionService
}

func NewAuthHandler(sessions services.SessionService) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// @Summary      Log in
// @Description  Authenticates by phone and password and opens a session
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        login  body      models.LoginRequest  true  "Credentials"
// @Success      200    {object}  map[string]interface{}
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Router       /login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	phone := strings.TrimSpace(req.Phone)
	log.Printf("[auth][login] attempt phone=%q", phone)

	ip, ua := clientMeta(c)
	token, sess, err := h.sessions.Login(c.Request.Context(), phone, req.Password, ip, ua)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid phone or password"})
			return
		}
		log.Printf("[auth][login] failed phone=%q err=%v", phone, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Login successful",
		"user_id":       sess.UserID,
		"session_token": token, // значение отдаём клиенту, но не логируем
		"expires_at":    sess.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	token := middleware.BearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid Authorization header"})
		return
	}
	if err := h.sessions.Logout(c.Request.Context(), token); err != nil {
		if errors.Is(err, services.ErrSessionInvalid) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}
