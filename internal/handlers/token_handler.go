package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"qooqz/internal/middleware"
	"qooqz/internal/services"
)

type TokenHandler struct {
	Issuer services.TokenIssuer
}

func NewTokenHandler(issuer services.TokenIssuer) *TokenHandler {
	return &TokenHandler{Issuer: issuer}
}

type issueRequest struct {
	UserID       int    `json:"user_id"`
	Phone        string `json:"phone"`
	Username     string `json:"username"`
	Channel      string `json:"channel"`
	TTL          int    `json:"ttl"`
	Origin       string `json:"origin"`
	UserTZ       string `json:"user_tz"`
	SessionToken string `json:"session_token"`
}

// @Summary      Issue a verification code
// @Description  Creates a one-time code for the subject and delivers it out of band. Supersedes prior unused codes.
// @Tags         Verification
// @Accept       json
// @Produce      json
// @Param        request  body      issueRequest  true  "Issue request"
// @Success      200      {object}  map[string]interface{}
// @Failure      400      {object}  map[string]interface{}
// @Failure      429      {object}  map[string]interface{}
// @Router       /verification/send [post]
func (h *TokenHandler) Send(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid_request"})
		return
	}
	if req.UserID == 0 && strings.TrimSpace(req.Phone) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "user_id_or_phone_required"})
		return
	}

	sessionToken := req.SessionToken
	if sessionToken == "" {
		sessionToken = middleware.BearerToken(c)
	}

	ip, ua := clientMeta(c)
	res, err := h.Issuer.Issue(c.Request.Context(), services.IssueInput{
		UserID:       req.UserID,
		Phone:        strings.TrimSpace(req.Phone),
		Username:     req.Username,
		Channel:      req.Channel,
		TTLSeconds:   req.TTL,
		Origin:       req.Origin,
		UserTZ:       req.UserTZ,
		SessionToken: sessionToken,
		IP:           ip,
		UserAgent:    ua,
	})
	if err != nil {
		status, body := issueErrorResponse(err)
		c.JSON(status, body)
		return
	}

	// The raw code (and the signed link that embeds it) only travels
	// through the delivery channel, never back in this response.
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "code_sent",
		"jti":        res.JTI,
		"channel":    res.Channel,
		"expires_at": res.ExpiresAt,
	})
}

// Resend issues a fresh code; the issuer already supersedes prior
// unused codes and throttles repeat sends.
func (h *TokenHandler) Resend(c *gin.Context) {
	h.Send(c)
}

func issueErrorResponse(err error) (int, gin.H) {
	switch {
	case errors.Is(err, services.ErrResendThrottled):
		return http.StatusTooManyRequests, gin.H{"success": false, "message": "resend_throttled"}
	case errors.Is(err, services.ErrUserNotFound):
		return http.StatusNotFound, gin.H{"success": false, "message": "user_not_found"}
	case errors.Is(err, services.ErrInvalidChannel):
		return http.StatusBadRequest, gin.H{"success": false, "message": "invalid_channel"}
	case errors.Is(err, services.ErrSessionInvalid):
		return http.StatusBadRequest, gin.H{"success": false, "message": "session_invalid"}
	default:
		log.Printf("[issue] transient failure: %v", err)
		return http.StatusInternalServerError, gin.H{"success": false, "message": msgDBError}
	}
}
