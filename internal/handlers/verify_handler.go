package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"qooqz/internal/middleware"
	"qooqz/internal/repositories"
	"qooqz/internal/services"
	"qooqz/internal/utils"
)

// Wire message codes. The contract is identical whether redemption
// arrives as manual code entry or as a signed-link click.
const (
	msgVerified           = "verified"
	msgCodeRequired       = "code_required"
	msgUserIDOrJTIMissing = "user_id_or_jti_required"
	msgTokenNotFound      = "token_not_found"
	msgTokenAlreadyUsed   = "token_already_used"
	msgTokenExpired       = "token_expired"
	msgInvalidCode        = "invalid_code"
	msgTooManyAttempts    = "too_many_attempts"
	msgNoActiveTokens     = "no_active_tokens"
	msgWrongSession       = "wrong_session"
	msgDBError            = "db_error"
	msgInvalidToken       = "invalid_token"
)

type VerifyHandler struct {
	Verifier services.Verifier
	Tokens   repositories.VerificationTokenRepository
	Secret   []byte
}

func NewVerifyHandler(verifier services.Verifier, tokens repositories.VerificationTokenRepository, secret []byte) *VerifyHandler {
	return &VerifyHandler{Verifier: verifier, Tokens: tokens, Secret: secret}
}

type verifyRequest struct {
	UserID       int    `json:"user_id"`
	JTI          string `json:"jti"`
	Code         string `json:"code"`
	SessionToken string `json:"session_token"`
}

// @Summary      Redeem a verification code
// @Description  Consumes a one-time code and activates the subject and its stores
// @Tags         Verification
// @Accept       json
// @Produce      json
// @Param        request  body      verifyRequest  true  "Code submission"
// @Success      200      {object}  map[string]interface{}
// @Failure      400      {object}  map[string]interface{}
// @Router       /verification/confirm [post]
func (h *VerifyHandler) Confirm(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": msgCodeRequired})
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": msgCodeRequired})
		return
	}
	if req.UserID == 0 && strings.TrimSpace(req.JTI) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": msgUserIDOrJTIMissing})
		return
	}

	sessionToken := req.SessionToken
	if sessionToken == "" {
		sessionToken = middleware.BearerToken(c)
	}

	ip, ua := clientMeta(c)
	h.verify(c, services.VerifyInput{
		Code:         strings.TrimSpace(req.Code),
		JTI:          strings.TrimSpace(req.JTI),
		UserID:       req.UserID,
		SessionToken: sessionToken,
		IP:           ip,
		UserAgent:    ua,
	})
}

type verifyLinkRequest struct {
	Token        string `json:"token" binding:"required"`
	SessionToken string `json:"session_token"`
}

// VerifyLink redeems a signed link: the embedded code goes through the
// exact same state machine as manual entry.
func (h *VerifyHandler) VerifyLink(c *gin.Context) {
	var req verifyLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": msgInvalidToken})
		return
	}

	claims, err := utils.DecodeLinkToken(req.Token, h.Secret)
	if err != nil {
		// one generic answer for malformed/forged/expired: no oracle
		log.Printf("[verify][link] decode failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": msgInvalidToken})
		return
	}

	sessionToken := req.SessionToken
	if sessionToken == "" {
		sessionToken = claims.SessionToken
	}

	ip, ua := clientMeta(c)
	h.verify(c, services.VerifyInput{
		Code:         claims.Code,
		JTI:          claims.ID,
		UserID:       claims.UserID,
		SessionToken: sessionToken,
		IP:           ip,
		UserAgent:    ua,
	})
}

// PrefillLink decodes a signed link without side effects so the client
// can pre-fill the confirmation form. It never marks a token used.
func (h *VerifyHandler) PrefillLink(c *gin.Context) {
	claims, err := utils.DecodeLinkToken(c.Param("token"), h.Secret)
	if err != nil {
		log.Printf("[verify][prefill] decode failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": msgInvalidToken})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user_id": claims.UserID,
		"jti":     claims.ID,
		"code":    claims.Code,
	})
}

// History lists the append-only issuance trail for a subject. The
// route runs behind AuthMiddleware; the trail is only served to the
// subject it belongs to.
func (h *VerifyHandler) History(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user_id"})
		return
	}
	authID, ok := getIntFromCtx(c, "user_id")
	if !ok || authID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	tokens, err := h.Tokens.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch tokens"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (h *VerifyHandler) verify(c *gin.Context, in services.VerifyInput) {
	res, err := h.Verifier.Verify(c.Request.Context(), in)
	if err != nil {
		status, body := verifyErrorResponse(err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msgVerified, "user_id": res.UserID})
}

func verifyErrorResponse(err error) (int, gin.H) {
	var ice *services.InvalidCodeError
	switch {
	case errors.Is(err, services.ErrTokenNotFound):
		return http.StatusNotFound, gin.H{"success": false, "message": msgTokenNotFound}
	case errors.Is(err, services.ErrNoActiveTokens):
		return http.StatusNotFound, gin.H{"success": false, "message": msgNoActiveTokens}
	case errors.Is(err, services.ErrTokenAlreadyUsed):
		return http.StatusBadRequest, gin.H{"success": false, "message": msgTokenAlreadyUsed}
	case errors.Is(err, services.ErrTokenExpired):
		return http.StatusBadRequest, gin.H{"success": false, "message": msgTokenExpired}
	case errors.Is(err, services.ErrWrongSession):
		return http.StatusForbidden, gin.H{"success": false, "message": msgWrongSession}
	case errors.Is(err, services.ErrTooManyAttempts):
		return http.StatusTooManyRequests, gin.H{"success": false, "message": msgTooManyAttempts, "attempts": services.MaxConfirmAttempts}
	case errors.As(err, &ice):
		return http.StatusBadRequest, gin.H{"success": false, "message": msgInvalidCode, "attempts": ice.Attempts}
	default:
		log.Printf("[verify] transient failure: %v", err)
		return http.StatusInternalServerError, gin.H{"success": false, "message": msgDBError}
	}
}
