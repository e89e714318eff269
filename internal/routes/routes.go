package routes

import (
	"github.com/gin-gonic/gin"

	"qooqz/internal/handlers"
	"qooqz/internal/middleware"
)

func SetupRoutes(
	r *gin.Engine,
	authHandler *handlers.AuthHandler,
	tokenHandler *handlers.TokenHandler,
	verifyHandler *handlers.VerifyHandler,
	sessions middleware.SessionValidator,
) *gin.Engine {

	// ---- public
	r.POST("/login", authHandler.Login)
	r.POST("/logout", authHandler.Logout)

	verification := r.Group("/verification")
	{
		verification.POST("/send", tokenHandler.Send)
		verification.POST("/resend", tokenHandler.Resend)
		verification.POST("/confirm", verifyHandler.Confirm)
	}

	// signed-link redemption: same contract as manual entry
	r.GET("/verify/link/:token", verifyHandler.PrefillLink)
	r.POST("/verify/link", verifyHandler.VerifyLink)

	// ---- protected
	protected := r.Group("/", middleware.AuthMiddleware(sessions))
	{
		protected.GET("/verification/tokens/:user_id", verifyHandler.History)
	}

	return r
}
