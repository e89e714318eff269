package app

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"qooqz/internal/config"
	"qooqz/internal/handlers"
	"qooqz/internal/pdf"
	"qooqz/internal/repositories"
	"qooqz/internal/routes"
	"qooqz/internal/services"
	"qooqz/internal/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	swaggerFiles "github.com/swaggo/files"
	"github.com/swaggo/gin-swagger"
	_ "qooqz/docs"
)

func Run() {
	cfg := config.LoadConfig()

	// === DB ===
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("Ошибка подключения к БД: ", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Ошибка закрытия БД: %v", err)
		}
	}()

	// === Repos ===
	userRepo := repositories.NewUserRepository(db)
	storeRepo := repositories.NewStoreRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	tokenRepo := repositories.NewVerificationTokenRepository(db)
	txRunner := repositories.NewTxRunner(db)

	// === Services ===
	emailService := services.NewEmailService(
		cfg.Email.SMTPHost,
		cfg.Email.SMTPPort,
		cfg.Email.SMTPUser,
		cfg.Email.SMTPPassword,
		cfg.Email.FromEmail,
	)

	certGen := pdf.NewCertificateGenerator(cfg.Files.RootDir, "assets/fonts/DejaVuSans.ttf")

	sessionService := services.NewSessionService(
		userRepo,
		sessionRepo,
		time.Duration(cfg.Session.TTLHours)*time.Hour,
	)
	binder := services.NewSessionBinder(sessionRepo)
	hasher := utils.NewCodeHasher(cfg.Verification.BcryptCost)

	activationService := services.NewActivationService(userRepo, storeRepo, txRunner, emailService, certGen)

	// WhatsApp шлюз из конфига
	waClient := utils.NewWhatsAppClient(
		cfg.WhatsApp.APIKey,
		cfg.WhatsApp.SenderID,
		cfg.WhatsApp.BaseURL,
		cfg.WhatsApp.DryRun,
	)
	delivery := services.NewWhatsAppDelivery(waClient)

	// Telegram — дополнительный канал, включается конфигом
	var notifier services.CodeNotifier
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		notifier, err = services.NewTelegramNotifier(cfg.Telegram.BotToken)
		if err != nil {
			log.Printf("Telegram notifier disabled: %v", err)
			notifier = nil
		}
	}

	secret := []byte(cfg.Verification.Secret)
	issuer := services.NewTokenIssuer(
		tokenRepo,
		userRepo,
		binder,
		hasher,
		delivery,
		notifier,
		secret,
		cfg.Verification.LinkBaseURL,
	)
	verifier := services.NewVerifier(tokenRepo, binder, hasher, activationService, txRunner)

	// === Handlers ===
	authHandler := handlers.NewAuthHandler(sessionService)
	tokenHandler := handlers.NewTokenHandler(issuer)
	verifyHandler := handlers.NewVerifyHandler(verifier, tokenRepo, secret)

	// === Gin ===
	router := gin.Default()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// Swagger
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	routes.SetupRoutes(
		router,
		authHandler,
		tokenHandler,
		verifyHandler,
		sessionService,
	)

	// === Run ===
	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Сервер запущен на %s", listenAddr)
	if err := router.Run(listenAddr); err != nil {
		log.Fatal("Ошибка запуска сервера: ", err)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
