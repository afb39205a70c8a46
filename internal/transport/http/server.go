package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/piyushsharma8821/scribbly-ai/internal/ai"
	appsvc "github.com/piyushsharma8821/scribbly-ai/internal/app"
	"github.com/piyushsharma8821/scribbly-ai/internal/bootstrap"
	"github.com/piyushsharma8821/scribbly-ai/internal/cache"
	rabbitmqClient "github.com/piyushsharma8821/scribbly-ai/internal/platform/rabbitmq"
	"github.com/piyushsharma8821/scribbly-ai/internal/repository"
	"github.com/piyushsharma8821/scribbly-ai/internal/transport/http/handler"
	"github.com/piyushsharma8821/scribbly-ai/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	cfg := app.Config
	userRepo := repository.NewUserRepository(app.MySQL)
	sessionRepo := repository.NewSessionRepository(app.MySQL)
	noteRepo := repository.NewNoteRepository(app.MySQL)

	guard := appsvc.NewAccessGuard(cfg.Auth.JWTSecret)
	authService := appsvc.NewAuthService(
		userRepo,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
	)
	noteService := appsvc.NewNoteService(
		noteRepo,
		rabbitmqClient.NewTagJobPublisher(app.MQConn, cfg.RabbitMQ.NoteTagQueue),
	)

	compactor := appsvc.NewCompactor(app.LLM, app.ChatConfig(), ai.Sampling{
		Temperature: cfg.Chat.SummaryTemperature,
		MaxTokens:   cfg.Chat.SummaryMaxTokens,
	})
	conversations := appsvc.NewConversationManager(
		sessionRepo,
		noteRepo,
		compactor,
		app.LLM,
		guard,
		appsvc.ConversationConfig{
			LLM:         app.ChatConfig(),
			MaxMessages: cfg.Chat.MaxMessages,
			KeepLast:    cfg.Chat.KeepLast,
			Reply: ai.Sampling{
				Temperature: cfg.Chat.ReplyTemperature,
				MaxTokens:   cfg.Chat.ReplyMaxTokens,
			},
			RequestTimeout: app.RequestTimeout(),
		},
		appsvc.WithHistoryCache(cache.NewHistoryCache(
			app.Redis,
			time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
			time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
		)),
		appsvc.WithSessionLocker(cache.NewSessionLocker(
			app.Redis,
			time.Duration(cfg.Chat.LockTTLSeconds)*time.Second,
			time.Duration(cfg.Chat.LockWaitMillis)*time.Millisecond,
		)),
	)

	authHandler := handler.NewAuthHandler(authService)
	chatHandler := handler.NewChatHandler(conversations)
	noteHandler := handler.NewNoteHandler(noteService)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(guard), authHandler.Me)

	chatGroup := v1.Group("/chat")
	chatGroup.Use(middleware.AuthJWT(guard))
	chatGroup.POST("/sessions", chatHandler.StartSession)
	chatGroup.GET("/sessions", chatHandler.ListSessions)
	chatGroup.GET("/sessions/:id", chatHandler.GetHistory)
	chatGroup.POST("/sessions/:id/messages", chatHandler.Continue)
	chatGroup.DELETE("/sessions/:id", chatHandler.DeleteSession)

	noteGroup := v1.Group("/notes")
	noteGroup.Use(middleware.AuthJWT(guard))
	noteGroup.POST("", noteHandler.Create)
	noteGroup.GET("", noteHandler.List)
	noteGroup.POST("/import", noteHandler.Import)
	noteGroup.GET("/:id", noteHandler.Get)
	noteGroup.PUT("/:id", noteHandler.Update)
	noteGroup.DELETE("/:id", noteHandler.Delete)

	v1.GET("/tags/top", middleware.AuthJWT(guard), noteHandler.TopTags)

	return router
}
