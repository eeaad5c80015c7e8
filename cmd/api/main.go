package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"orgmessenger/internal/config"
	"orgmessenger/internal/delivery"
	"orgmessenger/internal/domain/chat"
	"orgmessenger/internal/domain/message"
	"orgmessenger/internal/domain/user"
	"orgmessenger/internal/fanout"
	"orgmessenger/internal/gateway"
	"orgmessenger/internal/handler"
	"orgmessenger/internal/middleware"
	"orgmessenger/internal/presence"
	"orgmessenger/internal/repository"
	"orgmessenger/internal/services"
	"orgmessenger/internal/storage"
	"orgmessenger/pkg/database"
	"orgmessenger/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(cfg.Server.Environment)
	logger.SetGlobalLogger(appLogger)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}

	if err := db.AutoMigrate(
		&user.User{},
		&chat.Group{},
		&chat.GroupMember{},
		&chat.Channel{},
		&chat.ChannelMember{},
		&message.Message{},
		&message.Attachment{},
		&message.ReadMarker{},
		&message.Reaction{},
	); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	// Presence mirror is best effort; the in-process registry stays the
	// authority when redis is absent.
	var mirror *presence.Mirror
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		appLogger.Warnf("redis unavailable, presence mirror disabled: %v", err)
	} else {
		mirror = presence.NewMirror(redisClient, 0)
	}

	userRepo := repository.NewUserRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)

	registry := presence.NewRegistry(userRepo, mirror, appLogger)
	tracker := delivery.NewTracker(messageRepo)
	router := fanout.NewRouter(registry, membershipRepo, appLogger)

	chatService := services.NewChatService(messageRepo, userRepo, membershipRepo, tracker, cfg.Messages, appLogger)
	conversationService := services.NewConversationService(messageRepo, userRepo, membershipRepo, appLogger)
	userService := services.NewUserService(userRepo)
	authService := services.NewAuthService(cfg.JWTSecret)

	var attachmentService *services.AttachmentService
	if cfg.S3.Bucket != "" {
		s3Client, err := storage.NewClient(context.Background(), cfg.S3)
		if err != nil {
			log.Fatalf("Failed to init attachment storage: %v", err)
		}
		attachmentService = services.NewAttachmentService(s3Client)
	}

	hub := gateway.NewHub(registry, tracker, router, chatService, gateway.Settings{
		WriteWait:  cfg.Websocket.WriteWait,
		PongWait:   cfg.Websocket.PongWait,
		SendBuffer: cfg.Websocket.SendBuffer,
	}, appLogger)
	go hub.Run(context.Background())

	wsHandler := gateway.NewHandler(hub, authService)
	chatHandler := handler.NewChatHandler(chatService, conversationService)
	userHandler := handler.NewUserHandler(userService)

	if cfg.Server.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware(appLogger))
	r.Use(middleware.ErrorHandler(appLogger))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	r.GET("/ws", wsHandler.Serve)

	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(authService))
	{
		api.GET("/chats", chatHandler.GetChats)
		api.GET("/messages", chatHandler.GetMessages)
		api.POST("/messages", chatHandler.Send)
		api.POST("/messages/read", chatHandler.MarkRead)
		api.GET("/settings/messages", chatHandler.Settings)
		api.GET("/me", userHandler.GetProfile)
		api.GET("/users/contacts", userHandler.Contacts)
		if attachmentService != nil {
			attachmentHandler := handler.NewAttachmentHandler(attachmentService)
			api.POST("/attachments/presign", attachmentHandler.Presign)
		}
	}

	appLogger.Infof("starting server on port %s", cfg.Server.Port)
	if err := r.Run(fmt.Sprintf(":%s", cfg.Server.Port)); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
