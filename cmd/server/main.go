package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wordimposter/backend/internal/auth"
	"wordimposter/backend/internal/config"
	"wordimposter/backend/internal/database"
	"wordimposter/backend/internal/game"
	"wordimposter/backend/internal/handler"
	"wordimposter/backend/internal/hub"
	"wordimposter/backend/internal/room"
	"wordimposter/backend/internal/session"
	"wordimposter/backend/internal/store"
	"wordimposter/backend/internal/ws"

	"github.com/gin-gonic/gin"

	// Swagger imports
	_ "wordimposter/backend/docs" // This is important for swag to find the generated docs

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func init() {
	config.LoadConfig()
}

// @title           Word Imposter API
// @version         1.0
// @description     This is the API for the word imposter game service.
// @host            localhost:8080
// @BasePath        /api/v1
// @securityDefinitions.apiKey BearerAuth
// @in header
// @name Authorization
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Pick the backing store. Without a DATABASE_URL the server runs
	// entirely in memory, which is enough for local play.
	var st store.Store
	if config.AppConfig.DatabaseURL != "" {
		database.Connect(config.AppConfig.DatabaseURL)
		st = store.NewGorm(database.DB)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		st = store.NewMemory()
	}

	registry := session.NewRegistry(st, logger)
	h := hub.NewHub(logger)

	rooms := room.NewManager(st, registry, h, room.Settings{
		MinCapacity:    config.AppConfig.MinRoomCapacity,
		MaxCapacity:    config.AppConfig.MaxRoomCapacity,
		ReconnectGrace: config.AppConfig.ReconnectGrace,
		RoomReapAfter:  config.AppConfig.RoomReapAfter,
		GameRetention:  config.AppConfig.GameRetention,
	}, logger)

	games := game.NewMachine(st, h, rooms, game.Config{
		MinPlayers:         config.AppConfig.MinRoomCapacity,
		DiscussionDuration: config.AppConfig.DiscussionDuration,
		VotingDuration:     config.AppConfig.VotingDuration,
	}, logger, nil)

	wsServer := ws.NewServer(st, registry, rooms, games, h, logger)
	roomHandler := handler.NewRoomHandler(rooms, st, registry)

	router := gin.Default()

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check endpoint
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	{
		// Auth routes
		authRoutes := apiV1.Group("/auth")
		{
			authRoutes.POST("/register", handler.RegisterUser)
			authRoutes.POST("/login", handler.LoginUser)
		}

		// User routes (protected)
		userRoutes := apiV1.Group("/users")
		userRoutes.Use(auth.AuthMiddleware())
		{
			userRoutes.GET("/me", handler.GetMe)
		}

		// Room routes
		roomRoutes := apiV1.Group("/rooms")
		{
			roomRoutes.GET("", auth.OptionalAuthMiddleware(), roomHandler.ListRooms)
			roomRoutes.GET("/:code", auth.OptionalAuthMiddleware(), roomHandler.GetRoomByCode)
			roomRoutes.POST("", auth.AuthMiddleware(), roomHandler.CreateRoom)
		}

		apiV1.GET("/stats", auth.AuthMiddleware(), roomHandler.SessionStats)
	}

	// Game connections run over websocket; the token may come from the
	// Authorization header or a ?token= query parameter.
	router.GET("/ws", auth.AuthMiddleware(), wsServer.Handle)

	addr := fmt.Sprintf(":%d", config.AppConfig.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		fmt.Printf("Server is running on %s\n", addr)
		fmt.Printf("Swagger UI is available at http://localhost%s/swagger/index.html\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", "error", err)
	}

	wsServer.Stop()
	games.Stop()
	rooms.Stop()
}
