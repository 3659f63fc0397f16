// Package main runs the live audience feedback HTTP server with WebSocket
// subscriptions and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roompulse/backend/config"
	"github.com/roompulse/backend/internal/feedback"
	"github.com/roompulse/backend/internal/middleware"
	"github.com/roompulse/backend/internal/presence"
	"github.com/roompulse/backend/internal/realtime"
	"github.com/roompulse/backend/internal/rooms"
	"github.com/roompulse/backend/pkg/database"
	"github.com/roompulse/backend/pkg/redis"
	"github.com/roompulse/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Redis is optional: without it the event bridge is local-only and the
	// rate limiter is off.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("redis disabled", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	var pub realtime.Publisher
	var sub realtime.Subscriber
	if rdb != nil {
		bridge := realtime.NewRedisPubSub(rdb.Client, logger)
		pub, sub = bridge, bridge
	}
	hub := realtime.NewHub(logger, pub, sub, uuid.NewString())

	tracker := presence.NewTracker(time.Duration(cfg.Presence.TTLSeconds)*time.Second, logger)
	tracker.SetChangeHandler(func(roomCode string, count int) {
		hub.Broadcast(roomCode, realtime.EventPresenceChanged, map[string]int{"count": count})
	})

	roomRepo := rooms.NewRepository(pool)
	roomHandler := rooms.NewHandler(roomRepo, logger)

	feedbackRepo := feedback.NewRepository(pool)
	feedbackHandler := feedback.NewHandler(feedbackRepo, roomRepo, hub, logger)

	presenceRepo := presence.NewRepository(pool)
	presenceHandler := presence.NewHandler(tracker, presenceRepo, roomRepo, logger)
	tracker.SetEvictHandler(func(roomCode, connectionID string) {
		logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := presenceRepo.LogLeave(logCtx, roomCode, connectionID); err != nil {
			logger.Warn("log evicted session", zap.Error(err))
		}
	})

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go tracker.Run(sweepCtx, time.Duration(cfg.Presence.SweepSeconds)*time.Second)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	router.POST("/rooms", roomHandler.Create)
	router.GET("/rooms/:code", roomHandler.Get)
	router.POST("/rooms/:code/join", roomHandler.Join)

	submitLimiter := middleware.RateLimit(rawClient(rdb), logger, "feedback",
		cfg.RateLimit.MaxPerWindow, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)
	router.POST("/rooms/:code/feedback", submitLimiter, feedbackHandler.Submit)
	router.GET("/rooms/:code/feedback", feedbackHandler.List)
	router.GET("/rooms/:code/summary", feedbackHandler.Summary)
	router.GET("/rooms/:code/presence", presenceHandler.Count)
	router.GET("/rooms/:code/attendees", presenceHandler.Attendees)

	// WebSocket subscribe (creator token in query; attendees pass none)
	router.GET("/ws", realtime.ServeWs(hub, realtime.Deps{
		GetRoom:      roomRepo.GetByCode,
		ListFeedback: feedbackRepo.ListByRoom,
		Tracker:      tracker,
		Sessions:     presenceRepo,
		Logger:       logger,
	}))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sweepCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func rawClient(rdb *redis.Client) *goredis.Client {
	if rdb == nil {
		return nil
	}
	return rdb.Client
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
