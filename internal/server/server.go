// Package server assembles the reference backend used for local development and end-to-end tests.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"meetsync/internal/config"
	"meetsync/internal/db"
	"meetsync/internal/handlers"
	"meetsync/internal/middleware"
	"meetsync/internal/models"
	"meetsync/internal/observability"
	"meetsync/internal/rabbitmq"
	"meetsync/internal/repositories"
	"meetsync/internal/telemetry"
	"meetsync/internal/ws"
)

// Deps are the stores and sinks the router is built from.
type Deps struct {
	Users         repositories.UserRepository
	Conversations repositories.ConversationRepository
	Messages      repositories.MessageRepository
	Questions     repositories.QuestionRepository
	Publisher     telemetry.Publisher
}

// MemoryDeps backs every repository with one in-memory store.
func MemoryDeps(users []string) Deps {
	mem := repositories.NewMemory()
	return Deps{
		Users:         repositories.NewStaticUsers(users),
		Conversations: mem,
		Messages:      mem,
		Questions:     mem,
	}
}

// NewRouter wires handlers and middleware.
func NewRouter(cfg config.Config, deps Deps) *gin.Engine {
	tokens := middleware.NewTokens(cfg.Server.JWTSecret, cfg.Server.TokenTTL)
	limiter := middleware.NewRateLimiter(cfg.Server.RatePerSecond, cfg.Server.RateBurst)

	var (
		auditEmitter *telemetry.AuditEmitter
		connEmitter  *telemetry.ConnEmitter
	)
	if deps.Publisher != nil {
		auditEmitter = telemetry.NewAuditEmitter(deps.Publisher, "audit.backend", cfg.Telemetry.Service, cfg.Telemetry.Environment)
		connEmitter = telemetry.NewConnEmitter(deps.Publisher, cfg.Telemetry.Service, cfg.Telemetry.Environment)
	}

	authHandler := handlers.NewAuthHandler(deps.Users, tokens, auditEmitter)
	messageHandler := handlers.NewMessageHandler(deps.Conversations, deps.Messages, auditEmitter)
	qaHandler := ws.NewQAWebSocketHandler(ws.NewHub(connEmitter), deps.Questions, tokens, connEmitter)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.Service))
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	router.POST("/auth/login", limiter.Middleware(), authHandler.Login)
	router.GET("/ws/meetings/:id/questions", qaHandler.Handle)

	api := router.Group("/", middleware.AuthMiddleware(tokens), limiter.Middleware())
	messageHandler.Register(api, "/chats", models.KindDirect)
	messageHandler.Register(api, "/groups", models.KindGroup)
	api.GET("/meetings/:id/token/", authHandler.VideoToken)

	return router
}

// Run serves the reference backend until ctx is cancelled. Postgres is used when
// server.dsn is set, otherwise everything lives in memory.
func Run(ctx context.Context, cfg config.Config) error {
	log := observability.Component("server")

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Telemetry.Service, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.WithError(err).Warn("tracing disabled")
	} else {
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	deps := MemoryDeps(cfg.Server.Users)
	if cfg.Server.DSN != "" {
		database, err := db.Connect(cfg.Server.DSN)
		if err != nil {
			return err
		}
		defer database.Close()
		deps.Conversations = repositories.NewConversationRepo(database)
		deps.Messages = repositories.NewMessageRepo(database)
		deps.Questions = repositories.NewQuestionRepo(database)
	}

	publisher := rabbitmq.NewPublisher(cfg.Telemetry.AMQPURL, cfg.Telemetry.Exchange)
	defer publisher.Close()
	deps.Publisher = publisher

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           NewRouter(cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("reference backend listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
