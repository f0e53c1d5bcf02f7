package http

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"docchat/internal/bootstrap"
	"docchat/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), cors.New(corsConfig(app.Config.CORS.AllowOrigins)))

	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, probes(app)...)
	router.GET("/healthz", healthHandler.Check)

	var jobs handler.JobPublisher
	if app.Jobs != nil {
		jobs = app.Jobs
	}
	documentHandler := handler.NewDocumentHandler(app.Ingestion, app.Documents, jobs, app.Config.MaxUploadBytes())
	chatHandler := handler.NewChatHandler(app.Conversations)
	modelHandler := handler.NewModelHandler(app.Gateway)

	api := router.Group("/api")

	documents := api.Group("/documents")
	documents.POST("/upload", documentHandler.Upload)
	documents.GET("", documentHandler.List)
	documents.GET("/:id", documentHandler.Get)
	documents.GET("/:id/chunks", documentHandler.Chunks)
	documents.DELETE("/:id", documentHandler.Delete)

	api.POST("/chat/stream", chatHandler.Stream)
	api.GET("/conversations", chatHandler.ListConversations)
	api.GET("/conversations/:id/messages", chatHandler.Messages)
	api.GET("/models", modelHandler.List)

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"X-Conversation-Id"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func probes(app *bootstrap.App) []handler.Probe {
	list := []handler.Probe{{
		Name: "database",
		Check: func(ctx context.Context) error {
			sqlDB, err := app.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}
	if app.Redis != nil {
		list = append(list, handler.Probe{
			Name:  "redis",
			Check: func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() },
		})
	}
	if app.MQConn != nil {
		list = append(list, handler.Probe{
			Name: "rabbitmq",
			Check: func(context.Context) error {
				if app.MQConn.IsClosed() {
					return errors.New("connection closed")
				}
				return nil
			},
		})
	}
	list = append(list, handler.Probe{
		Name: "llm",
		Check: func(ctx context.Context) error {
			_, err := app.Gateway.ListModels(ctx)
			return err
		},
	})
	return list
}
