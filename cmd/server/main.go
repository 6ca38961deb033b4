package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/recallgraph/recallgraph/internal/memory"
	"github.com/recallgraph/recallgraph/internal/search"
	"github.com/recallgraph/recallgraph/internal/store"
	"github.com/recallgraph/recallgraph/pkg/config"
	"github.com/recallgraph/recallgraph/pkg/extraction"
	"github.com/recallgraph/recallgraph/pkg/logger"
)

func main() {
	// Load configuration first so the logger matches the environment
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	if err := logger.Init(cfg.Env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting knowledge graph server...")

	// Extraction is optional: without an endpoint the server still answers
	// gazetteer-backed searches and stats
	var extractor extraction.Extractor
	if cfg.LLMBaseURL != "" || cfg.LLMAPIKey != "" {
		extractor = extraction.NewOpenAIExtractor(extraction.OpenAIConfig{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.ModelID,
		})
		log.Info("Extractor configured", zap.String("model", cfg.ModelID))
	} else {
		log.Warn("No LLM endpoint configured; exchange ingestion is disabled")
	}

	registry := store.NewRegistry(cfg.DataDir)
	svc := memory.NewService(registry, extractor, log)
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error("Failed to close stores", zap.Error(err))
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(svc, cfg, log)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

func newRouter(svc *memory.Service, cfg *config.Config, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		// List known agents
		api.GET("/agents", func(c *gin.Context) {
			agents, err := svc.ListAgents()
			if err != nil {
				log.Error("Failed to list agents", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list agents"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"agents": agents})
		})

		// Aggregate stats for one agent
		api.GET("/agent/:id/stats", func(c *gin.Context) {
			stats, err := svc.Stats(c.Param("id"))
			if err != nil {
				log.Error("Failed to fetch stats", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stats"})
				return
			}
			c.JSON(http.StatusOK, stats)
		})

		// Retrieval query. A query that resolves to no entities returns an
		// empty result, not an error
		api.POST("/agent/:id/search", func(c *gin.Context) {
			var req struct {
				Query         string   `json:"query" binding:"required"`
				Limit         int      `json:"limit"`
				KnownEntities []string `json:"knownEntities"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			limit := req.Limit
			if limit <= 0 {
				limit = cfg.MaxResults
			}
			result, err := svc.Search(c.Request.Context(), req.Query, c.Param("id"), search.Options{
				Limit:             limit,
				KnownEntities:     req.KnownEntities,
				MinSharedEntities: cfg.MinSharedEntities,
				CooccurrenceBoost: cfg.CooccurrenceBoost,
			})
			if err != nil {
				log.Error("Search failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
				return
			}
			c.JSON(http.StatusOK, result)
		})

		// Everything stored about one entity
		api.GET("/agent/:id/entity/:name", func(c *gin.Context) {
			ctx, err := svc.EntityContext(c.Param("name"), c.Param("id"))
			if err != nil {
				log.Error("Entity context lookup failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Entity lookup failed"})
				return
			}
			if ctx == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
				return
			}
			c.JSON(http.StatusOK, ctx)
		})

		// Case-sensitive prefix search over canonical names
		api.GET("/agent/:id/entities", func(c *gin.Context) {
			prefix := c.Query("prefix")
			if prefix == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "prefix is required"})
				return
			}
			entities, err := svc.FindEntities(prefix, c.Param("id"), queryInt(c, "limit", 0))
			if err != nil {
				log.Error("Entity prefix search failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Entity search failed"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"entities": entities})
		})

		// Conjunctive triple filter
		api.GET("/agent/:id/triples", func(c *gin.Context) {
			triples, err := svc.Triples(c.Param("id"), store.TripleFilter{
				Subject:   c.Query("subject"),
				Predicate: c.Query("predicate"),
				Object:    c.Query("object"),
				Limit:     queryInt(c, "limit", 0),
			})
			if err != nil {
				log.Error("Triple query failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Triple query failed"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"triples": triples})
		})

		// Ingest one completed exchange
		api.POST("/agent/:id/exchange", func(c *gin.Context) {
			var req struct {
				ExchangeID string               `json:"exchangeId" binding:"required"`
				Date       string               `json:"date"`
				Messages   []extraction.Message `json:"messages" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			ids, err := svc.IngestExchange(c.Request.Context(), c.Param("id"), req.ExchangeID, req.Date, req.Messages)
			if err != nil {
				log.Error("Exchange ingestion failed",
					zap.String("exchange", req.ExchangeID),
					zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Ingestion failed"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"tripleIds": ids})
		})

		// Remove one exchange's triples ahead of re-extraction
		api.DELETE("/exchange/:id/triples", func(c *gin.Context) {
			agentID := c.Query("agent")
			if agentID == "" {
				agentID = store.DefaultAgentID
			}
			count, err := svc.DeleteExchange(agentID, c.Param("id"))
			if err != nil {
				log.Error("Exchange deletion failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Deletion failed"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"deleted": count})
		})
	}

	return router
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
