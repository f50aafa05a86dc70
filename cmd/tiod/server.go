package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/twinleaf/tio/pkg/common"
	"github.com/twinleaf/tio/pkg/dlq"
	"github.com/twinleaf/tio/pkg/eventlog"
	"github.com/twinleaf/tio/pkg/ratelimit"
)

// statusAPI serves the read-only HTTP surface of the daemon.
type statusAPI struct {
	srv *http.Server
}

// setupRouter creates the Gin router and registers middleware and handlers.
func setupRouter(cfg *common.Config, state *daemonState, drops *dlq.Capture, journal *eventlog.Journal) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = os.Stderr
	gin.DefaultErrorWriter = os.Stderr

	router := gin.New()
	router.Use(gin.RecoveryWithWriter(os.Stderr))
	router.Use(cors.Default())

	limiter := ratelimit.NewClientLimiter(cfg.Status.RateTokens,
		time.Duration(cfg.Status.RateRefillMs)*time.Millisecond)
	router.Use(func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				gin.H{"error": "rate limited"})
			return
		}
		c.Next()
	})

	api := router.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api.GET("/status", func(c *gin.Context) {
		snap := state.snapshot()
		snap["drops"] = drops.Stats()
		if journal != nil {
			snap["journal_shed"] = journal.Shed()
		}
		c.JSON(http.StatusOK, snap)
	})
	api.GET("/drops", func(c *gin.Context) {
		c.JSON(http.StatusOK, drops.Recent())
	})
	api.GET("/events", func(c *gin.Context) {
		if journal == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		records, err := journal.Recent(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, records)
	})
	api.GET("/events/export", func(c *gin.Context) {
		if journal == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
			return
		}
		c.Header("Content-Type", "application/zstd")
		c.Header("Content-Disposition", `attachment; filename="tiod-events.ndjson.zst"`)
		if err := journal.Export(c.Writer); err != nil {
			common.Warn("[TIOD] journal export failed: %v", err)
		}
	})

	return router
}

func startStatusAPI(cfg *common.Config, state *daemonState, drops *dlq.Capture, journal *eventlog.Journal) *statusAPI {
	router := setupRouter(cfg, state, drops, journal)
	srv := &http.Server{Addr: cfg.Status.Address, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			common.Error("[TIOD] status api failed: %v", err)
		}
	}()
	return &statusAPI{srv: srv}
}

// Shutdown stops the status server gracefully.
func (s *statusAPI) Shutdown(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		common.Warn("[TIOD] status api shutdown: %v", err)
	}
}
