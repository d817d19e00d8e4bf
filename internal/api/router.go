// Package api implements the HTTP/WS surface: synchronous scoring,
// dashboard/visualization read endpoints, health, metrics, and the alert
// websocket. The route layout follows a gin route-groups, permissive-by-
// default CORS middleware, static dashboard serving shape, with
// authentication intentionally left out and the rate limiter kept as
// ambient (non-auth) protection.
package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rawblock/fraudmesh/internal/alert"
	"github.com/rawblock/fraudmesh/internal/analyzer"
	"github.com/rawblock/fraudmesh/internal/config"
	flog "github.com/rawblock/fraudmesh/internal/log"
	"github.com/rawblock/fraudmesh/internal/worker"
)

// Handler holds every dependency the HTTP surface reads from. Nil
// dependencies degrade their endpoints to 503 rather than panicking.
type Handler struct {
	pool          *worker.Pool
	broadcaster   *alert.Broadcaster
	analytics     *Analytics
	analyzer      *analyzer.Analyzer
	alertsDropped *worker.Counter
	cfg           config.Config
}

// NewHandler constructs the API handler. analytics may be nil if the
// graph store DSN was not configured, in which case the read-aggregate
// endpoints return 503.
func NewHandler(pool *worker.Pool, broadcaster *alert.Broadcaster, analytics *Analytics, az *analyzer.Analyzer, metrics *worker.Metrics, cfg config.Config) *Handler {
	h := &Handler{pool: pool, broadcaster: broadcaster, analytics: analytics, analyzer: az, cfg: cfg}
	if metrics != nil {
		h.alertsDropped = metrics.AlertsDropped
	}
	return h
}

// SetupRouter builds the gin engine with every route the engine exposes.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	// CORS — configurable via ALLOWED_ORIGINS, permissive by default.
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	r.GET("/health", h.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/alerts", h.subscribeAlerts)

	limiter := NewRateLimiter(60, 10)
	v1 := r.Group("/")
	v1.Use(limiter.Middleware())
	{
		v1.POST("/transaction", h.handleScoreTransaction)
		v1.GET("/dashboard/stats", h.handleDashboardStats)
		v1.GET("/viz/fraud-network", h.handleFraudNetwork)
		v1.GET("/viz/device-sharing", h.handleDeviceSharing)
		v1.GET("/analytics/status", h.handleAnalyticsStatus)
		v1.GET("/analytics/collusion", h.handleCollusionCache)
		v1.GET("/db/counts", h.handleDBCounts)
	}

	r.Static("/dashboard", "./public")

	return r
}

// handleHealth reports liveness and per-dependency readiness flags.
func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "operational",
		"engine":            "fraudmesh",
		"analytics_ready":   h.analytics != nil,
		"broadcaster_ready": h.broadcaster != nil,
	})
}

// handleScoreTransaction is POST /transaction: synchronous scoring
// for an external caller, identical semantics to the worker-path
// scoring minus the ACK step.
func (h *Handler) handleScoreTransaction(c *gin.Context) {
	if h.pool == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "worker pool not initialized"})
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	scored, _, err := h.pool.ProcessPayload(c.Request.Context(), body)
	if err != nil {
		flog.For("api").Warn().Err(err).Msg("synchronous scoring failed")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if h.broadcaster != nil && scored != nil {
		h.broadcaster.PublishScored(*scored, h.cfg.Thresholds.Medium)
	}
	c.JSON(http.StatusOK, scored)
}

func (h *Handler) handleDashboardStats(c *gin.Context) {
	if h.analytics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics database not connected"})
		return
	}
	stats, err := h.analytics.DashboardStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) handleDBCounts(c *gin.Context) {
	if h.analytics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics database not connected"})
		return
	}
	counts, err := h.analytics.DBCounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *Handler) handleFraudNetwork(c *gin.Context) {
	if h.analytics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics database not connected"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	nodes, edges, err := h.analytics.FraudNetwork(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes, "edges": edges})
}

func (h *Handler) handleDeviceSharing(c *gin.Context) {
	if h.analytics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics database not connected"})
		return
	}
	minAccounts, _ := strconv.Atoi(c.DefaultQuery("min_accounts", "2"))
	if minAccounts < 1 {
		minAccounts = 2
	}
	rows, err := h.analytics.DeviceSharing(c.Request.Context(), minAccounts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": rows})
}

// handleAnalyticsStatus reports the live scoring configuration, useful for
// a dashboard to display which thresholds and weights are in effect.
func (h *Handler) handleAnalyticsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"worker_count":     h.cfg.WorkerCount,
		"batch_size":       h.cfg.WorkerBatchSize,
		"soft_deadline_ms": h.cfg.SoftDeadline / time.Millisecond,
		"weights":          h.cfg.Weights,
		"thresholds":       h.cfg.Thresholds,
		"subscriber_count": subscriberCount(h.broadcaster),
	})
}

// handleCollusionCache exposes the batch analyzer's current collusion
// snapshot: cluster and flags per account plus the cumulative
// failed-cycle counter so an operator can see whether the cache is
// actively refreshing.
func (h *Handler) handleCollusionCache(c *gin.Context) {
	if h.analyzer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "batch analyzer not running"})
		return
	}
	snap := h.analyzer.Cache().Load()
	c.JSON(http.StatusOK, gin.H{
		"generated_at":  snap.GeneratedAt,
		"accounts":      snap.ByAccount,
		"failed_cycles": h.analyzer.Cache().FailedCycles(),
	})
}

func subscriberCount(b *alert.Broadcaster) int {
	if b == nil {
		return 0
	}
	return b.SubscriberCount()
}
