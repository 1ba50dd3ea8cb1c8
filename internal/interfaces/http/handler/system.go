package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/logger"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/ratelimit"
	"github.com/sebastiansabo/autoworld-crawl/internal/interfaces/http/dto"
)

// Version is reported by /system/info
const Version = "1.0.0"

// healthTimeout bounds the dependency probes of /health
const healthTimeout = 3 * time.Second

// Pinger checks a dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// MappingCounter reports the number of stored identity mappings
type MappingCounter interface {
	CountMappings(ctx context.Context) (int64, error)
}

// LimiterStatser exposes outbound limiter activity
type LimiterStatser interface {
	Stats() ratelimit.Stats
}

// SystemHandler serves health and runtime information
type SystemHandler struct {
	BaseHandler
	name      string
	startTime time.Time
	database  Pinger
	mappings  MappingCounter
	limiter   LimiterStatser
	checks    map[string]Pinger
}

// SystemOption configures a SystemHandler
type SystemOption func(*SystemHandler)

// WithDependency adds a named dependency probed by /health, such as redis or
// the record source bucket.
func WithDependency(name string, p Pinger) SystemOption {
	return func(h *SystemHandler) {
		h.checks[name] = p
	}
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(name string, database Pinger, mappings MappingCounter, limiter LimiterStatser, opts ...SystemOption) *SystemHandler {
	h := &SystemHandler{
		name:      name,
		startTime: time.Now(),
		database:  database,
		mappings:  mappings,
		limiter:   limiter,
		checks:    make(map[string]Pinger),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string            `json:"status"`
	Database string            `json:"database"`
	Mappings int64             `json:"mappings"`
	Checks   map[string]string `json:"checks,omitempty"`
	Uptime   string            `json:"uptime"`
}

// Health handles GET /health. Any failed probe answers 503.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:   "healthy",
		Database: "ok",
		Uptime:   time.Since(h.startTime).Round(time.Second).String(),
	}
	status := http.StatusOK
	l := logger.GetGinLogger(c)

	if h.database != nil {
		if err := h.database.Ping(ctx); err != nil {
			l.Warn("Health check failed", zap.String("dependency", "database"), zap.Error(err))
			resp.Database = err.Error()
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	if h.mappings != nil && status == http.StatusOK {
		n, err := h.mappings.CountMappings(ctx)
		if err != nil {
			l.Warn("Health check failed", zap.String("dependency", "mappings"), zap.Error(err))
			resp.Database = err.Error()
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
		resp.Mappings = n
	}
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
		for name, p := range h.checks {
			if err := p.Ping(ctx); err != nil {
				l.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
				resp.Checks[name] = err.Error()
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	if status != http.StatusOK {
		c.JSON(status, dto.NewPartialResponse(resp, dto.ErrCodeStorage, "dependency check failed", getRequestID(c)))
		return
	}
	h.Success(c, resp)
}

// LimiterStatsResponse is the body of GET /system/limiter
type LimiterStatsResponse struct {
	Dispatched    int64     `json:"dispatched"`
	InFlight      int64     `json:"in_flight"`
	PeakInFlight  int64     `json:"peak_in_flight"`
	MaxConcurrent int       `json:"max_concurrent"`
	MinIntervalMs int64     `json:"min_interval_ms"`
	TotalWaitMs   int64     `json:"total_wait_ms"`
	LastDispatch  time.Time `json:"last_dispatch,omitempty"`
}

// LimiterStats godoc
// @ID           getSystemLimiter
// @Summary      Get outbound limiter stats
// @Description  Returns dispatch counters and bounds of the catalog call limiter
// @Tags         system
// @Produce      json
// @Success      200 {object} dto.Response{data=LimiterStatsResponse}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /system/limiter [get]
func (h *SystemHandler) LimiterStats(c *gin.Context) {
	if h.limiter == nil {
		h.NotFound(c, "limiter is not configured")
		return
	}
	s := h.limiter.Stats()
	h.Success(c, LimiterStatsResponse{
		Dispatched:    s.Dispatched,
		InFlight:      s.InFlight,
		PeakInFlight:  s.PeakInFlight,
		MaxConcurrent: s.MaxConcurrent,
		MinIntervalMs: s.MinInterval.Milliseconds(),
		TotalWaitMs:   s.TotalWait.Milliseconds(),
		LastDispatch:  s.LastDispatch,
	})
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	Uptime     string `json:"uptime"`
}

// GetSystemInfo godoc
// @ID           getSystemInfo
// @Summary      Get system information
// @Description  Returns the service name, version and runtime details
// @Tags         system
// @Produce      json
// @Success      200 {object} dto.Response{data=SystemInfoResponse}
// @Router       /system/info [get]
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	h.Success(c, SystemInfoResponse{
		Name:       h.name,
		Version:    Version,
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
	})
}
