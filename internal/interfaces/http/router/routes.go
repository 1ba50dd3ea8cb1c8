package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/sebastiansabo/autoworld-crawl/docs"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/auth"
	"github.com/sebastiansabo/autoworld-crawl/internal/interfaces/http/handler"
	"github.com/sebastiansabo/autoworld-crawl/internal/interfaces/http/middleware"
)

// SwaggerPath serves the API documentation outside the versioned API
const SwaggerPath = "/swagger/*any"

// Guard returns the handlers that protect a route requiring scope
type Guard func(scope string) []gin.HandlerFunc

// Open is the guard used when trigger auth is disabled
func Open() Guard {
	return func(string) []gin.HandlerFunc { return nil }
}

// JWTGuard authenticates bearer tokens and checks the route scope
func JWTGuard(validator middleware.TokenValidator, l *zap.Logger) Guard {
	authenticate := middleware.JWTAuthMiddleware(validator, l)
	return func(scope string) []gin.HandlerFunc {
		return []gin.HandlerFunc{authenticate, middleware.RequireScope(scope)}
	}
}

// SyncRoutes are the run trigger and mapping administration routes
func SyncRoutes(h *handler.SyncHandler) Group {
	return Group{
		Prefix: "/sync",
		Routes: []Route{
			{Method: http.MethodPost, Path: "/runs", Scope: auth.ScopeSyncRun, Handler: h.RunBatch},
			{Method: http.MethodGet, Path: "/mappings/:key", Scope: auth.ScopeMappingsAdmin, Handler: h.GetMapping},
			{Method: http.MethodDelete, Path: "/mappings/:key", Scope: auth.ScopeMappingsAdmin, Handler: h.DeleteMapping},
		},
	}
}

// SystemRoutes are the runtime information routes. The limiter snapshot is
// only exposed when stats is set.
func SystemRoutes(h *handler.SystemHandler, stats bool) Group {
	g := Group{
		Prefix: "/system",
		Routes: []Route{{Method: http.MethodGet, Path: "/info", Handler: h.GetSystemInfo}},
	}
	if stats {
		g.Routes = append(g.Routes, Route{Method: http.MethodGet, Path: "/limiter", Handler: h.LimiterStats})
	}
	return g
}

// MountSwagger serves the generated API documentation behind protect
func MountSwagger(engine *gin.Engine, protect gin.HandlerFunc) {
	engine.GET(SwaggerPath, protect, ginSwagger.WrapHandler(swaggerFiles.Handler))
}
