// Package router assembles the gin engine of the sync trigger API.
package router

import (
	"path"

	"github.com/gin-gonic/gin"
)

// Route is one endpoint of the trigger API. Scope names the token scope the
// route requires when trigger auth is enabled; an empty scope is public.
type Route struct {
	Method  string
	Path    string
	Scope   string
	Handler gin.HandlerFunc
}

// Group is a set of routes mounted under a common prefix
type Group struct {
	Prefix     string
	Middleware []gin.HandlerFunc
	Routes     []Route
}

// Router mounts route groups under /api/{version}
type Router struct {
	engine  *gin.Engine
	version string
	guard   Guard
	groups  []Group
}

// Option configures a Router
type Option func(*Router)

// WithAPIVersion sets the version segment of the API prefix
func WithAPIVersion(version string) Option {
	return func(r *Router) { r.version = version }
}

// WithGuard sets the guard applied to scoped routes
func WithGuard(g Guard) Option {
	return func(r *Router) { r.guard = g }
}

// NewRouter creates a Router for engine. Without WithGuard every route is
// open.
func NewRouter(engine *gin.Engine, opts ...Option) *Router {
	r := &Router{engine: engine, version: "v1", guard: Open()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mount queues groups for Setup
func (r *Router) Mount(groups ...Group) *Router {
	r.groups = append(r.groups, groups...)
	return r
}

// Setup registers every mounted group on the engine
func (r *Router) Setup() {
	api := r.engine.Group(r.Base())
	for _, g := range r.groups {
		rg := api.Group(g.Prefix, g.Middleware...)
		for _, rt := range g.Routes {
			handlers := []gin.HandlerFunc{rt.Handler}
			if rt.Scope != "" {
				handlers = append(r.guard(rt.Scope), rt.Handler)
			}
			rg.Handle(rt.Method, rt.Path, handlers...)
		}
	}
}

// Base is the versioned API prefix
func (r *Router) Base() string {
	return "/api/" + r.version
}

// Paths lists "METHOD /full/path" for every mounted route
func (r *Router) Paths() []string {
	var out []string
	for _, g := range r.groups {
		for _, rt := range g.Routes {
			out = append(out, rt.Method+" "+path.Join(r.Base(), g.Prefix, rt.Path))
		}
	}
	return out
}
