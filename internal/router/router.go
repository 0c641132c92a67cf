package router

import (
	"net/http"
	"slices"
)

// Router wraps http.ServeMux with middleware chaining.
//
// Middleware is applied per route, inside the mux, so r.PathValue and
// r.Pattern are available to every middleware in the chain.
type Router struct {
	mux   *http.ServeMux
	chain []Middleware
}

// Middleware is a function that wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// New creates a new Router with optional global middleware
func New(middleware ...Middleware) *Router {
	return &Router{
		mux:   http.NewServeMux(),
		chain: middleware,
	}
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Get registers a GET route
func (r *Router) Get(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.Handle(http.MethodGet, pattern, handler, middleware...)
}

// Post registers a POST route
func (r *Router) Post(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.Handle(http.MethodPost, pattern, handler, middleware...)
}

// Handle registers a route with explicit method
func (r *Router) Handle(method, pattern string, handler http.Handler, middleware ...Middleware) {
	r.mux.Handle(method+" "+pattern, r.wrap(handler, middleware))
}

// wrap applies middleware so that it executes in the order given,
// global chain first.
func (r *Router) wrap(handler http.Handler, middleware []Middleware) http.Handler {
	combined := append(slices.Clone(r.chain), middleware...)
	slices.Reverse(combined)

	result := handler
	for _, m := range combined {
		result = m(result)
	}

	return result
}

// Group creates a sub-router sharing the mux with additional middleware
func (r *Router) Group(middleware ...Middleware) *Router {
	return &Router{
		mux:   r.mux,
		chain: append(slices.Clone(r.chain), middleware...),
	}
}
