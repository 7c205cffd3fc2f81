package api

import (
	"net/http"
	"strings"

	"appupdate/internal/models"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/api/v1/ping" &&
					r.URL.Path != "/api/v1/openapi.yaml" &&
					r.URL.Path != "/api/v1/docs" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// WithRateLimiter adds rate limiting middleware to the router.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(middleware)
	}
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	// Outermost first: ids, panics and logging cover every request, and the
	// optional key lookup runs before any rate limiter passed in opts.
	router.Use(requestIDMiddleware)
	router.Use(recoveryMiddleware)
	router.Use(loggingMiddleware)
	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}
	if config.Security.EnableAuth {
		router.Use(OptionalAuth(config.Security.APIKeys))
	}
	for _, opt := range opts {
		opt(router)
	}

	downloadPath := strings.TrimRight(config.Artifacts.DownloadPath, "/")
	router.HandleFunc(downloadPath+"/{key:.+}", handlers.Download).Methods("GET", "HEAD")

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(compressionMiddleware())

	// Preflight requests under /api/v1. Registered before the resource routes
	// and matched with a MatcherFunc so it never turns an unknown path into 405.
	api.PathPrefix("").MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
		return r.Method == http.MethodOptions
	}).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	api.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	api.HandleFunc("/ping", handlers.Ping).Methods("GET")
	api.HandleFunc("/openapi.yaml", handlers.ServeOpenAPISpec).Methods("GET")
	api.HandleFunc("/docs", handlers.ServeSwaggerUI).Methods("GET")
	api.HandleFunc("/updates/{app_id}/check", handlers.CheckForUpdates).Methods("GET")
	api.HandleFunc("/check", handlers.CheckForUpdates).Methods("POST")

	// Protected routes share the api subrouter. Nested PathPrefix("")
	// subrouters would reset mux's method mismatch and answer 404 instead of 405.
	guard := func(required Permission, h http.HandlerFunc) http.Handler {
		if !config.Security.EnableAuth {
			return h
		}
		return authMiddleware(config.Security.APIKeys)(RequirePermission(required)(h))
	}

	api.Handle("/applications", guard(PermissionRead, handlers.ListApplications)).Methods("GET")
	api.Handle("/applications", guard(PermissionWrite, handlers.CreateApplication)).Methods("POST")
	api.Handle("/applications/{app_id}", guard(PermissionRead, handlers.GetApplication)).Methods("GET")
	api.Handle("/applications/{app_id}/versions", guard(PermissionRead, handlers.ListVersions)).Methods("GET")
	api.Handle("/applications/{app_id}/versions", guard(PermissionWrite, handlers.UploadVersion)).Methods("POST")
	api.Handle("/applications/{app_id}/release", guard(PermissionRead, handlers.GetRelease)).Methods("GET")
	api.Handle("/applications/{app_id}/release", guard(PermissionAdmin, handlers.SetRelease)).Methods("PUT")
	api.Handle("/applications/{app_id}/force-update", guard(PermissionAdmin, handlers.SetForceUpdate)).Methods("PUT")
	api.Handle("/applications/{app_id}/consistency", guard(PermissionRead, handlers.CheckConsistency)).Methods("GET")

	api.Handle("/versions/batch-delete", guard(PermissionAdmin, handlers.BatchDeleteVersions)).Methods("POST")
	api.Handle("/versions/{id:[0-9]+}", guard(PermissionRead, handlers.GetVersion)).Methods("GET")
	api.Handle("/versions/{id:[0-9]+}", guard(PermissionWrite, handlers.EditVersion)).Methods("PUT")
	api.Handle("/versions/{id:[0-9]+}", guard(PermissionAdmin, handlers.DeleteVersion)).Methods("DELETE")

	api.Handle("/stats", guard(PermissionRead, handlers.GetStats)).Methods("GET")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, models.ErrorCodeNotFound, "Resource not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return router
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, models.ErrorCodeInvalidRequest, "Method not allowed")
}

// compressionMiddleware gzips API responses for clients that accept it.
func compressionMiddleware() mux.MiddlewareFunc {
	wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(gzhttp.DefaultMinSize))
	if err != nil {
		// Only reachable with invalid options.
		panic(err)
	}
	return func(next http.Handler) http.Handler {
		return wrap(next)
	}
}
