package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(
	artifactHandler *ArtifactHandler,
	operationHandler *OperationHandler,
	corsOrigins []string,
	middlewares ...mux.MiddlewareFunc,
) http.Handler {
	router := mux.NewRouter()

	// Health check endpoint
	router.HandleFunc("/health", artifactHandler.Health).Methods("GET")

	// API prefix
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middlewares...)

	api.HandleFunc("/upload", artifactHandler.Upload).Methods("POST")
	api.HandleFunc("/cleanup", artifactHandler.Cleanup).Methods("POST")

	// Operations
	api.HandleFunc("/operations", operationHandler.Kinds).Methods("GET")
	api.HandleFunc("/operations/{kind}", operationHandler.Execute).Methods("POST")

	// Artifacts
	api.HandleFunc("/artifacts", artifactHandler.List).Methods("GET")
	api.HandleFunc("/artifacts/{id}", artifactHandler.Get).Methods("GET")
	api.HandleFunc("/artifacts/{id}", artifactHandler.Delete).Methods("DELETE")
	api.HandleFunc("/artifacts/{id}/pages/{page:[0-9]+}/preview", artifactHandler.Preview).Methods("GET")
	api.HandleFunc("/download/{id}", artifactHandler.Download).Methods("GET", "HEAD")

	// Configure CORS
	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			SessionHeader,
		},
		ExposedHeaders: []string{
			"Content-Disposition",
			"ETag",
		},
		MaxAge: 300, // Maximum value not ignored by any of major browsers
	})

	return c.Handler(router)
}
