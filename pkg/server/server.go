// Package server exposes the graphmend client over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	graphmend "github.com/graphmend/graphmend"
	"github.com/graphmend/graphmend/pkg/config"
	"github.com/graphmend/graphmend/pkg/server/handlers"
)

// Server is the HTTP front end.
type Server struct {
	config *config.Config
	router *gin.Engine
	client graphmend.GraphMend
	server *http.Server
}

// New creates a server over an existing client.
func New(cfg *config.Config, client graphmend.GraphMend) *Server {
	return &Server{config: cfg, client: client}
}

// Setup configures routes and middleware.
func (s *Server) Setup() {
	gin.SetMode(s.config.Server.Mode)

	s.router = gin.New()
	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler()
	resolutionHandler := handlers.NewResolutionHandler(s.client)
	retrieveHandler := handlers.NewRetrieveHandler(s.client)
	snapshotHandler := handlers.NewSnapshotHandler(s.client)

	s.router.GET("/health", healthHandler.HealthCheck)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/detect", resolutionHandler.Detect)
		v1.POST("/execute", resolutionHandler.Execute)
		v1.GET("/plans", resolutionHandler.ListPlans)
		v1.GET("/plans/:id", resolutionHandler.GetPlan)
		v1.GET("/plans/:id/report", resolutionHandler.GetReport)

		v1.POST("/query", retrieveHandler.Query)

		v1.POST("/backup", snapshotHandler.Backup)
		v1.POST("/restore", snapshotHandler.Restore)
	}
}

// Start starts the server. Blocks until shutdown.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
