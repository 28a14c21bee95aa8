package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server provides HTTP endpoints for health monitoring and, optionally,
// the standard gRPC health service.
type Server struct {
	monitor *Monitor
	server  *http.Server

	grpcPort   int
	grpcServer *grpc.Server
}

// NewServer creates a new health server. A grpcPort of 0 disables gRPC health.
func NewServer(monitor *Monitor, port, grpcPort int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		grpcPort: grpcPort,
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	if grpcPort > 0 {
		s.grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, monitor.GRPCServer())
	}

	return s
}

// Handler exposes the HTTP mux, used by tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the servers. It blocks until the HTTP server stops.
func (s *Server) Start() error {
	if s.grpcServer != nil {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.grpcPort))
		if err != nil {
			return fmt.Errorf("listen grpc health: %w", err)
		}
		go func() { _ = s.grpcServer.Serve(lis) }()
	}
	return s.server.ListenAndServe()
}

// Stop stops the servers.
func (s *Server) Stop(ctx context.Context) error {
	if s.grpcServer != nil {
		s.monitor.GRPCServer().Shutdown()
		s.grpcServer.GracefulStop()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.monitor.Status()

	response := map[string]string{"status": string(status)}
	w.Header().Set("Content-Type", "application/json")

	if status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}
