package api

import (
	"errors"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer publishes per-source poll health over the standard gRPC
// health protocol. The empty service name reports the process itself.
type HealthServer struct {
	health *health.Server
	logger zerolog.Logger
	port   string
	srv    *grpc.Server
}

// NewHealthServer creates a health server. Every label starts
// NOT_SERVING until its first successful poll.
func NewHealthServer(labels []string, logger zerolog.Logger, port string) *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, label := range labels {
		hs.SetServingStatus(label, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{
		health: hs,
		logger: logger.With().Str("component", "grpc-health").Logger(),
		port:   port,
		srv:    srv,
	}
}

// SetSourceHealth records the outcome of the last poll of label
func (h *HealthServer) SetSourceHealth(label string, healthy bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus(label, status)
}

// Health returns the underlying health service
func (h *HealthServer) Health() healthpb.HealthServer {
	return h.health
}

// Start serves until Stop is called
func (h *HealthServer) Start() error {
	lis, err := net.Listen("tcp", ":"+h.port)
	if err != nil {
		return err
	}
	return h.Serve(lis)
}

// Serve serves on lis until Stop is called
func (h *HealthServer) Serve(lis net.Listener) error {
	h.logger.Info().Str("address", lis.Addr().String()).Msg("Starting gRPC health server")
	if err := h.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING and stops the server
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}
