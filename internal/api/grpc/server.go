// Package grpcapi serves the gRPC health service used by load balancers and
// orchestrators to route media streams only to instances taking new calls.
package grpcapi

import (
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"call-transcription-service/internal/observability"
	"call-transcription-service/internal/observability/logging"
	"call-transcription-service/internal/observability/metrics"
)

// ServiceName is the health service name reported alongside the overall status.
const ServiceName = "calltranscription.CallTranscription"

// Server wraps a grpc.Server with health and reflection registered.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// New creates the gRPC server. It reports SERVING until Drain is called.
func New(m *metrics.Metrics) *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	return &Server{
		grpc:   g,
		health: hs,
		logger: logging.WithComponent("grpc"),
	}
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC server")
	return s.grpc.Serve(lis)
}

// Drain reports NOT_SERVING so no new traffic is routed here.
func (s *Server) Drain() {
	s.logger.Info().Msg("Reporting NOT_SERVING")
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// Stop drains health and gracefully stops the server.
func (s *Server) Stop() {
	s.Drain()
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
