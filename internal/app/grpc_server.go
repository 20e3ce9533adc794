package app

import (
	"context"
	"net"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName — имя сервиса в gRPC health protocol.
const ServiceName = "picnic.sensors"

const healthSyncInterval = 10 * time.Second

type grpcServer struct {
	server    *grpc.Server
	health    *health.Server
	lis       net.Listener
	syncEvery time.Duration
}

// newGRPCServer поднимает gRPC сервер с health и reflection. Пустой адрес отключает его.
func newGRPCServer(addr string, reg prometheus.Registerer, logger *log.Entry) (*grpcServer, error) {
	if addr == "" {
		return nil, nil
	}

	grpcMetrics := promgrpc.NewServerMetrics()
	if err := reg.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &grpcServer{server: server, health: healthServer, lis: lis, syncEvery: healthSyncInterval}, nil
}

func (s *grpcServer) serve(logger *log.Entry) error {
	logger.Infof("gRPC сервер слушает %s", s.lis.Addr())
	return s.server.Serve(s.lis)
}

// syncHealth переводит сервис в SERVING, как только ready вернёт true, и обратно.
func (s *grpcServer) syncHealth(ctx context.Context, ready func() bool) {
	apply := func() {
		serving := healthpb.HealthCheckResponse_NOT_SERVING
		if ready() {
			serving = healthpb.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus(ServiceName, serving)
	}

	apply()
	ticker := time.NewTicker(s.syncEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			apply()
		}
	}
}

// stop останавливает сервер, по таймауту принудительно.
func (s *grpcServer) stop(timeout time.Duration, logger *log.Entry) {
	s.health.Shutdown()
	stoppedCh := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		s.server.Stop()
	}
}
