package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/config"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/httpapi"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/metrics"
)

const defaultShutdownTimeout = 5 * time.Second

// Run поднимает опрос Picnic, HTTP API и опциональные gRPC/Kafka и блокируется до отмены ctx.
func Run(ctx context.Context, cfg config.Config) error {
	logger := log.WithField("component", "app")

	// ошибка уже залогирована, сервис работает без Kafka
	kafkaProducer, _ := initKafkaProducer(cfg.Kafka, logger)
	defer closeKafka(kafkaProducer, logger)

	deps, err := NewDependencies(
		cfg,
		NewPicnicClient(cfg, logger),
		statePublisher(kafkaProducer, cfg.Kafka.Topic),
		metrics.NewSensorMetrics(),
		logger,
	)
	if err != nil {
		return err
	}
	if kafkaProducer != nil {
		registerKafkaChecker(deps.Health, kafkaProducer)
	}

	handler := httpapi.NewRouter(httpapi.Deps{
		Sensors:   deps.Sensors,
		Refresher: deps.Fetcher,
		Updater:   deps.Poller,
		Health:    deps.Health,
		Metrics:   promhttp.Handler(),
		Logger:    logger.WithField("layer", "http"),
	})

	httpSrv, httpLis, err := listenHTTP(cfg.HTTP.Addr, handler)
	if err != nil {
		return err
	}

	grpcSrv, err := newGRPCServer(cfg.GRPC.Addr, prometheus.DefaultRegisterer, logger)
	if err != nil {
		shutdownHTTP(httpSrv, cfg.HTTP.ShutdownTimeout, logger)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		deps.Poller.Run(runCtx)
	}()

	go func() {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if grpcSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			grpcSrv.syncHealth(runCtx, func() bool { return deps.Fetcher.Status().HasSnapshot() })
		}()
		go func() {
			if err := grpcSrv.serve(logger); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис")
		runErr = ctx.Err()
	case err := <-errCh:
		logger.WithError(err).Error("server failed")
		runErr = err
	}

	cancel()
	if grpcSrv != nil {
		grpcSrv.stop(shutdownTimeout(cfg.HTTP), logger)
	}
	shutdownHTTP(httpSrv, cfg.HTTP.ShutdownTimeout, logger)
	wg.Wait()

	return runErr
}

// listenHTTP занимает адрес заранее, чтобы ошибка bind вернулась из Run.
func listenHTTP(addr string, handler http.Handler) (*http.Server, net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, lis, nil
}

func shutdownTimeout(cfg config.HTTPConfig) time.Duration {
	if cfg.ShutdownTimeout <= 0 {
		return defaultShutdownTimeout
	}
	return cfg.ShutdownTimeout
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
