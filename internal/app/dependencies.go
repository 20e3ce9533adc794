package app

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/config"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/health"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/metrics"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/picnic"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/sensor"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/service/fetcher"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/service/poller"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/version"
)

// Dependencies содержит собранные компоненты приложения.
type Dependencies struct {
	Fetcher *fetcher.Fetcher
	Sensors []sensor.Sensor
	Poller  *poller.Worker
	Health  *health.Handler
	Metrics *metrics.SensorMetrics
	Logger  *log.Entry
}

// NewPicnicClient создаёт клиент Picnic по конфигурации.
func NewPicnicClient(cfg config.Config, logger *log.Entry) *picnic.Client {
	return picnic.NewClient(cfg.Username, cfg.Password, cfg.CountryCode,
		picnic.WithBaseURL(cfg.APIBaseURL),
		picnic.WithAPIVersion(cfg.APIVersion),
		picnic.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		picnic.WithLogger(logger.WithField("component", "picnic-client")),
	)
}

// NewDependencies связывает общий fetcher, три сенсора и планировщик.
// publisher может быть nil, тогда смены состояний только логируются.
func NewDependencies(
	cfg config.Config,
	client domain.PicnicClient,
	publisher domain.StatePublisher,
	sensorMetrics *metrics.SensorMetrics,
	logger *log.Entry,
) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	scope, err := fetcher.ParseDeliveryScope(cfg.DeliveryScope)
	if err != nil {
		return nil, err
	}

	f := fetcher.New(client,
		fetcher.WithLogger(logger.WithField("component", "fetcher")),
		fetcher.WithMinInterval(cfg.MinRefreshInterval),
		fetcher.WithTimeout(cfg.RequestTimeout),
		fetcher.WithMetrics(sensorMetrics),
		fetcher.WithDeliveryScope(scope),
	)

	sensorLogger := logger.WithField("component", "sensor")
	sensors := []sensor.Sensor{
		sensor.NewCart(f, sensorLogger),
		sensor.NewDelivery(f, sensorLogger),
		sensor.NewDeliverySlots(f, sensorLogger),
	}

	worker := poller.NewWorker(f, sensors,
		poller.WithLogger(logger.WithField("component", "poller")),
		poller.WithInterval(cfg.ScanInterval),
		poller.WithPublisher(publisher),
		poller.WithMetrics(sensorMetrics),
	)

	healthHandler := health.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("picnic", health.NewFreshnessChecker("picnic", 2*cfg.MinRefreshInterval, func() health.Freshness {
		status := f.Status()
		return health.Freshness{LastSuccess: status.LastSuccess, LastError: status.LastError}
	}))

	return &Dependencies{
		Fetcher: f,
		Sensors: sensors,
		Poller:  worker,
		Health:  healthHandler,
		Metrics: sensorMetrics,
		Logger:  logger,
	}, nil
}
