// Package httpapi отдаёт состояние сенсоров по HTTP вместе с метриками и health checks.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/health"
	"github.com/vladislavdragonenkov/picnic-sensors/internal/sensor"
)

const refreshTimeout = time.Minute

// Refresher принудительно обновляет общий снимок.
type Refresher interface {
	ForceRefresh(ctx context.Context) error
}

// Updater пересчитывает сенсоры из текущего снимка.
type Updater interface {
	UpdateOnce(ctx context.Context) error
}

// Deps — зависимости роутера.
type Deps struct {
	Sensors   []sensor.Sensor
	Refresher Refresher
	Updater   Updater
	Health    *health.Handler
	Metrics   http.Handler
	Logger    *log.Entry
}

// Entity — представление сенсора в API.
type Entity struct {
	EntityID   string         `json:"entity_id"`
	Name       string         `json:"name"`
	Icon       string         `json:"icon"`
	State      any            `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// NewEntity снимает текущее состояние сенсора.
func NewEntity(s sensor.Sensor) Entity {
	return Entity{
		EntityID:   sensor.EntityID(s),
		Name:       s.Name(),
		Icon:       s.Icon(),
		State:      s.State(),
		Attributes: s.Attributes(),
	}
}

type api struct {
	deps   Deps
	logger *log.Entry
}

// NewRouter собирает chi-роутер со всеми маршрутами сервиса.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	a := &api{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/livez", health.LivenessHandler)
	if deps.Health != nil {
		r.Method(http.MethodGet, "/healthz", deps.Health)
		r.Get("/readyz", deps.Health.ReadinessHandler)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/sensors", a.listSensors)
		r.Get("/sensors/{name}", a.getSensor)
		r.With(middleware.Timeout(refreshTimeout)).Post("/refresh", a.refresh)
	})

	return r
}

func (a *api) listSensors(w http.ResponseWriter, _ *http.Request) {
	entities := make([]Entity, 0, len(a.deps.Sensors))
	for _, s := range a.deps.Sensors {
		entities = append(entities, NewEntity(s))
	}
	writeJSON(w, http.StatusOK, entities)
}

func (a *api) getSensor(w http.ResponseWriter, r *http.Request) {
	s, err := sensor.Find(a.deps.Sensors, chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, NewEntity(s))
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	if a.deps.Refresher == nil || a.deps.Updater == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("refresh is not configured"))
		return
	}

	if err := a.deps.Refresher.ForceRefresh(r.Context()); err != nil {
		a.logger.WithError(err).WithField("kind", domain.Classify(err)).Warn("forced refresh failed")
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if err := a.deps.Updater.UpdateOnce(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.WithFields(log.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}
