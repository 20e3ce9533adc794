package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SensorMetrics содержит метрики опроса Picnic и значений сенсоров.
// Все методы безопасны для nil-получателя.
type SensorMetrics struct {
	// Опрос upstream
	fetchTotal       *prometheus.CounterVec
	fetchThrottled   prometheus.Counter
	fetchDuration    prometheus.Histogram
	lastSuccessfulAt prometheus.Gauge

	// Сенсоры
	sensorUpdates      *prometheus.CounterVec
	sensorStateChanges *prometheus.CounterVec
	deliveryPhase      *prometheus.GaugeVec

	// Значения
	cartItems      prometheus.Gauge
	cartTotalPrice prometheus.Gauge
	openDeliveries prometheus.Gauge
	availableSlots prometheus.Gauge

	// Публикация событий
	eventsPublished *prometheus.CounterVec
}

// NewSensorMetrics регистрирует метрики в DefaultRegisterer.
func NewSensorMetrics() *SensorMetrics {
	return NewSensorMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSensorMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewSensorMetricsWithRegisterer(registerer prometheus.Registerer) *SensorMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SensorMetrics{
		fetchTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "picnic_fetch_total",
			Help: "Total number of upstream Picnic fetches grouped by result.",
		}, []string{"result"}),
		fetchThrottled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "picnic_fetch_throttled_total",
			Help: "Total number of refresh requests answered from the shared snapshot.",
		}),
		fetchDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "picnic_fetch_duration_seconds",
			Help:    "Duration of one upstream round-trip (cart and deliveries).",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		lastSuccessfulAt: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "picnic_last_successful_fetch_timestamp_seconds",
			Help: "Unix time of the last successful upstream fetch.",
		}),
		sensorUpdates: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "picnic_sensor_updates_total",
			Help: "Total number of sensor update cycles.",
		}, []string{"sensor"}),
		sensorStateChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "picnic_sensor_state_changes_total",
			Help: "Total number of observed sensor state changes.",
		}, []string{"sensor"}),
		deliveryPhase: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "picnic_delivery_phase",
			Help: "Current delivery phase of the most recent delivery (1 for the active phase).",
		}, []string{"phase"}),
		cartItems: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "picnic_cart_items",
			Help: "Number of items in the cart.",
		}),
		cartTotalPrice: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "picnic_cart_total_price",
			Help: "Total cart price as reported by Picnic.",
		}),
		openDeliveries: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "picnic_open_deliveries",
			Help: "Number of deliveries that are not completed yet.",
		}),
		availableSlots: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "picnic_delivery_slots",
			Help: "Number of delivery time slots offered for the cart.",
		}),
		eventsPublished: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "picnic_state_events_published_total",
			Help: "Total number of published sensor state events grouped by result.",
		}, []string{"result"}),
	}
}

// RecordFetch фиксирует результат одного обращения к Picnic.
func (m *SensorMetrics) RecordFetch(result string, duration time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(result).Inc()
	m.fetchDuration.Observe(duration.Seconds())
	if result == "ok" {
		m.lastSuccessfulAt.Set(float64(at.Unix()))
	}
}

// RecordThrottled увеличивает счётчик запросов, обслуженных из снимка.
func (m *SensorMetrics) RecordThrottled() {
	if m == nil {
		return
	}
	m.fetchThrottled.Inc()
}

// RecordSensorUpdate увеличивает счётчик циклов обновления сенсора.
func (m *SensorMetrics) RecordSensorUpdate(sensor string) {
	if m == nil {
		return
	}
	m.sensorUpdates.WithLabelValues(sensor).Inc()
}

// RecordStateChange увеличивает счётчик смен состояния сенсора.
func (m *SensorMetrics) RecordStateChange(sensor string) {
	if m == nil {
		return
	}
	m.sensorStateChanges.WithLabelValues(sensor).Inc()
}

// SetCart обновляет значения корзины.
func (m *SensorMetrics) SetCart(items int, totalPrice float64) {
	if m == nil {
		return
	}
	m.cartItems.Set(float64(items))
	m.cartTotalPrice.Set(totalPrice)
}

// SetDeliveries обновляет фазу самой свежей доставки и число открытых доставок.
func (m *SensorMetrics) SetDeliveries(phase string, open int) {
	if m == nil {
		return
	}
	m.deliveryPhase.Reset()
	if phase != "" {
		m.deliveryPhase.WithLabelValues(phase).Set(1)
	}
	m.openDeliveries.Set(float64(open))
}

// SetSlots обновляет число доступных слотов.
func (m *SensorMetrics) SetSlots(count int) {
	if m == nil {
		return
	}
	m.availableSlots.Set(float64(count))
}

// RecordEventPublished фиксирует результат публикации события.
func (m *SensorMetrics) RecordEventPublished(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.eventsPublished.WithLabelValues(result).Inc()
}
