package domain

import "errors"

var (
	// ErrUnauthorized — Picnic отклонил учётные данные или токен истёк.
	ErrUnauthorized = errors.New("picnic: unauthorized")
	// ErrUpstreamUnavailable — сетевая ошибка или 5xx от Picnic.
	ErrUpstreamUnavailable = errors.New("picnic: upstream unavailable")
	// ErrMalformedPayload — ответ не удалось разобрать.
	ErrMalformedPayload = errors.New("picnic: malformed payload")
	// ErrConfigInvalid — некорректная конфигурация.
	ErrConfigInvalid = errors.New("invalid configuration")
	// ErrSensorNotFound возвращается, если сенсора с таким именем нет.
	ErrSensorNotFound = errors.New("sensor not found")
)

// Classify сводит ошибку к короткой метке для логов и метрик.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "unavailable"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed"
	default:
		return "unknown"
	}
}
