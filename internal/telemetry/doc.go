// Package telemetry содержит инфраструктуру наблюдаемости.
//
// Структура:
//   - logging.go — настройка structured logging (log/slog), контекстные логгеры
//   - metrics.go — prometheus-метрики допуска, компенсаций и доставки прогресса
//
// Уровень и формат логов задаются конфигурацией сервиса один раз при старте.
package telemetry
