// Package quota реализует атомарный дневной счётчик допусков.
//
// Структура:
//   - store.go    — интерфейс Store, Grant, ошибки
//   - memory.go   — in-memory реализация (тесты, локальная разработка)
//   - disabled.go — декоратор с выключенным принуждением квоты
//
// PostgreSQL-реализация живёт в internal/repo (QuotaRepo) и вызывает
// хранимые функции increment_daily_used / decrement_daily_used, которые
// выполняют проверку лимита и мутацию одним атомарным оператором.
package quota
