// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go       — Handler с DI (admission, registry, репозитории, publisher)
//   - routes.go        — регистрация маршрутов
//   - middleware.go    — middleware (logging, recovery, CORS) и identity
//   - response.go      — унифицированные JSON-ответы и обработка ошибок
//   - dto.go           — Data Transfer Objects (request/response)
//   - task_handler.go  — обработчики для /tasks
//   - quota_handler.go — обработчик для /quota
//
// Идентификация пользователя — заголовок X-User-ID. Чужой task в
// ответах неотличим от несуществующего.
package api
