// Package cli реализует инструмент командной строки JexAgent.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с JexAgent API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для создания tasks, наблюдения за их прогрессом
// и проверки квоты.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для JexAgent API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок. Каждый запрос подписывается X-User-ID.
//
//	client := cli.NewClient("http://localhost:8080", userID)
//	tasks, err := client.ListTasks(cli.ListTasksOpts{})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: jexagent task list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - task: create, list, show, cancel, progress
//   - quota: показания дневного счётчика
//
// Каждая группа создаётся через фабричную функцию (NewTaskCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
