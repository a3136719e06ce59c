package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxInputSize     = 64 * 1024
)

// CreateTask проводит task через квоту и ставит его в очередь выполнения.
// POST /api/v1/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}

	var req CreateTaskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInputSize)).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Scene == "" {
		BadRequest(w, "scene is required")
		return
	}

	task, err := h.admission.Admit(r.Context(), owner, req.Scene, req.Input)
	if HandleAdmissionError(w, h.logger, err) {
		return
	}

	// Доставка в очередь после фиксации task'а. Ошибка публикации
	// не откатывает допуск: reconciler найдёт зависший PENDING
	// и опубликует его повторно.
	if err := h.publisher.PublishTaskAdmitted(r.Context(), task); err != nil {
		h.logger.Error("failed to publish admitted task",
			"task_id", task.ID,
			"error", err,
		)
	}

	Created(w, TaskFromDomain(*task))
}

// ListTasks возвращает task'и текущего пользователя.
// GET /api/v1/tasks?limit=...&offset=...
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}

	limit := parseIntParam(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := parseIntParam(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	tasks, err := h.taskRepo.ListByOwner(r.Context(), owner, limit, offset)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TaskResponse, len(tasks))
	for i, task := range tasks {
		result[i] = TaskFromDomain(task)
	}

	List(w, result, len(result))
}

// GetTask возвращает task по id.
// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}

	task, found := h.ownedTask(w, r, owner)
	if !found {
		return
	}

	Success(w, TaskFromDomain(*task))
}

// CancelTask переводит task в CANCELLED.
// POST /api/v1/tasks/{id}/cancel
//
// Отмена терминального task'а — 422. Квота за отменённый task
// не возвращается: допуск уже состоялся.
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}

	task, found := h.ownedTask(w, r, owner)
	if !found {
		return
	}

	cancelled, err := h.registry.Transition(r.Context(), task.ID, domain.TaskStatusCancelled, "")
	if HandleRegistryError(w, h.logger, err, "task not found") {
		return
	}

	Success(w, TaskFromDomain(*cancelled))
}

// GetTaskProgress возвращает полную историю событий task'а.
// GET /api/v1/tasks/{id}/progress
func (h *Handler) GetTaskProgress(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}

	task, found := h.ownedTask(w, r, owner)
	if !found {
		return
	}

	events, err := h.broadcaster.Replay(r.Context(), task.ID)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	result := make([]ProgressEventResponse, len(events))
	for i, ev := range events {
		result[i] = EventFromDomain(ev)
	}

	// История растёт, пока task выполняется: кэшировать нечего.
	w.Header().Set("Cache-Control", "no-store")
	List(w, result, len(result))
}

// ownedTask загружает task из path параметра и проверяет владельца.
// Чужой task неотличим от несуществующего.
func (h *Handler) ownedTask(w http.ResponseWriter, r *http.Request, owner uuid.UUID) (*domain.Task, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return nil, false
	}

	task, err := h.taskRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return nil, false
	}

	if task.OwnerID != owner {
		NotFound(w, "task not found")
		return nil, false
	}

	return task, true
}

// parseIntParam парсит числовой query параметр с дефолтом.
func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return value
}
