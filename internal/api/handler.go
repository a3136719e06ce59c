package api

import (
	"log/slog"

	"github.com/deloog/jexagent-backend/internal/admission"
	"github.com/deloog/jexagent-backend/internal/mq"
	"github.com/deloog/jexagent-backend/internal/progress"
	"github.com/deloog/jexagent-backend/internal/registry"
	"github.com/deloog/jexagent-backend/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	admission   *admission.Controller
	registry    *registry.Registry
	taskRepo    *repo.TaskRepo
	broadcaster *progress.Broadcaster
	publisher   *mq.Publisher
	logger      *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Admission   *admission.Controller
	Registry    *registry.Registry
	TaskRepo    *repo.TaskRepo
	Broadcaster *progress.Broadcaster
	Publisher   *mq.Publisher
	Logger      *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		admission:   cfg.Admission,
		registry:    cfg.Registry,
		taskRepo:    cfg.TaskRepo,
		broadcaster: cfg.Broadcaster,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
	}
}
