package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/deloog/jexagent-backend/internal/domain"
)

// Executor — интерфейс выполнения одного сценария.
//
// Реализация отчитывается о ходе через Emitter (стартовое и финальное
// события отправляет сам runner) и обязана уважать отмену ctx:
// runner отменяет контекст, когда task переведён в CANCELLED.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task, em *Emitter) error
}

// Registry — реестр executor'ов по имени сценария.
type Registry struct {
	executors map[string]Executor
	fallback  Executor
}

// NewRegistry создаёт реестр с дефолтным сценарием.
//
// Незнакомые сценарии обслуживает fallback: пайплайн общего вида
// prepare -> process -> finalize. Прикладные сценарии регистрируются
// поверх через Register.
func NewRegistry() *Registry {
	fallback := &ScriptedExecutor{
		Phases: []Phase{
			{Name: "prepare", Steps: 2, StepDelay: 200 * time.Millisecond},
			{Name: "process", Steps: 5, StepDelay: 400 * time.Millisecond},
			{Name: "finalize", Steps: 1, StepDelay: 200 * time.Millisecond},
		},
	}

	return &Registry{
		executors: make(map[string]Executor),
		fallback:  fallback,
	}
}

// Register добавляет executor для сценария.
func (r *Registry) Register(scene string, executor Executor) {
	r.executors[scene] = executor
}

// Get возвращает executor для сценария.
func (r *Registry) Get(scene string) (Executor, error) {
	if executor, ok := r.executors[scene]; ok {
		return executor, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownScene, scene)
}

// Phase — один этап сценария.
type Phase struct {
	// Name — имя этапа, попадает в поле phase событий.
	Name string

	// Steps — количество шагов этапа, каждый шаг — одно событие.
	Steps int

	// StepDelay — длительность одного шага.
	StepDelay time.Duration
}

// ScriptedExecutor проходит фиксированный список этапов, отправляя
// событие после каждого шага. Прогресс считается долей пройденных
// шагов от общего числа.
type ScriptedExecutor struct {
	Phases []Phase
}

// Execute реализует Executor.
func (e *ScriptedExecutor) Execute(ctx context.Context, task *domain.Task, em *Emitter) error {
	total := 0
	for _, phase := range e.Phases {
		total += phase.Steps
	}
	if total == 0 {
		return nil
	}

	done := 0
	for _, phase := range e.Phases {
		for step := 0; step < phase.Steps; step++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(phase.StepDelay):
			}

			done++
			progress := done * 100 / total
			if err := em.Progress(ctx, phase.Name, progress, ""); err != nil {
				return fmt.Errorf("emit progress: %w", err)
			}
		}
	}

	return nil
}
