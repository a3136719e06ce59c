// Package registry управляет жизненным циклом tasks.
//
// Registry — единственная точка создания task'а и смены его статуса:
//
//	PENDING → RUNNING → SUCCEEDED | FAILED
//	PENDING | RUNNING → CANCELLED
//
// Терминальные статусы финальны. Недопустимые переходы отклоняются с
// ErrInvalidTransition, логируются как аномалия и учитываются метрикой.
// На терминальном переходе Registry уведомляет Notifier финальным
// событием прогресса; квота при этом повторно не трогается — она
// списана один раз при допуске.
package registry
