package domain

import "testing"

func TestTaskStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusPending, false},
		{TaskStatusRunning, false},
		{TaskStatusSucceeded, true},
		{TaskStatusFailed, true},
		{TaskStatusCancelled, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestTaskStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    TaskStatus
		to      TaskStatus
		allowed bool
	}{
		{"pending to running", TaskStatusPending, TaskStatusRunning, true},
		{"pending to cancelled", TaskStatusPending, TaskStatusCancelled, true},
		{"pending to succeeded skips running", TaskStatusPending, TaskStatusSucceeded, false},
		{"pending to failed skips running", TaskStatusPending, TaskStatusFailed, false},
		{"running to succeeded", TaskStatusRunning, TaskStatusSucceeded, true},
		{"running to failed", TaskStatusRunning, TaskStatusFailed, true},
		{"running to cancelled", TaskStatusRunning, TaskStatusCancelled, true},
		{"running back to pending", TaskStatusRunning, TaskStatusPending, false},
		{"succeeded is final", TaskStatusSucceeded, TaskStatusRunning, false},
		{"failed is final", TaskStatusFailed, TaskStatusRunning, false},
		{"cancelled is final", TaskStatusCancelled, TaskStatusRunning, false},
		{"cancelled stays cancelled", TaskStatusCancelled, TaskStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestParseTaskStatus(t *testing.T) {
	for _, s := range []TaskStatus{
		TaskStatusPending, TaskStatusRunning, TaskStatusSucceeded,
		TaskStatusFailed, TaskStatusCancelled,
	} {
		got, ok := ParseTaskStatus(string(s))
		if !ok || got != s {
			t.Errorf("ParseTaskStatus(%q) = %q, %v", s, got, ok)
		}
	}

	if _, ok := ParseTaskStatus("DONE"); ok {
		t.Error("ParseTaskStatus should reject unknown status")
	}
	if _, ok := ParseTaskStatus(""); ok {
		t.Error("ParseTaskStatus should reject empty string")
	}
}
