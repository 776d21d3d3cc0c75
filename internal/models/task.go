package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task kinds — what category of media the upstream model produces.
const (
	KindImage = "image"
	KindVideo = "video"
	KindAudio = "audio"
	KindText  = "text"
)

// Task lifecycle. A task is created in processing (only once submission to
// the provider has succeeded and a provider task id exists) and moves to
// exactly one of the terminal states. Terminal states are write-once.
const (
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

type GenerationTask struct {
	ID             uuid.UUID       `json:"id"`
	AccountID      uuid.UUID       `json:"account_id"`
	Kind           string          `json:"kind"`
	Model          string          `json:"model"`
	Cost           int             `json:"cost"`
	Status         string          `json:"status"`
	ProviderTaskID *string         `json:"provider_task_id,omitempty"`
	Params         json.RawMessage `json:"params"`
	InputURL       *string         `json:"input_url,omitempty"`
	ResultRef      *string         `json:"result_ref,omitempty"`
	ErrorDetail    *string         `json:"error_detail,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether the task has reached completed or failed.
func (t *GenerationTask) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}
