package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	IsActive    bool      `json:"isActive"`
}

// CallKey is an intercept key scoped to a project. Requests proxied with a
// valid key are captured under that project.
type CallKey struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
	IsActive  bool      `json:"isActive"`
}

// RequestLog is the raw record of one proxied exchange.
type RequestLog struct {
	ID              string
	ProjectID       string
	Method          string
	URL             string
	RequestHeaders  json.RawMessage
	RequestBody     json.RawMessage
	StatusCode      int
	ResponseHeaders json.RawMessage
	ResponseBody    json.RawMessage
	CreatedAt       time.Time
}

// CompletionRequest is the structured view of a logged chat completion call.
type CompletionRequest struct {
	ID             string
	ProjectID      string
	RequestLogID   string
	Messages       json.RawMessage
	MessagesHash   string
	Model          string
	ResponseFormat json.RawMessage // nil when the caller set none
	CreatedAt      time.Time
}

// CompletionResponse is the provider's primary completion for a request.
// ID is the provider-issued response id. Only the first choice is retained.
type CompletionResponse struct {
	ID                 string
	RequestID          string
	Provider           string
	Model              string
	Created            int64
	PromptTokens       int
	CompletionTokens   int
	TotalTokens        int
	FinishReason       string
	ChoiceRole         string
	ChoiceContent      string
	AnnotationTargetID string
	CreatedAt          time.Time
}

// Alternative is a human-submitted completion for an existing request.
type Alternative struct {
	ID                 string
	RequestID          string
	Content            string
	RaterID            string
	AnnotationTargetID string
	CreatedAt          time.Time
}

// Annotation is one rater's judgement attached to an annotation target.
// Rows are insert-only; correcting a judgement means deleting and re-adding.
type Annotation struct {
	ID        string
	TargetID  string
	Reward    *float64
	RaterID   string
	Metadata  json.RawMessage
	CreatedAt time.Time
}

// ProjectSchema is a JSON Schema document governing a project's structured
// outputs. At most one row per project is active; older rows are kept
// inactive for history.
type ProjectSchema struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"projectId"`
	Name      string          `json:"name,omitempty"`
	Document  json.RawMessage `json:"document"`
	IsActive  bool            `json:"isActive"`
	CreatedAt time.Time       `json:"createdAt"`
}
