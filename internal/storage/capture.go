package storage

import (
	"database/sql"
	"fmt"
	"time"
)

func (s *Store) InsertRequestLog(l RequestLog) error {
	_, err := s.db.Exec(`
		INSERT INTO request_logs (id, project_id, method, url, request_headers, request_body, status_code, response_headers, response_body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ProjectID, l.Method, l.URL,
		nullableJSON(l.RequestHeaders), nullableJSON(l.RequestBody),
		l.StatusCode,
		nullableJSON(l.ResponseHeaders), nullableJSON(l.ResponseBody),
		l.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// InsertCapture stores the structured rows for a successfully proxied
// completion: the request, its primary response, and a fresh annotation
// target owned by the response. All three are written in one transaction.
func (s *Store) InsertCapture(req CompletionRequest, resp CompletionResponse) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning capture transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO requests (id, project_id, request_log_id, messages, messages_hash, model, response_format, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ProjectID, req.RequestLogID, string(req.Messages), req.MessagesHash,
		req.Model, nullableJSON(req.ResponseFormat), req.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting request: %w", err)
	}

	if _, err := tx.Exec(`INSERT INTO annotation_targets (id, created_at) VALUES (?, ?)`,
		resp.AnnotationTargetID, resp.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting annotation target: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO responses (id, request_id, provider, model, created, prompt_tokens, completion_tokens, total_tokens, finish_reason, choice_role, choice_content, annotation_target_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		resp.ID, resp.RequestID, resp.Provider, resp.Model, resp.Created,
		resp.PromptTokens, resp.CompletionTokens, resp.TotalTokens,
		resp.FinishReason, resp.ChoiceRole, resp.ChoiceContent,
		resp.AnnotationTargetID, resp.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting response: %w", err)
	}

	return tx.Commit()
}

// GetRequest returns a single structured request row.
func (s *Store) GetRequest(id string) (CompletionRequest, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, request_log_id, messages, messages_hash, model, response_format, created_at
		FROM requests WHERE id = ?`, id)

	var r CompletionRequest
	var messages, createdAt string
	var responseFormat *string
	err := row.Scan(&r.ID, &r.ProjectID, &r.RequestLogID, &messages, &r.MessagesHash, &r.Model, &responseFormat, &createdAt)
	if err == sql.ErrNoRows {
		return CompletionRequest{}, ErrNotFound
	}
	if err != nil {
		return CompletionRequest{}, err
	}
	r.Messages = []byte(messages)
	if responseFormat != nil {
		r.ResponseFormat = []byte(*responseFormat)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return CompletionRequest{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return r, nil
}

// nullableJSON converts an optional raw JSON value to a driver-friendly form:
// nil stays NULL instead of becoming the string "null" or "".
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
