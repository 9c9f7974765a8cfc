// Package capture turns proxied chat completion exchanges into stored
// records: a raw request log plus structured request, response, and
// annotation target rows that raters work against.
package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kasperhn/intercept/internal/proxy"
	"github.com/kasperhn/intercept/internal/storage"
)

// Service persists captured exchanges. Capture failures must never break the
// proxied call, so callers log errors from Record and carry on.
type Service struct {
	store  *storage.Store
	logger *slog.Logger
}

func NewService(store *storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Exchange is one proxied round trip as seen by the proxy handler.
type Exchange struct {
	ProjectID   string
	Method      string
	URL         string
	ReqHeaders  json.RawMessage
	ReqBody     []byte
	StatusCode  int
	RespHeaders json.RawMessage
	RespBody    []byte
}

// Record stores the raw exchange and, when both sides parse as a chat
// completion, the structured request/response rows with a fresh annotation
// target on the response. The raw log is written even when structured
// parsing fails.
func (s *Service) Record(ctx context.Context, ex Exchange) error {
	now := time.Now().UTC()

	log := storage.RequestLog{
		ID:              uuid.New().String(),
		ProjectID:       ex.ProjectID,
		Method:          ex.Method,
		URL:             ex.URL,
		RequestHeaders:  ex.ReqHeaders,
		RequestBody:     ex.ReqBody,
		StatusCode:      ex.StatusCode,
		ResponseHeaders: ex.RespHeaders,
		ResponseBody:    ex.RespBody,
		CreatedAt:       now,
	}
	if err := s.store.InsertRequestLog(log); err != nil {
		return fmt.Errorf("inserting request log: %w", err)
	}

	var chatReq proxy.ChatRequest
	if err := json.Unmarshal(ex.ReqBody, &chatReq); err != nil || chatReq.Messages == nil {
		s.logger.Debug("request body is not a chat completion; raw log only",
			"project_id", ex.ProjectID, "request_log_id", log.ID)
		return nil
	}

	var chatResp proxy.ChatResponse
	if err := json.Unmarshal(ex.RespBody, &chatResp); err != nil || len(chatResp.Choices) == 0 {
		s.logger.Debug("response body has no choices; raw log only",
			"project_id", ex.ProjectID, "request_log_id", log.ID)
		return nil
	}

	hash, err := HashMessages(chatReq.Messages)
	if err != nil {
		return fmt.Errorf("hashing messages: %w", err)
	}

	req := storage.CompletionRequest{
		ID:             uuid.New().String(),
		ProjectID:      ex.ProjectID,
		RequestLogID:   log.ID,
		Messages:       chatReq.Messages,
		MessagesHash:   hash,
		Model:          chatReq.Model,
		ResponseFormat: chatReq.ResponseFormat,
		CreatedAt:      now,
	}

	choice := chatResp.Choices[0]
	resp := storage.CompletionResponse{
		ID:                 chatResp.ID,
		RequestID:          req.ID,
		Provider:           chatResp.Provider,
		Model:              chatResp.Model,
		Created:            chatResp.Created,
		PromptTokens:       chatResp.Usage.PromptTokens,
		CompletionTokens:   chatResp.Usage.CompletionTokens,
		TotalTokens:        chatResp.Usage.TotalTokens,
		FinishReason:       choice.FinishReason,
		ChoiceRole:         choice.Message.Role,
		ChoiceContent:      choice.Message.Content,
		AnnotationTargetID: uuid.New().String(),
		CreatedAt:          now,
	}

	if err := s.store.InsertCapture(req, resp); err != nil {
		return fmt.Errorf("inserting structured capture: %w", err)
	}

	s.logger.Info("captured completion",
		"project_id", ex.ProjectID,
		"request_id", req.ID,
		"response_id", resp.ID,
		"model", resp.Model)
	return nil
}

// HashMessages returns the hex SHA-256 of the canonical encoding of a
// messages array. The value is decoded and re-encoded so that key order and
// whitespace differences in the incoming JSON do not change the hash.
func HashMessages(messages json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(messages, &v); err != nil {
		return "", fmt.Errorf("decoding messages: %w", err)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding messages: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
