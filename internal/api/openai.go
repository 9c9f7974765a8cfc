package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kasperhn/intercept/internal/capture"
	"github.com/kasperhn/intercept/internal/proxy"
	"github.com/kasperhn/intercept/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// InterceptKeyHeader carries the project call key. When a request arrives
// with a valid key the exchange is captured under that project; without the
// header the request is proxied untouched.
const InterceptKeyHeader = "X-Intercept-Key"

// NewOpenAIHandler returns an http.Handler implementing the OpenAI-compatible
// REST surface. Non-streaming chat completions carrying a valid intercept key
// are recorded via the capture service; streaming responses pass through
// unrecorded.
func NewOpenAIHandler(p *proxy.Client, store *storage.Store, rec *capture.Service) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/v1/models", handleModels(p))
	r.Post("/v1/chat/completions", handleChatCompletions(p, store, rec))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleModels(p *proxy.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models, err := p.ListModels(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to list models: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(proxy.ModelList{
			Object: "list",
			Data:   models,
		})
	}
}

func handleChatCompletions(p *proxy.Client, store *storage.Store, rec *capture.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		rawReq, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
			return
		}

		var req proxy.ChatRequest
		if err := json.Unmarshal(rawReq, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if !hasMessages(req.Messages) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages is required and must not be empty")
			return
		}

		// An intercept key binds the call to a project. A bad key is an error
		// rather than a silent passthrough: the caller expected capture.
		var projectID string
		if key := r.Header.Get(InterceptKeyHeader); key != "" {
			ck, err := store.ResolveCallKey(key)
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "unknown or inactive intercept key")
				return
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "resolving intercept key: %v", err)
				return
			}
			projectID = ck.ProjectID
		}

		rc, err := p.Chat(r.Context(), req)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "upstream error: %v", err)
			return
		}
		defer rc.Close()

		if req.Stream {
			if projectID != "" {
				slog.Debug("streaming request not captured", "project_id", projectID)
			}
			streamResponse(w, rc)
			return
		}

		rawResp, err := io.ReadAll(rc)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "reading upstream response: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(rawResp)

		if projectID == "" {
			return
		}

		// Capture after the client has its response. Failures are logged, not
		// surfaced: the proxied call already succeeded.
		recErr := rec.Record(r.Context(), capture.Exchange{
			ProjectID:  projectID,
			Method:     r.Method,
			URL:        r.URL.Path,
			ReqBody:    rawReq,
			StatusCode: http.StatusOK,
			RespBody:   rawResp,
		})
		if recErr != nil {
			slog.Error("capture failed", "project_id", projectID, "error", recErr)
		}
	}
}

func streamResponse(w http.ResponseWriter, rc io.Reader) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	reader := bufio.NewReader(rc)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			w.Write(line)
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				slog.Error("upstream stream read error", "error", err)
				errPayload, marshalErr := json.Marshal(map[string]any{
					"error": map[string]any{
						"message": "upstream read error",
						"type":    "server_error",
					},
				})
				if marshalErr == nil {
					fmt.Fprintf(w, "data: %s\n\n", errPayload)
					flusher.Flush()
				}
			}
			break
		}
	}
}

func hasMessages(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(raw), &arr); err != nil {
		return false
	}
	return len(arr) > 0
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
