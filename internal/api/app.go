package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kasperhn/intercept/internal/dataset"
	"github.com/kasperhn/intercept/internal/storage"
)

type AppDeps struct {
	Store    *storage.Store
	Datasets *dataset.Service
	Token    string
	// Defaults apply when an export or summary call omits thresholds.
	Defaults dataset.Thresholds
}

// NewAppHandler returns the management API: projects, call keys, alternatives,
// annotations, schemas, summaries, and dataset exports. All routes require
// the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Post("/projects", handleCreateProject(deps))
	r.Get("/projects", handleListProjects(deps))
	r.Get("/projects/{id}", handleGetProject(deps))
	r.Post("/projects/{id}/keys", handleCreateCallKey(deps))
	r.Get("/projects/{id}/keys", handleListCallKeys(deps))
	r.Put("/projects/{id}/schema", handlePutSchema(deps))
	r.Get("/projects/{id}/schema", handleGetSchema(deps))
	r.Get("/projects/{id}/summary", handleSummary(deps))
	r.Get("/projects/{id}/datasets/sft", handleExportSFT(deps))
	r.Get("/projects/{id}/datasets/dpo", handleExportDPO(deps))

	r.Post("/requests/{id}/alternatives", handleCreateAlternative(deps))
	r.Get("/requests/{id}/alternatives", handleListAlternatives(deps))

	r.Post("/targets/{id}/annotations", handleCreateAnnotation(deps))
	r.Get("/targets/{id}/annotations", handleListAnnotations(deps))
	r.Delete("/targets/{id}", handleDeleteTarget(deps))

	r.Delete("/annotations/{id}", handleDeleteAnnotation(deps))

	return r
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func handleCreateProject(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		p := storage.Project{
			ID:          uuid.New().String(),
			Name:        req.Name,
			Description: req.Description,
			CreatedAt:   time.Now().UTC(),
			IsActive:    true,
		}
		if err := deps.Store.CreateProject(p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create project: %v", err)
			return
		}

		// Every project starts with one active call key so capture works
		// immediately.
		k := storage.CallKey{
			ID:        uuid.New().String(),
			ProjectID: p.ID,
			Key:       storage.NewCallKeyValue(),
			CreatedAt: time.Now().UTC(),
			IsActive:  true,
		}
		if err := deps.Store.CreateCallKey(k); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create call key: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"project": p,
			"callKey": k,
		})
	}
}

func handleListProjects(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := deps.Store.ListProjects()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list projects: %v", err)
			return
		}
		if projects == nil {
			projects = []storage.Project{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(projects)
	}
}

func handleGetProject(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		p, err := deps.Store.GetProject(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get project: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	}
}

func handleCreateCallKey(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		if _, err := deps.Store.GetProject(projectID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get project: %v", err)
			return
		}

		k := storage.CallKey{
			ID:        uuid.New().String(),
			ProjectID: projectID,
			Key:       storage.NewCallKeyValue(),
			CreatedAt: time.Now().UTC(),
			IsActive:  true,
		}
		if err := deps.Store.CreateCallKey(k); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create call key: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(k)
	}
}

func handleListCallKeys(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		keys, err := deps.Store.ListCallKeys(projectID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list call keys: %v", err)
			return
		}
		if keys == nil {
			keys = []storage.CallKey{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(keys)
	}
}

type putSchemaRequest struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

func handlePutSchema(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req putSchemaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Schema) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "schema is required")
			return
		}

		// The schema must at least compile; a document that can't is stored
		// nowhere rather than silently rejecting every future candidate.
		if _, err := dataset.CompileSchema(req.Schema); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "schema does not compile: %v", err)
			return
		}

		if _, err := deps.Store.GetProject(projectID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get project: %v", err)
			return
		}

		ps := storage.ProjectSchema{
			ID:        uuid.New().String(),
			ProjectID: projectID,
			Name:      req.Name,
			Document:  req.Schema,
			IsActive:  true,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.SetActiveSchema(ps); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to set schema: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ps)
	}
}

func handleGetSchema(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		ps, err := deps.Store.GetActiveSchema(projectID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no active schema for project")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get schema: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ps)
	}
}

func handleSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		t := deps.Defaults
		if v, ok := parseFloatParam(r, "sft_threshold"); ok {
			t.SFT = v
		}
		if v, ok := parseFloatParam(r, "dpo_threshold"); ok {
			t.DPONegative = v
		}

		report, err := deps.Datasets.Summarize(r.Context(), projectID, t)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to summarize project: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(report)
	}
}

func handleExportSFT(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		threshold := deps.Defaults.SFT
		if v, ok := parseFloatParam(r, "threshold"); ok {
			threshold = v
		}

		convs, err := deps.Datasets.GenerateSFT(r.Context(), projectID, threshold)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to generate dataset: %v", err)
			return
		}

		writeDataset(w, r, convs)
	}
}

func handleExportDPO(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		t := deps.Defaults
		if v, ok := parseFloatParam(r, "sft_threshold"); ok {
			t.SFT = v
		}
		if v, ok := parseFloatParam(r, "dpo_threshold"); ok {
			t.DPONegative = v
		}

		format := r.URL.Query().Get("format")
		if format == "hub" || format == "hub-jsonl" {
			pairs, err := deps.Datasets.GenerateDPOHub(r.Context(), projectID, t)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to generate dataset: %v", err)
				return
			}
			writeEncoded(w, pairs, format == "hub-jsonl")
			return
		}

		pairs, err := deps.Datasets.GenerateDPO(r.Context(), projectID, t)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to generate dataset: %v", err)
			return
		}

		writeDataset(w, r, pairs)
	}
}

type createAlternativeRequest struct {
	Content string `json:"content"`
	RaterID string `json:"raterId"`
}

func handleCreateAlternative(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "id")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createAlternativeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		if _, err := deps.Store.GetRequest(requestID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "request not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get request: %v", err)
			return
		}

		alt := storage.Alternative{
			ID:                 uuid.New().String(),
			RequestID:          requestID,
			Content:            req.Content,
			RaterID:            req.RaterID,
			AnnotationTargetID: uuid.New().String(),
			CreatedAt:          time.Now().UTC(),
		}
		if err := deps.Store.InsertAlternative(alt); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create alternative: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(alt)
	}
}

func handleListAlternatives(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "id")

		alts, err := deps.Store.ListAlternatives(requestID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list alternatives: %v", err)
			return
		}
		if alts == nil {
			alts = []storage.Alternative{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(alts)
	}
}

type createAnnotationRequest struct {
	Reward   *float64        `json:"reward"`
	RaterID  string          `json:"raterId"`
	Metadata json.RawMessage `json:"metadata"`
}

func handleCreateAnnotation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID := chi.URLParam(r, "id")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createAnnotationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		ok, err := deps.Store.TargetExists(targetID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to check target: %v", err)
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "annotation target not found")
			return
		}

		ann := storage.Annotation{
			ID:        uuid.New().String(),
			TargetID:  targetID,
			Reward:    req.Reward,
			RaterID:   req.RaterID,
			Metadata:  req.Metadata,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.InsertAnnotation(ann); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create annotation: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(ann)
	}
}

func handleListAnnotations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID := chi.URLParam(r, "id")

		anns, err := deps.Store.ListAnnotations(targetID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list annotations: %v", err)
			return
		}
		if anns == nil {
			anns = []storage.Annotation{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anns)
	}
}

func handleDeleteAnnotation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteAnnotation(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "annotation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete annotation: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleDeleteTarget(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteTarget(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "annotation target not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete target: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

// writeDataset encodes records as a JSON array or, with format=jsonl, as one
// JSON object per line.
func writeDataset[T any](w http.ResponseWriter, r *http.Request, records []T) {
	writeEncoded(w, records, r.URL.Query().Get("format") == "jsonl")
}

func writeEncoded[T any](w http.ResponseWriter, records []T, jsonl bool) {
	if jsonl {
		data, err := dataset.EncodeJSONL(records)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to encode dataset: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/jsonl")
		w.Write(data)
		return
	}

	data, err := dataset.EncodeJSON(records)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to encode dataset: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func parseFloatParam(r *http.Request, key string) (float64, bool) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
