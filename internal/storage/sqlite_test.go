package storage

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies that hot-path indexes are created by the migrations.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_call_keys_key", "idx_requests_project", "idx_annotations_target", "idx_project_schemas_project_active"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

// seedProject inserts a project with one active call key and returns both.
func seedProject(t *testing.T, s *Store) (Project, CallKey) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	p := Project{ID: uuid.New().String(), Name: "Default Project", CreatedAt: now, IsActive: true}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	k := CallKey{ID: uuid.New().String(), ProjectID: p.ID, Key: NewCallKeyValue(), CreatedAt: now, IsActive: true}
	if err := s.CreateCallKey(k); err != nil {
		t.Fatalf("CreateCallKey: %v", err)
	}
	return p, k
}

// seedCapture inserts a request log plus structured request/response rows and
// returns the request and response.
func seedCapture(t *testing.T, s *Store, projectID string, messages string, content string) (CompletionRequest, CompletionResponse) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)

	log := RequestLog{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Method:    "POST",
		URL:       "/v1/chat/completions",
		CreatedAt: now,
	}
	if err := s.InsertRequestLog(log); err != nil {
		t.Fatalf("InsertRequestLog: %v", err)
	}

	req := CompletionRequest{
		ID:           uuid.New().String(),
		ProjectID:    projectID,
		RequestLogID: log.ID,
		Messages:     []byte(messages),
		MessagesHash: "hash",
		Model:        "openai/gpt-4o",
		CreatedAt:    now,
	}
	resp := CompletionResponse{
		ID:                 "gen-" + uuid.New().String(),
		RequestID:          req.ID,
		Provider:           "OpenAI",
		Model:              "openai/gpt-4o",
		Created:            now.Unix(),
		ChoiceRole:         "assistant",
		ChoiceContent:      content,
		AnnotationTargetID: uuid.New().String(),
		CreatedAt:          now,
	}
	if err := s.InsertCapture(req, resp); err != nil {
		t.Fatalf("InsertCapture: %v", err)
	}
	return req, resp
}

func TestProjectAndCallKeyRoundTrip(t *testing.T) {
	s := openTestStore(t)
	p, k := seedProject(t, s)

	got, err := s.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Name != p.Name || !got.IsActive {
		t.Errorf("project round-trip mismatch: %+v", got)
	}

	resolved, err := s.ResolveCallKey(k.Key)
	if err != nil {
		t.Fatalf("ResolveCallKey: %v", err)
	}
	if resolved.ProjectID != p.ID {
		t.Errorf("resolved project = %q, want %q", resolved.ProjectID, p.ID)
	}

	if _, err := s.ResolveCallKey("sk_missing"); err != ErrNotFound {
		t.Errorf("ResolveCallKey(missing) error = %v, want ErrNotFound", err)
	}

	if !strings.HasPrefix(NewCallKeyValue(), "sk_") {
		t.Error("call keys should use the sk_ prefix")
	}
}

func TestInsertCaptureRoundTrip(t *testing.T) {
	s := openTestStore(t)
	p, _ := seedProject(t, s)

	req, resp := seedCapture(t, s, p.ID, `[{"role":"user","content":"2+2?"}]`, "4")

	got, err := s.GetRequest(req.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if string(got.Messages) != `[{"role":"user","content":"2+2?"}]` {
		t.Errorf("messages = %s", got.Messages)
	}
	if got.ResponseFormat != nil {
		t.Errorf("response_format should stay nil, got %s", got.ResponseFormat)
	}

	ok, err := s.TargetExists(resp.AnnotationTargetID)
	if err != nil {
		t.Fatalf("TargetExists: %v", err)
	}
	if !ok {
		t.Error("capture did not create the response's annotation target")
	}
}

func TestAlternativeAndAnnotationRoundTrip(t *testing.T) {
	s := openTestStore(t)
	p, _ := seedProject(t, s)
	req, _ := seedCapture(t, s, p.ID, `[{"role":"user","content":"q"}]`, "a")

	alt := Alternative{
		ID:                 uuid.New().String(),
		RequestID:          req.ID,
		Content:            "a better answer",
		RaterID:            "rater-1",
		AnnotationTargetID: uuid.New().String(),
		CreatedAt:          time.Now().UTC().Truncate(time.Second),
	}
	if err := s.InsertAlternative(alt); err != nil {
		t.Fatalf("InsertAlternative: %v", err)
	}

	alts, err := s.ListAlternatives(req.ID)
	if err != nil {
		t.Fatalf("ListAlternatives: %v", err)
	}
	if len(alts) != 1 || alts[0].Content != "a better answer" {
		t.Errorf("alternatives = %+v", alts)
	}

	rewardVal := 0.9
	ann := Annotation{
		ID:        uuid.New().String(),
		TargetID:  alt.AnnotationTargetID,
		Reward:    &rewardVal,
		RaterID:   "rater-1",
		Metadata:  json.RawMessage(`{"note":"good"}`),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.InsertAnnotation(ann); err != nil {
		t.Fatalf("InsertAnnotation: %v", err)
	}

	noReward := Annotation{
		ID:        uuid.New().String(),
		TargetID:  alt.AnnotationTargetID,
		RaterID:   "rater-2",
		CreatedAt: time.Now().UTC().Truncate(time.Second).Add(time.Second),
	}
	if err := s.InsertAnnotation(noReward); err != nil {
		t.Fatalf("InsertAnnotation (nil reward): %v", err)
	}

	anns, err := s.ListAnnotations(alt.AnnotationTargetID)
	if err != nil {
		t.Fatalf("ListAnnotations: %v", err)
	}
	if len(anns) != 2 {
		t.Fatalf("got %d annotations, want 2", len(anns))
	}
	if anns[0].Reward == nil || *anns[0].Reward != 0.9 {
		t.Errorf("first annotation reward = %v, want 0.9", anns[0].Reward)
	}
	if anns[1].Reward != nil {
		t.Errorf("second annotation reward = %v, want nil", anns[1].Reward)
	}

	if err := s.DeleteAnnotation(anns[0].ID); err != nil {
		t.Fatalf("DeleteAnnotation: %v", err)
	}
	if err := s.DeleteAnnotation(anns[0].ID); err != ErrNotFound {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}

	if err := s.DeleteTarget(alt.AnnotationTargetID); err != nil {
		t.Fatalf("DeleteTarget: %v", err)
	}
	remaining, err := s.ListAnnotations(alt.AnnotationTargetID)
	if err != nil {
		t.Fatalf("ListAnnotations after target delete: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("annotations survived target deletion: %+v", remaining)
	}
}

func TestSetActiveSchemaLastWriterWins(t *testing.T) {
	s := openTestStore(t)
	p, _ := seedProject(t, s)
	now := time.Now().UTC().Truncate(time.Second)

	first := ProjectSchema{ID: uuid.New().String(), ProjectID: p.ID, Name: "v1", Document: []byte(`{"type":"object"}`), CreatedAt: now}
	if err := s.SetActiveSchema(first); err != nil {
		t.Fatalf("SetActiveSchema(first): %v", err)
	}

	second := ProjectSchema{ID: uuid.New().String(), ProjectID: p.ID, Name: "v2", Document: []byte(`{"type":"array"}`), CreatedAt: now.Add(time.Second)}
	if err := s.SetActiveSchema(second); err != nil {
		t.Fatalf("SetActiveSchema(second): %v", err)
	}

	active, err := s.GetActiveSchema(p.ID)
	if err != nil {
		t.Fatalf("GetActiveSchema: %v", err)
	}
	if active.ID != second.ID || string(active.Document) != `{"type":"array"}` {
		t.Errorf("active schema = %+v, want the second one", active)
	}

	// The first row is kept for history, inactive.
	var inactive int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM project_schemas WHERE project_id = ? AND is_active = 0`, p.ID).Scan(&inactive); err != nil {
		t.Fatalf("counting inactive schemas: %v", err)
	}
	if inactive != 1 {
		t.Errorf("inactive schema rows = %d, want 1", inactive)
	}

	doc, err := s.ActiveSchema(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("ActiveSchema: %v", err)
	}
	if string(doc) != `{"type":"array"}` {
		t.Errorf("ActiveSchema = %s", doc)
	}
}

func TestActiveSchemaAbsentIsNil(t *testing.T) {
	s := openTestStore(t)
	p, _ := seedProject(t, s)

	doc, err := s.ActiveSchema(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("ActiveSchema: %v", err)
	}
	if doc != nil {
		t.Errorf("ActiveSchema with no schema = %s, want nil", doc)
	}
}

func TestAnnotatedRequestsGraph(t *testing.T) {
	s := openTestStore(t)
	p, _ := seedProject(t, s)

	req, resp := seedCapture(t, s, p.ID, `[{"role":"user","content":"2+2?"}]`, "4")

	alt := Alternative{
		ID:                 uuid.New().String(),
		RequestID:          req.ID,
		Content:            "five",
		AnnotationTargetID: uuid.New().String(),
		CreatedAt:          time.Now().UTC().Truncate(time.Second),
	}
	if err := s.InsertAlternative(alt); err != nil {
		t.Fatalf("InsertAlternative: %v", err)
	}

	rewards := []struct {
		target string
		value  float64
	}{
		{resp.AnnotationTargetID, 1.0},
		{alt.AnnotationTargetID, 0.1},
	}
	for i, r := range rewards {
		v := r.value
		err := s.InsertAnnotation(Annotation{
			ID:        uuid.New().String(),
			TargetID:  r.target,
			Reward:    &v,
			CreatedAt: time.Now().UTC().Truncate(time.Second).Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("InsertAnnotation: %v", err)
		}
	}

	graph, err := s.AnnotatedRequests(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("AnnotatedRequests: %v", err)
	}
	if len(graph) != 1 {
		t.Fatalf("got %d requests, want 1", len(graph))
	}

	r := graph[0]
	if r.Primary == nil {
		t.Fatal("primary candidate missing")
	}
	if r.Primary.Content != "4" {
		t.Errorf("primary content = %q", r.Primary.Content)
	}
	if len(r.Primary.Target.Annotations) != 1 || *r.Primary.Target.Annotations[0].Reward != 1.0 {
		t.Errorf("primary annotations = %+v", r.Primary.Target.Annotations)
	}
	if len(r.Alternatives) != 1 {
		t.Fatalf("got %d alternatives, want 1", len(r.Alternatives))
	}
	if len(r.Alternatives[0].Target.Annotations) != 1 || *r.Alternatives[0].Target.Annotations[0].Reward != 0.1 {
		t.Errorf("alternative annotations = %+v", r.Alternatives[0].Target.Annotations)
	}
}

func TestAnnotatedRequestsEmptyProject(t *testing.T) {
	s := openTestStore(t)
	p, _ := seedProject(t, s)

	graph, err := s.AnnotatedRequests(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("AnnotatedRequests: %v", err)
	}
	if len(graph) != 0 {
		t.Errorf("got %d requests for empty project, want 0", len(graph))
	}
}
