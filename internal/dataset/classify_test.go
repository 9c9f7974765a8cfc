package dataset

import (
	"testing"
	"time"
)

func reward(v float64) *float64 { return &v }

// annotated builds a candidate whose target carries the given rewards.
// A nil entry is an annotation without a reward.
func annotated(targetID string, rewards ...*float64) Candidate {
	t := Target{ID: targetID}
	for i, r := range rewards {
		t.Annotations = append(t.Annotations, Annotation{
			ID:        targetID + "-a" + string(rune('0'+i)),
			Reward:    r,
			CreatedAt: time.Date(2025, 6, 1, 12, 0, i, 0, time.UTC),
		})
	}
	return Candidate{
		Kind:      KindPrimary,
		ID:        targetID + "-cand",
		Content:   "some content",
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Target:    t,
	}
}

func TestAverageReward(t *testing.T) {
	tests := []struct {
		name    string
		rewards []*float64
		want    float64
		wantOK  bool
	}{
		{"no annotations", nil, 0, false},
		{"single full reward", []*float64{reward(1.0)}, 1.0, true},
		{"all nil rewards", []*float64{nil, nil}, 0, false},
		{"nil rewards dilute the average", []*float64{reward(1.0), nil}, 0.5, true},
		{"mixed rewards", []*float64{reward(0.2), reward(0.1)}, 0.15, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := annotated("t1", tt.rewards...)
			got, ok := AverageReward(c.Target.Annotations)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("average = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSFTExample_NoAnnotations(t *testing.T) {
	c := annotated("t1")
	if IsSFTExample(c, nil, 0.75) {
		t.Error("candidate with zero annotations qualified as SFT example")
	}
	if IsDPONegativeExample(c, nil, 0.25) {
		t.Error("candidate with zero annotations qualified as DPO negative")
	}
}

func TestIsSFTExample_RewardOnly(t *testing.T) {
	// Annotation [1.0], threshold 0.75, no schema.
	c := annotated("t1", reward(1.0))
	if !IsSFTExample(c, nil, 0.75) {
		t.Error("reward 1.0 against threshold 0.75 should qualify")
	}

	c = annotated("t2", reward(0.5))
	if IsSFTExample(c, nil, 0.75) {
		t.Error("reward 0.5 against threshold 0.75 should not qualify")
	}
}

func TestIsSFTExample_ThresholdBoundaryInclusive(t *testing.T) {
	c := annotated("t1", reward(0.75))
	if !IsSFTExample(c, nil, 0.75) {
		t.Error("average exactly at threshold should qualify as SFT")
	}
}

func TestIsDPONegativeExample_RewardOnly(t *testing.T) {
	// Annotations [0.2, 0.1] average to 0.15, below 0.25.
	c := annotated("t1", reward(0.2), reward(0.1))
	if !IsDPONegativeExample(c, nil, 0.25) {
		t.Error("average 0.15 against negative threshold 0.25 should qualify")
	}
}

func TestIsDPONegativeExample_ThresholdBoundaryExclusive(t *testing.T) {
	c := annotated("t1", reward(0.25))
	if IsDPONegativeExample(c, nil, 0.25) {
		t.Error("average exactly at the negative threshold should not qualify")
	}
}

func mustCompile(t *testing.T, doc string) *Schema {
	t.Helper()
	s, err := CompileSchema([]byte(doc))
	if err != nil {
		t.Fatalf("CompileSchema: %v", err)
	}
	return s
}

const objectSchema = `{
	"type": "object",
	"properties": {"answer": {"type": "string"}},
	"required": ["answer"]
}`

func TestIsSFTExample_SchemaGate(t *testing.T) {
	schema := mustCompile(t, objectSchema)

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"valid per schema", `{"answer": "4"}`, true},
		{"valid JSON failing schema", `{"other": 1}`, false},
		{"not JSON at all", `four`, false},
		{"empty content", ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := annotated("t1", reward(1.0))
			c.Content = tt.content
			if got := IsSFTExample(c, schema, 0.75); got != tt.want {
				t.Errorf("IsSFTExample = %v, want %v (content %q)", got, tt.want, tt.content)
			}
		})
	}
}

func TestIsDPONegativeExample_SchemaStillRequired(t *testing.T) {
	schema := mustCompile(t, objectSchema)

	c := annotated("t1", reward(0.1))
	c.Content = `not json`
	if IsDPONegativeExample(c, schema, 0.25) {
		t.Error("schema-invalid content must not qualify as a negative example")
	}

	c.Content = `{"answer": "wrong but well-formed"}`
	if !IsDPONegativeExample(c, schema, 0.25) {
		t.Error("schema-valid low-reward content should qualify as a negative example")
	}
}

func TestBrokenSchemaRejectsEverything(t *testing.T) {
	c := annotated("t1", reward(1.0))
	c.Content = `{"answer": "4"}`
	if IsSFTExample(c, Broken(), 0.75) {
		t.Error("broken schema must reject candidates regardless of reward")
	}
}

func TestIsDPOReady(t *testing.T) {
	good := annotated("t-good", reward(1.0))
	bad := annotated("t-bad", reward(0.1))
	middling := annotated("t-mid", reward(0.5))

	tests := []struct {
		name string
		req  Request
		want bool
	}{
		{"no candidates", Request{ID: "r1"}, false},
		{"positive only", Request{ID: "r2", Primary: &good}, false},
		{"negative only", Request{ID: "r3", Primary: &bad}, false},
		{"positive and negative", Request{ID: "r4", Primary: &good, Alternatives: []Candidate{bad}}, true},
		{"negative primary, positive alternative", Request{ID: "r5", Primary: &bad, Alternatives: []Candidate{good}}, true},
		{"neither passes", Request{ID: "r6", Primary: &middling, Alternatives: []Candidate{middling}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDPOReady(tt.req, nil, DefaultThresholds); got != tt.want {
				t.Errorf("IsDPOReady = %v, want %v", got, tt.want)
			}
		})
	}
}
