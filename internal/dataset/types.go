package dataset

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is a single chat turn as stored on a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Annotation is one rater's judgement of a candidate. Reward is nil when the
// rater recorded metadata without a score.
type Annotation struct {
	ID        string
	Reward    *float64
	RaterID   string
	Metadata  json.RawMessage
	CreatedAt time.Time
}

// Target collects the annotations attached to a single candidate. Exactly one
// candidate (primary or alternative) owns a given target.
type Target struct {
	ID          string
	Annotations []Annotation
}

// CandidateKind distinguishes the provider's original response from a
// human-submitted alternative.
type CandidateKind string

const (
	KindPrimary     CandidateKind = "primary"
	KindAlternative CandidateKind = "alternative"
)

// Candidate is one possible completion answering a request, together with its
// annotation target.
type Candidate struct {
	Kind      CandidateKind
	ID        string
	Content   string
	CreatedAt time.Time
	Target    Target
}

// Request is a logged completion request with its full candidate set.
// Messages holds the stored message list verbatim; it is decoded on demand
// because stored payloads are not guaranteed to be well formed.
type Request struct {
	ID           string
	Messages     json.RawMessage
	Primary      *Candidate
	Alternatives []Candidate
}

// Candidates returns the primary candidate (when present) followed by all
// alternatives.
func (r Request) Candidates() []Candidate {
	out := make([]Candidate, 0, len(r.Alternatives)+1)
	if r.Primary != nil {
		out = append(out, *r.Primary)
	}
	return append(out, r.Alternatives...)
}

// Thresholds holds the reward cutoffs for example classification.
type Thresholds struct {
	SFT         float64
	DPONegative float64
}

// DefaultThresholds are used when a caller does not override the cutoffs.
var DefaultThresholds = Thresholds{SFT: 0.75, DPONegative: 0.25}

// DecodeMessages parses a stored message list. It fails when the payload is
// not a JSON array or any element is missing a string role or content.
func DecodeMessages(raw json.RawMessage) ([]Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("message list is empty")
	}

	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("message list is not an array: %w", err)
	}

	msgs := make([]Message, 0, len(items))
	for i, item := range items {
		var m Message
		roleRaw, ok := item["role"]
		if !ok {
			return nil, fmt.Errorf("message %d has no role", i)
		}
		if err := json.Unmarshal(roleRaw, &m.Role); err != nil {
			return nil, fmt.Errorf("message %d role is not a string: %w", i, err)
		}
		contentRaw, ok := item["content"]
		if !ok {
			return nil, fmt.Errorf("message %d has no content", i)
		}
		if err := json.Unmarshal(contentRaw, &m.Content); err != nil {
			return nil, fmt.Errorf("message %d content is not a string: %w", i, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
