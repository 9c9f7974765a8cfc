package dataset

import (
	"encoding/json"
	"log/slog"
)

// Conversation is one SFT training record: the original message history with
// a qualifying completion appended as the assistant turn.
type Conversation struct {
	Messages []Message `json:"messages"`
}

// PreferenceInput is the shared prompt side of a preference pair.
type PreferenceInput struct {
	Messages          []Message         `json:"messages"`
	Tools             []json.RawMessage `json:"tools"`
	ParallelToolCalls bool              `json:"parallel_tool_calls"`
}

// PreferencePair is one DPO training record in the structured format.
type PreferencePair struct {
	Input              PreferenceInput `json:"input"`
	PreferredOutput    []Message       `json:"preferred_output"`
	NonPreferredOutput []Message       `json:"non_preferred_output"`
}

// HubPreferencePair is one DPO record in the hub export format: full message
// lists per side plus each side's average reward.
type HubPreferencePair struct {
	Prompt        []Message `json:"prompt"`
	Chosen        []Message `json:"chosen"`
	Rejected      []Message `json:"rejected"`
	ScoreChosen   float64   `json:"score_chosen"`
	ScoreRejected float64   `json:"score_rejected"`
}

// BuildSFT assembles the SFT dataset from annotated requests. Each candidate
// passing the SFT check contributes one conversation, so a request with a
// qualifying primary and a qualifying alternative contributes twice. Requests
// with malformed message lists are skipped with a warning.
func BuildSFT(reqs []Request, schema *Schema, sftThreshold float64) []Conversation {
	out := []Conversation{}
	for _, r := range reqs {
		msgs, err := DecodeMessages(r.Messages)
		if err != nil {
			slog.Warn("skipping request with malformed messages", "request_id", r.ID, "error", err)
			continue
		}

		for _, c := range r.Candidates() {
			if !IsSFTExample(c, schema, sftThreshold) {
				continue
			}
			conv := make([]Message, 0, len(msgs)+1)
			conv = append(conv, msgs...)
			conv = append(conv, Message{Role: "assistant", Content: c.Content})
			out = append(out, Conversation{Messages: conv})
		}
	}
	return out
}

// BuildDPO assembles the structured DPO dataset: for each request, the cross
// product of SFT-qualifying and DPO-negative-qualifying candidates, minus
// pairs where both sides are the same annotation target.
func BuildDPO(reqs []Request, schema *Schema, t Thresholds) []PreferencePair {
	out := []PreferencePair{}
	forEachPair(reqs, schema, t, func(msgs []Message, chosen, rejected Candidate) {
		out = append(out, PreferencePair{
			Input: PreferenceInput{
				Messages:          msgs,
				Tools:             []json.RawMessage{},
				ParallelToolCalls: true,
			},
			PreferredOutput:    []Message{{Role: "assistant", Content: chosen.Content}},
			NonPreferredOutput: []Message{{Role: "assistant", Content: rejected.Content}},
		})
	})
	return out
}

// BuildDPOHub assembles the hub-style DPO dataset. Both sides carry their
// average reward; a candidate whose target has no usable reward cannot have
// qualified, so the averages here always exist.
func BuildDPOHub(reqs []Request, schema *Schema, t Thresholds) []HubPreferencePair {
	out := []HubPreferencePair{}
	forEachPair(reqs, schema, t, func(msgs []Message, chosen, rejected Candidate) {
		scoreChosen, ok := AverageReward(chosen.Target.Annotations)
		if !ok {
			return
		}
		scoreRejected, ok := AverageReward(rejected.Target.Annotations)
		if !ok {
			return
		}
		out = append(out, HubPreferencePair{
			Prompt:        msgs,
			Chosen:        []Message{{Role: "assistant", Content: chosen.Content}},
			Rejected:      []Message{{Role: "assistant", Content: rejected.Content}},
			ScoreChosen:   scoreChosen,
			ScoreRejected: scoreRejected,
		})
	})
	return out
}

// forEachPair walks every valid (positive, negative) candidate pairing per
// request, skipping malformed requests and same-target pairs.
func forEachPair(reqs []Request, schema *Schema, t Thresholds, emit func(msgs []Message, chosen, rejected Candidate)) {
	for _, r := range reqs {
		msgs, err := DecodeMessages(r.Messages)
		if err != nil {
			slog.Warn("skipping request with malformed messages", "request_id", r.ID, "error", err)
			continue
		}

		var positives, negatives []Candidate
		for _, c := range r.Candidates() {
			if IsSFTExample(c, schema, t.SFT) {
				positives = append(positives, c)
			}
			if IsDPONegativeExample(c, schema, t.DPONegative) {
				negatives = append(negatives, c)
			}
		}
		if len(positives) == 0 || len(negatives) == 0 {
			continue
		}

		for _, pos := range positives {
			for _, neg := range negatives {
				if pos.Target.ID == neg.Target.ID {
					continue
				}
				emit(msgs, pos, neg)
			}
		}
	}
}
