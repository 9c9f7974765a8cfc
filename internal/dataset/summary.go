package dataset

import (
	"time"
	"unicode/utf8"
)

// questionLimit bounds the display question derived from a request's messages.
const questionLimit = 50

// Status is the annotation progress of a request toward a dataset.
type Status string

const (
	StatusNone     Status = "none"
	StatusPartial  Status = "partial"
	StatusComplete Status = "complete"
)

// RequestSummary is the per-request row shown to raters: what the request
// asked, how far annotation has progressed, and whether it already
// contributes to either dataset.
type RequestSummary struct {
	ID             string    `json:"id"`
	Question       string    `json:"question"`
	CandidateCount int       `json:"candidateCount"`
	AnnotatedCount int       `json:"annotatedCount"`
	Timestamp      time.Time `json:"timestamp"`
	SFTStatus      Status    `json:"sftStatus"`
	DPOStatus      Status    `json:"dpoStatus"`
}

// SummaryReport aggregates per-request summaries with project-level counts.
type SummaryReport struct {
	Requests      []RequestSummary `json:"requests"`
	SFTReadyCount int              `json:"sftReadyCount"`
	DPOReadyCount int              `json:"dpoReadyCount"`
}

// Summarize derives the annotation status of every request. Requests with
// undecodable message lists still appear, with an empty question.
func Summarize(reqs []Request, schema *Schema, t Thresholds) SummaryReport {
	report := SummaryReport{Requests: make([]RequestSummary, 0, len(reqs))}

	for _, r := range reqs {
		s := RequestSummary{
			ID:        r.ID,
			Timestamp: requestTimestamp(r),
			SFTStatus: StatusNone,
			DPOStatus: StatusNone,
		}

		if msgs, err := DecodeMessages(r.Messages); err == nil {
			s.Question = deriveQuestion(msgs)
		}

		for _, c := range r.Candidates() {
			s.CandidateCount++
			if len(c.Target.Annotations) > 0 {
				s.AnnotatedCount++
				if s.SFTStatus == StatusNone {
					s.SFTStatus = StatusPartial
				}
			}
			if s.SFTStatus != StatusComplete && IsSFTExample(c, schema, t.SFT) {
				s.SFTStatus = StatusComplete
			}
		}

		if IsDPOReady(r, schema, t) {
			s.DPOStatus = StatusComplete
		}

		if s.SFTStatus == StatusComplete {
			report.SFTReadyCount++
		}
		if s.DPOStatus == StatusComplete {
			report.DPOReadyCount++
		}
		report.Requests = append(report.Requests, s)
	}

	return report
}

// requestTimestamp picks the request's most relevant time: the primary
// candidate's creation, or the earliest alternative's when no primary exists.
func requestTimestamp(r Request) time.Time {
	if r.Primary != nil {
		return r.Primary.CreatedAt
	}
	var earliest time.Time
	for _, alt := range r.Alternatives {
		if earliest.IsZero() || alt.CreatedAt.Before(earliest) {
			earliest = alt.CreatedAt
		}
	}
	return earliest
}

// deriveQuestion takes the last user-role message, falling back to the last
// message of any role, truncated for display.
func deriveQuestion(msgs []Message) string {
	if len(msgs) == 0 {
		return ""
	}
	content := msgs[len(msgs)-1].Content
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			content = msgs[i].Content
			break
		}
	}
	return truncate(content, questionLimit)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
