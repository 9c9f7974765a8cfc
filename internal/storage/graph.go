package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kasperhn/intercept/internal/dataset"
)

// AnnotatedRequests returns a project's requests with their primary response,
// alternatives, annotation targets, and annotations all resolved, in request
// creation order. It satisfies the dataset.Fetcher contract.
func (s *Store) AnnotatedRequests(ctx context.Context, projectID string) ([]dataset.Request, error) {
	reqRows, err := s.db.QueryContext(ctx, `
		SELECT id, messages, created_at
		FROM requests WHERE project_id = ? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying requests: %w", err)
	}
	defer reqRows.Close()

	var requests []dataset.Request
	index := map[string]int{}
	for reqRows.Next() {
		var id, messages, createdAt string
		if err := reqRows.Scan(&id, &messages, &createdAt); err != nil {
			return nil, err
		}
		index[id] = len(requests)
		requests = append(requests, dataset.Request{ID: id, Messages: []byte(messages)})
	}
	if err := reqRows.Err(); err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return requests, nil
	}

	var targetIDs []string

	respRows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.request_id, r.choice_content, r.annotation_target_id, r.created_at
		FROM responses r JOIN requests q ON r.request_id = q.id
		WHERE q.project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying responses: %w", err)
	}
	defer respRows.Close()

	for respRows.Next() {
		var id, requestID, content, targetID, createdAt string
		if err := respRows.Scan(&id, &requestID, &content, &targetID, &createdAt); err != nil {
			return nil, err
		}
		created, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing response created_at: %w", err)
		}
		i, ok := index[requestID]
		if !ok {
			continue
		}
		requests[i].Primary = &dataset.Candidate{
			Kind:      dataset.KindPrimary,
			ID:        id,
			Content:   content,
			CreatedAt: created,
			Target:    dataset.Target{ID: targetID},
		}
		targetIDs = append(targetIDs, targetID)
	}
	if err := respRows.Err(); err != nil {
		return nil, err
	}

	altRows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.request_id, a.content, a.annotation_target_id, a.created_at
		FROM alternatives a JOIN requests q ON a.request_id = q.id
		WHERE q.project_id = ? ORDER BY a.created_at ASC, a.id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying alternatives: %w", err)
	}
	defer altRows.Close()

	for altRows.Next() {
		var id, requestID, content, targetID, createdAt string
		if err := altRows.Scan(&id, &requestID, &content, &targetID, &createdAt); err != nil {
			return nil, err
		}
		created, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing alternative created_at: %w", err)
		}
		i, ok := index[requestID]
		if !ok {
			continue
		}
		requests[i].Alternatives = append(requests[i].Alternatives, dataset.Candidate{
			Kind:      dataset.KindAlternative,
			ID:        id,
			Content:   content,
			CreatedAt: created,
			Target:    dataset.Target{ID: targetID},
		})
		targetIDs = append(targetIDs, targetID)
	}
	if err := altRows.Err(); err != nil {
		return nil, err
	}

	if len(targetIDs) == 0 {
		return requests, nil
	}

	anns, err := s.annotationsForTargets(ctx, targetIDs)
	if err != nil {
		return nil, err
	}
	byTarget := map[string][]dataset.Annotation{}
	for _, a := range anns {
		byTarget[a.TargetID] = append(byTarget[a.TargetID], dataset.Annotation{
			ID:        a.ID,
			Reward:    a.Reward,
			RaterID:   a.RaterID,
			Metadata:  a.Metadata,
			CreatedAt: a.CreatedAt,
		})
	}

	for i := range requests {
		if p := requests[i].Primary; p != nil {
			p.Target.Annotations = byTarget[p.Target.ID]
		}
		for j := range requests[i].Alternatives {
			alt := &requests[i].Alternatives[j]
			alt.Target.Annotations = byTarget[alt.Target.ID]
		}
	}

	return requests, nil
}

// annotationsForTargets fetches annotations for a set of target ids in one
// query, in creation order.
func (s *Store) annotationsForTargets(ctx context.Context, targetIDs []string) ([]Annotation, error) {
	placeholders := strings.Repeat(",?", len(targetIDs)-1)
	query := `SELECT id, target_id, reward, rater_id, metadata, created_at
		FROM annotations
		WHERE target_id IN (?` + placeholders + `)
		ORDER BY created_at ASC, id ASC`

	args := make([]any, len(targetIDs))
	for i, id := range targetIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying annotations: %w", err)
	}
	defer rows.Close()
	return scanAnnotations(rows)
}

func scanAnnotations(rows *sql.Rows) ([]Annotation, error) {
	var anns []Annotation
	for rows.Next() {
		var a Annotation
		var reward sql.NullFloat64
		var metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.TargetID, &reward, &a.RaterID, &metadata, &createdAt); err != nil {
			return nil, err
		}
		if reward.Valid {
			v := reward.Float64
			a.Reward = &v
		}
		if metadata.Valid {
			a.Metadata = []byte(metadata.String)
		}
		var err error
		if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		anns = append(anns, a)
	}
	return anns, rows.Err()
}
