package storage

import (
	"fmt"
	"time"
)

// InsertAlternative stores a human-submitted alternative completion together
// with its fresh annotation target.
func (s *Store) InsertAlternative(a Alternative) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning alternative transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO annotation_targets (id, created_at) VALUES (?, ?)`,
		a.AnnotationTargetID, a.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting annotation target: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO alternatives (id, request_id, content, rater_id, annotation_target_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.RequestID, a.Content, a.RaterID, a.AnnotationTargetID,
		a.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting alternative: %w", err)
	}

	return tx.Commit()
}

// ListAlternatives returns the alternatives for a request in creation order.
func (s *Store) ListAlternatives(requestID string) ([]Alternative, error) {
	rows, err := s.db.Query(`
		SELECT id, request_id, content, rater_id, annotation_target_id, created_at
		FROM alternatives WHERE request_id = ? ORDER BY created_at ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alts []Alternative
	for rows.Next() {
		var a Alternative
		var createdAt string
		if err := rows.Scan(&a.ID, &a.RequestID, &a.Content, &a.RaterID, &a.AnnotationTargetID, &createdAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		alts = append(alts, a)
	}
	return alts, rows.Err()
}

// TargetExists reports whether an annotation target row exists.
func (s *Store) TargetExists(targetID string) (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM annotation_targets WHERE id = ?`, targetID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// InsertAnnotation records a rater's judgement. Annotations are never
// updated; only inserted and deleted.
func (s *Store) InsertAnnotation(a Annotation) error {
	_, err := s.db.Exec(`
		INSERT INTO annotations (id, target_id, reward, rater_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.TargetID, a.Reward, a.RaterID, nullableJSON(a.Metadata),
		a.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListAnnotations returns a target's annotations in creation order.
func (s *Store) ListAnnotations(targetID string) ([]Annotation, error) {
	rows, err := s.db.Query(`
		SELECT id, target_id, reward, rater_id, metadata, created_at
		FROM annotations WHERE target_id = ? ORDER BY created_at ASC`, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAnnotations(rows)
}

func (s *Store) DeleteAnnotation(id string) error {
	res, err := s.db.Exec(`DELETE FROM annotations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTarget removes an annotation target and every annotation attached to
// it. The owning candidate row keeps its dangling reference; the capture and
// alternative paths never reuse target ids.
func (s *Store) DeleteTarget(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM annotations WHERE target_id = ?`, id); err != nil {
		return fmt.Errorf("deleting annotations: %w", err)
	}

	res, err := tx.Exec(`DELETE FROM annotation_targets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}
