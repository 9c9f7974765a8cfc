package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// NewCallKeyValue generates a fresh call key in the sk_<hex> format.
func NewCallKeyValue() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return "sk_" + hex.EncodeToString(buf)
}

func (s *Store) CreateProject(p Project) error {
	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, description, created_at, is_active)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.CreatedAt.UTC().Format(time.RFC3339), p.IsActive,
	)
	return err
}

func (s *Store) GetProject(id string) (Project, error) {
	var p Project
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, name, description, created_at, is_active
		FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &createdAt, &p.IsActive)
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Project{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return p, nil
}

func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(`
		SELECT id, name, description, created_at, is_active
		FROM projects ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &createdAt, &p.IsActive); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) CreateCallKey(k CallKey) error {
	_, err := s.db.Exec(`
		INSERT INTO call_keys (id, project_id, key, created_at, is_active)
		VALUES (?, ?, ?, ?, ?)`,
		k.ID, k.ProjectID, k.Key, k.CreatedAt.UTC().Format(time.RFC3339), k.IsActive,
	)
	return err
}

// ResolveCallKey looks up an active call key by its value and returns it with
// the owning project id populated.
func (s *Store) ResolveCallKey(key string) (CallKey, error) {
	var k CallKey
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, project_id, key, created_at, is_active
		FROM call_keys WHERE key = ? AND is_active = 1`, key,
	).Scan(&k.ID, &k.ProjectID, &k.Key, &createdAt, &k.IsActive)
	if err == sql.ErrNoRows {
		return CallKey{}, ErrNotFound
	}
	if err != nil {
		return CallKey{}, err
	}
	if k.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return CallKey{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return k, nil
}

// ListCallKeys returns a project's call keys, newest first.
func (s *Store) ListCallKeys(projectID string) ([]CallKey, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, key, created_at, is_active
		FROM call_keys WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []CallKey
	for rows.Next() {
		var k CallKey
		var createdAt string
		if err := rows.Scan(&k.ID, &k.ProjectID, &k.Key, &createdAt, &k.IsActive); err != nil {
			return nil, err
		}
		if k.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SetActiveSchema inserts a new active schema for a project, deactivating any
// previously active rows in the same transaction. Old rows are kept inactive
// for history.
func (s *Store) SetActiveSchema(ps ProjectSchema) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning schema transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE project_schemas SET is_active = 0 WHERE project_id = ? AND is_active = 1`, ps.ProjectID); err != nil {
		return fmt.Errorf("deactivating previous schemas: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO project_schemas (id, project_id, name, document, is_active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)`,
		ps.ID, ps.ProjectID, ps.Name, string(ps.Document), ps.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting schema: %w", err)
	}

	return tx.Commit()
}

// GetActiveSchema returns the project's active schema row.
func (s *Store) GetActiveSchema(projectID string) (ProjectSchema, error) {
	var ps ProjectSchema
	var document, createdAt string
	err := s.db.QueryRow(`
		SELECT id, project_id, name, document, is_active, created_at
		FROM project_schemas WHERE project_id = ? AND is_active = 1`, projectID,
	).Scan(&ps.ID, &ps.ProjectID, &ps.Name, &document, &ps.IsActive, &createdAt)
	if err == sql.ErrNoRows {
		return ProjectSchema{}, ErrNotFound
	}
	if err != nil {
		return ProjectSchema{}, err
	}
	ps.Document = []byte(document)
	if ps.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return ProjectSchema{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return ps, nil
}

// ActiveSchema returns the active schema document for a project, or nil when
// none is set. It satisfies the dataset.Fetcher contract.
func (s *Store) ActiveSchema(ctx context.Context, projectID string) ([]byte, error) {
	var document string
	err := s.db.QueryRowContext(ctx, `
		SELECT document FROM project_schemas WHERE project_id = ? AND is_active = 1`, projectID,
	).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(document), nil
}
