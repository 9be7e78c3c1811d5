package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fleetshift/deployd/internal/domain"
)

// WorkspaceRepo implements [domain.WorkspaceRepository] backed by SQLite.
type WorkspaceRepo struct {
	DB *sql.DB
}

func (r *WorkspaceRepo) Create(ctx context.Context, ws domain.Workspace) error {
	paths, err := json.Marshal(ws.Paths)
	if err != nil {
		return fmt.Errorf("marshal paths: %w", err)
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO workspaces (id, paths, created_at) VALUES (?, ?, ?)`,
		string(ws.ID), string(paths), formatTime(ws.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("workspace %q: %w", ws.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (r *WorkspaceRepo) Get(ctx context.Context, id domain.WorkspaceID) (domain.Workspace, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, paths, created_at FROM workspaces WHERE id = ?`, string(id))
	ws, err := scanWorkspace(row)
	if errors.Is(err, domain.ErrNotFound) {
		return ws, fmt.Errorf("workspace %q: %w", id, domain.ErrNotFound)
	}
	return ws, err
}

func (r *WorkspaceRepo) List(ctx context.Context) ([]domain.Workspace, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, paths, created_at FROM workspaces ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []domain.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func scanWorkspace(s scanner) (domain.Workspace, error) {
	var ws domain.Workspace
	var id, pathsJSON, created string
	if err := s.Scan(&id, &pathsJSON, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ws, domain.ErrNotFound
		}
		return ws, fmt.Errorf("scan workspace: %w", err)
	}
	ws.ID = domain.WorkspaceID(id)
	if err := json.Unmarshal([]byte(pathsJSON), &ws.Paths); err != nil {
		return ws, fmt.Errorf("unmarshal paths: %w", err)
	}
	t, err := parseTime(created)
	if err != nil {
		return ws, fmt.Errorf("parse created_at: %w", err)
	}
	ws.CreatedAt = t
	return ws, nil
}
