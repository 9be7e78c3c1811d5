package domain

import (
	"context"
	"time"
)

// WorkspaceID identifies a workspace.
type WorkspaceID string

// Workspace is a named, immutable collection of staged file paths.
// Deployments reference a workspace by ID but never own it.
type Workspace struct {
	ID        WorkspaceID
	Paths     []string
	CreatedAt time.Time
}

// Stager validates and normalizes the files a workspace is created from.
// It returns [ErrNotFound] if a path does not exist.
type Stager interface {
	Stage(ctx context.Context, paths []string) ([]string, error)
}
