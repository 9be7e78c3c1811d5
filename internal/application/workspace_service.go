package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetshift/deployd/internal/domain"
)

// WorkspaceService stages and records workspaces.
type WorkspaceService struct {
	Workspaces domain.WorkspaceRepository
	Stager     domain.Stager
	NewID      func() domain.WorkspaceID
	Now        func() time.Time
}

// Create stages paths and records a new workspace referencing them.
func (s *WorkspaceService) Create(ctx context.Context, paths []string) (domain.Workspace, error) {
	if len(paths) == 0 {
		return domain.Workspace{}, fmt.Errorf("%w: at least one path is required", domain.ErrInvalidArgument)
	}
	staged, err := s.Stager.Stage(ctx, paths)
	if err != nil {
		return domain.Workspace{}, fmt.Errorf("stage workspace: %w", err)
	}

	ws := domain.Workspace{
		ID:        s.newID(),
		Paths:     staged,
		CreatedAt: s.now(),
	}
	if err := s.Workspaces.Create(ctx, ws); err != nil {
		return domain.Workspace{}, err
	}
	return ws, nil
}

// Get retrieves a workspace by ID.
func (s *WorkspaceService) Get(ctx context.Context, id domain.WorkspaceID) (domain.Workspace, error) {
	return s.Workspaces.Get(ctx, id)
}

// List returns all workspaces.
func (s *WorkspaceService) List(ctx context.Context) ([]domain.Workspace, error) {
	return s.Workspaces.List(ctx)
}

func (s *WorkspaceService) newID() domain.WorkspaceID {
	if s.NewID != nil {
		return s.NewID()
	}
	return domain.WorkspaceID(uuid.NewString())
}

func (s *WorkspaceService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
