// Package workspacerepotest provides contract tests for
// [domain.WorkspaceRepository] implementations.
package workspacerepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetshift/deployd/internal/domain"
)

// Factory creates a fresh [domain.WorkspaceRepository] for each test.
type Factory func(t *testing.T) domain.WorkspaceRepository

// Run exercises the [domain.WorkspaceRepository] contract.
func Run(t *testing.T, factory Factory) {
	sample := func(id domain.WorkspaceID) domain.Workspace {
		return domain.Workspace{
			ID:        id,
			Paths:     []string{"/srv/models/a.bin", "/srv/models/b.bin"},
			CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		if err := repo.Create(ctx, sample("ws1")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := repo.Get(ctx, "ws1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(got.Paths) != 2 || got.Paths[0] != "/srv/models/a.bin" {
			t.Errorf("Paths = %v, want both staged paths in order", got.Paths)
		}
		if got.CreatedAt.IsZero() {
			t.Error("CreatedAt is zero")
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sample("ws1"))
		err := repo.Create(ctx, sample("ws1"))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sample("ws1"))
		_ = repo.Create(ctx, sample("ws2"))
		got, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("List: got %d, want 2", len(got))
		}
	})
}
