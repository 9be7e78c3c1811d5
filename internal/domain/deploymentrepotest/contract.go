// Package deploymentrepotest provides contract tests for
// [domain.DeploymentRepository] implementations.
package deploymentrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetshift/deployd/internal/domain"
)

// Factory creates a fresh [domain.DeploymentRepository] for each test.
type Factory func(t *testing.T) domain.DeploymentRepository

// Run exercises the [domain.DeploymentRepository] contract.
func Run(t *testing.T, factory Factory) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sampleDeployment := func() domain.Deployment {
		return domain.Deployment{
			ID:          "d1",
			WorkspaceID: "ws1",
			Replicas:    2,
			Shards:      1,
			Args:        map[string]string{"model": "m1"},
			State:       domain.DeploymentStatePending,
			CreatedAt:   created,
			UpdatedAt:   created,
		}
	}
	slot := func(id domain.SlotID, shard int, ordinal int64) domain.ReplicaSlot {
		return domain.ReplicaSlot{
			ID:           id,
			DeploymentID: "d1",
			Shard:        shard,
			Ordinal:      ordinal,
			Health:       domain.SlotHealthPending,
			CreatedAt:    created,
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, sampleDeployment()); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "d1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.WorkspaceID != "ws1" {
			t.Errorf("WorkspaceID = %q, want %q", got.WorkspaceID, "ws1")
		}
		if got.Replicas != 2 || got.Shards != 1 {
			t.Errorf("Replicas/Shards = %d/%d, want 2/1", got.Replicas, got.Shards)
		}
		if got.Args["model"] != "m1" {
			t.Errorf("Args = %v, want model=m1", got.Args)
		}
		if got.State != domain.DeploymentStatePending {
			t.Errorf("State = %q, want %q", got.State, domain.DeploymentStatePending)
		}
		if !got.CreatedAt.Equal(created) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
		}
		if len(got.Slots) != 0 {
			t.Errorf("Slots = %d, want 0", len(got.Slots))
		}
	})

	t.Run("CreateWithSlots", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sampleDeployment()
		d.Slots = []domain.ReplicaSlot{slot("s2", 0, 2), slot("s1", 0, 1)}

		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, _ := repo.Get(ctx, "d1")
		if len(got.Slots) != 2 {
			t.Fatalf("Slots = %d, want 2", len(got.Slots))
		}
		if got.Slots[0].ID != "s1" || got.Slots[1].ID != "s2" {
			t.Errorf("Slots not ordered by ordinal: %s, %s", got.Slots[0].ID, got.Slots[1].ID)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleDeployment())
		err := repo.Create(ctx, sampleDeployment())
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

	t.Run("Update", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sampleDeployment()
		_ = repo.Create(ctx, d)

		d.State = domain.DeploymentStateFailed
		d.Replicas = 5
		d.LastError = "boom"
		d.OperationID = "op-2"
		if err := repo.Update(ctx, d); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, _ := repo.Get(ctx, "d1")
		if got.State != domain.DeploymentStateFailed {
			t.Errorf("State after Update = %q, want %q", got.State, domain.DeploymentStateFailed)
		}
		if got.Replicas != 5 {
			t.Errorf("Replicas after Update = %d, want 5", got.Replicas)
		}
		if got.LastError != "boom" {
			t.Errorf("LastError after Update = %q, want %q", got.LastError, "boom")
		}
		if got.OperationID != "op-2" {
			t.Errorf("OperationID after Update = %q, want %q", got.OperationID, "op-2")
		}
	})

	t.Run("UpdateRejectsShardChange", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sampleDeployment()
		_ = repo.Create(ctx, d)

		d.Shards = 3
		err := repo.Update(ctx, d)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("Update: got %v, want ErrInvalidArgument", err)
		}
		got, _ := repo.Get(ctx, "d1")
		if got.Shards != 1 {
			t.Errorf("Shards = %d, want 1", got.Shards)
		}
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Update(context.Background(), domain.Deployment{ID: "nonexistent", Replicas: 1, Shards: 1})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Update: got %v, want ErrNotFound", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d2 := sampleDeployment()
		d2.ID = "d2"
		_ = repo.Create(ctx, sampleDeployment())
		_ = repo.Create(ctx, d2)

		got, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("List: got %d, want 2", len(got))
		}
	})

	t.Run("PutSlotInsertsAndUpdates", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleDeployment())

		s := slot("s1", 0, 1)
		if err := repo.PutSlot(ctx, s); err != nil {
			t.Fatalf("PutSlot: %v", err)
		}
		s.Handle = "pod-1"
		s.Health = domain.SlotHealthHealthy
		if err := repo.PutSlot(ctx, s); err != nil {
			t.Fatalf("PutSlot update: %v", err)
		}

		got, _ := repo.Get(ctx, "d1")
		if len(got.Slots) != 1 {
			t.Fatalf("Slots = %d, want 1", len(got.Slots))
		}
		if got.Slots[0].Handle != "pod-1" || got.Slots[0].Health != domain.SlotHealthHealthy {
			t.Errorf("slot = %+v, want handle pod-1 healthy", got.Slots[0])
		}
	})

	t.Run("PutSlotUnknownDeployment", func(t *testing.T) {
		repo := factory(t)
		err := repo.PutSlot(context.Background(), slot("s1", 0, 1))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("PutSlot: got %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteSlot", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleDeployment())
		_ = repo.PutSlot(ctx, slot("s1", 0, 1))
		_ = repo.PutSlot(ctx, slot("s2", 0, 2))

		if err := repo.DeleteSlot(ctx, "d1", "s2"); err != nil {
			t.Fatalf("DeleteSlot: %v", err)
		}
		got, _ := repo.Get(ctx, "d1")
		if len(got.Slots) != 1 || got.Slots[0].ID != "s1" {
			t.Fatalf("Slots after DeleteSlot = %+v, want only s1", got.Slots)
		}

		err := repo.DeleteSlot(ctx, "d1", "s2")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("second DeleteSlot: got %v, want ErrNotFound", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleDeployment())
		_ = repo.PutSlot(ctx, slot("s1", 0, 1))
		if err := repo.Delete(ctx, "d1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		_, err := repo.Get(ctx, "d1")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get after Delete: got %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Delete(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Delete: got %v, want ErrNotFound", err)
		}
	})
}
