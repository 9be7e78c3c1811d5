package domain

import (
	"fmt"
	"sort"
	"time"
)

// DeploymentID identifies a deployment.
type DeploymentID string

// DeploymentState indicates the lifecycle state of a deployment.
type DeploymentState string

const (
	DeploymentStatePending  DeploymentState = "pending"
	DeploymentStateRunning  DeploymentState = "running"
	DeploymentStateScaling  DeploymentState = "scaling"
	DeploymentStateDeleting DeploymentState = "deleting"
	DeploymentStateDeleted  DeploymentState = "deleted"
	DeploymentStateFailed   DeploymentState = "failed"
)

// Busy reports whether a mutation is converging the deployment. A busy
// deployment rejects scale and delete requests with [ErrConflict].
func (s DeploymentState) Busy() bool {
	switch s {
	case DeploymentStatePending, DeploymentStateScaling, DeploymentStateDeleting:
		return true
	}
	return false
}

// Deployment is a sharded, replicated set of worker pods started from a
// workspace. Shards is fixed at creation; Replicas is the desired number of
// live slots per shard.
type Deployment struct {
	ID          DeploymentID
	WorkspaceID WorkspaceID
	Replicas    int
	Shards      int
	Args        map[string]string
	Slots       []ReplicaSlot
	State       DeploymentState
	LastError   string
	// OperationID names the mutation allowed to change the slots. Every
	// create, scale and delete sets a new one.
	OperationID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Config returns the worker configuration the deployment was created with,
// reflecting the current desired replica count.
func (d Deployment) Config() WorkerConfig {
	return WorkerConfig{Replicas: d.Replicas, Shards: d.Shards, Args: d.Args}
}

// Clone returns a deep copy so callers never share slices or maps with the
// registry.
func (d Deployment) Clone() Deployment {
	out := d
	if d.Args != nil {
		out.Args = make(map[string]string, len(d.Args))
		for k, v := range d.Args {
			out.Args[k] = v
		}
	}
	if d.Slots != nil {
		out.Slots = make([]ReplicaSlot, len(d.Slots))
		copy(out.Slots, d.Slots)
	}
	return out
}

// ShardSlots returns the slots of one shard ordered by creation ordinal,
// oldest first.
func (d Deployment) ShardSlots(shard int) []ReplicaSlot {
	var out []ReplicaSlot
	for _, s := range d.Slots {
		if s.Shard == shard {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// LiveReplicas returns the number of pending or healthy slots in a shard.
func (d Deployment) LiveReplicas(shard int) int {
	n := 0
	for _, s := range d.Slots {
		if s.Shard == shard && s.Health.Live() {
			n++
		}
	}
	return n
}

// HealthyReplicas returns the number of healthy slots in a shard.
func (d Deployment) HealthyReplicas(shard int) int {
	n := 0
	for _, s := range d.Slots {
		if s.Shard == shard && s.Health == SlotHealthHealthy {
			n++
		}
	}
	return n
}

// NextOrdinal returns the creation ordinal to give the next new slot.
func (d Deployment) NextOrdinal() int64 {
	var next int64 = 1
	for _, s := range d.Slots {
		if s.Ordinal >= next {
			next = s.Ordinal + 1
		}
	}
	return next
}

// CheckUpdate validates that next is a legal successor of d. Identity,
// workspace and shard count are immutable.
func (d Deployment) CheckUpdate(next Deployment) error {
	if next.ID != d.ID {
		return fmt.Errorf("%w: deployment ID cannot change", ErrInvalidArgument)
	}
	if next.Shards != d.Shards {
		return fmt.Errorf("%w: shard count is fixed at %d", ErrInvalidArgument, d.Shards)
	}
	if next.WorkspaceID != d.WorkspaceID {
		return fmt.Errorf("%w: workspace cannot change", ErrInvalidArgument)
	}
	if next.Replicas < 1 {
		return fmt.Errorf("%w: replicas must be at least 1", ErrInvalidArgument)
	}
	return nil
}
