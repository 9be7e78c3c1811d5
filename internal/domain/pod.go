package domain

import (
	"context"
	"time"
)

// PodHandle refers to a worker pod owned by a [PodManager].
type PodHandle string

// PodSpec describes the worker to start for one slot.
type PodSpec struct {
	DeploymentID DeploymentID
	WorkspaceID  WorkspaceID
	SlotID       SlotID
	Shard        int
	Args         map[string]string
}

// PodStatus is the observed state of a pod.
type PodStatus struct {
	Health    SlotHealth
	Message   string
	StartedAt time.Time
}

// PodManager starts and stops worker pods. Health is observed
// asynchronously: a spawned pod is pending until the manager sees it
// healthy or failed.
type PodManager interface {
	// Spawn starts a pod for spec. It returns [ErrResourceExhausted] when
	// the runtime has no capacity.
	Spawn(ctx context.Context, spec PodSpec) (PodHandle, error)

	// Status returns the current observed status of the pod.
	Status(ctx context.Context, h PodHandle) (PodStatus, error)

	// WaitHealthy blocks until the pod is healthy, fails, or ctx is done.
	WaitHealthy(ctx context.Context, h PodHandle) error

	// Terminate stops the pod. Terminating an unknown or already
	// terminated pod is a no-op.
	Terminate(ctx context.Context, h PodHandle) error
}
