package domain

import "context"

// WorkspaceRepository persists and retrieves workspaces.
type WorkspaceRepository interface {
	Create(ctx context.Context, ws Workspace) error
	Get(ctx context.Context, id WorkspaceID) (Workspace, error)
	List(ctx context.Context) ([]Workspace, error)
}

// DeploymentRepository persists deployments and their replica slots.
//
// Update writes the deployment row only and must reject a change of shard
// count with [ErrInvalidArgument]. Slots are written individually through
// PutSlot and DeleteSlot.
type DeploymentRepository interface {
	Create(ctx context.Context, d Deployment) error
	Get(ctx context.Context, id DeploymentID) (Deployment, error)
	List(ctx context.Context) ([]Deployment, error)
	Update(ctx context.Context, d Deployment) error
	Delete(ctx context.Context, id DeploymentID) error

	PutSlot(ctx context.Context, slot ReplicaSlot) error
	DeleteSlot(ctx context.Context, deploymentID DeploymentID, id SlotID) error
}
