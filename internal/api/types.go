// Package api defines the JSON wire format shared by the gateway and the
// client.
package api

import (
	"time"

	"github.com/fleetshift/deployd/internal/domain"
)

// Workspace is the wire form of [domain.Workspace].
type Workspace struct {
	ID        string    `json:"id"`
	Paths     []string  `json:"paths"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateWorkspaceRequest is the body of POST /workspaces.
type CreateWorkspaceRequest struct {
	Paths []string `json:"paths" binding:"required,min=1,dive,required"`
}

// WorkspaceResponse wraps a single workspace.
type WorkspaceResponse struct {
	Workspace Workspace `json:"workspace"`
}

// WorkspaceList is the body of GET /workspaces.
type WorkspaceList struct {
	Workspaces []Workspace `json:"workspaces"`
}

// Slot is the wire form of [domain.ReplicaSlot].
type Slot struct {
	ID        string    `json:"id"`
	Shard     int       `json:"shard"`
	Ordinal   int64     `json:"ordinal"`
	Handle    string    `json:"handle,omitempty"`
	Health    string    `json:"health"`
	CreatedAt time.Time `json:"created_at"`
}

// Deployment is a point-in-time snapshot of a deployment. Arguments holds
// the flattened worker arguments, including replicas and shards.
type Deployment struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspace_id"`
	Replicas    int               `json:"replicas"`
	Shards      int               `json:"shards"`
	State       string            `json:"state"`
	LastError   string            `json:"last_error,omitempty"`
	Arguments   map[string]string `json:"arguments"`
	Slots       []Slot            `json:"slots"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// SlotsInShard returns the slots of one shard in creation order.
func (d Deployment) SlotsInShard(shard int) []Slot {
	var out []Slot
	for _, s := range d.Slots {
		if s.Shard == shard {
			out = append(out, s)
		}
	}
	return out
}

// CreateDeploymentRequest is the body of POST /deployments.
type CreateDeploymentRequest struct {
	WorkspaceID string            `json:"workspace_id" binding:"required"`
	Replicas    int               `json:"replicas" binding:"required,min=1"`
	Shards      int               `json:"shards" binding:"required,min=1"`
	Args        map[string]string `json:"args,omitempty"`
}

// DeploymentResponse wraps a single deployment.
type DeploymentResponse struct {
	Deployment Deployment `json:"deployment"`
}

// DeploymentList is the body of GET /deployments.
type DeploymentList struct {
	Deployments []Deployment `json:"deployments"`
}

// OperationResponse reports the result of a scale or delete. Accepted is
// set when the daemon returned before the operation finished.
type OperationResponse struct {
	Success      bool        `json:"success"`
	Accepted     bool        `json:"accepted,omitempty"`
	DeploymentID string      `json:"deployment_id"`
	Deployment   *Deployment `json:"deployment,omitempty"`
}

// FromWorkspace converts a domain workspace to its wire form.
func FromWorkspace(ws domain.Workspace) Workspace {
	paths := ws.Paths
	if paths == nil {
		paths = []string{}
	}
	return Workspace{ID: string(ws.ID), Paths: paths, CreatedAt: ws.CreatedAt}
}

// FromDeployment converts a domain deployment to its wire form.
func FromDeployment(d domain.Deployment) Deployment {
	out := Deployment{
		ID:          string(d.ID),
		WorkspaceID: string(d.WorkspaceID),
		Replicas:    d.Replicas,
		Shards:      d.Shards,
		State:       string(d.State),
		LastError:   d.LastError,
		Arguments:   d.Config().Flatten(),
		Slots:       make([]Slot, 0, len(d.Slots)),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	for shard := 0; shard < d.Shards; shard++ {
		for _, s := range d.ShardSlots(shard) {
			out.Slots = append(out.Slots, Slot{
				ID:        string(s.ID),
				Shard:     s.Shard,
				Ordinal:   s.Ordinal,
				Handle:    string(s.Handle),
				Health:    string(s.Health),
				CreatedAt: s.CreatedAt,
			})
		}
	}
	return out
}
