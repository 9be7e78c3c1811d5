package domain

import "time"

// SlotID identifies a replica slot.
type SlotID string

// SlotHealth is the observed health of a replica slot.
type SlotHealth string

const (
	SlotHealthPending    SlotHealth = "pending"
	SlotHealthHealthy    SlotHealth = "healthy"
	SlotHealthFailed     SlotHealth = "failed"
	SlotHealthTerminated SlotHealth = "terminated"
)

// Live reports whether the slot counts toward a shard's replica count.
func (h SlotHealth) Live() bool {
	return h == SlotHealthPending || h == SlotHealthHealthy
}

// ReplicaSlot is one replica of one shard. The registry owns the record;
// Handle refers to the pod owned by the [PodManager].
type ReplicaSlot struct {
	ID           SlotID
	DeploymentID DeploymentID
	Shard        int
	Ordinal      int64
	Handle       PodHandle
	Health       SlotHealth
	CreatedAt    time.Time
}
