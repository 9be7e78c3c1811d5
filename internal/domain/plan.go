package domain

import (
	"fmt"
	"time"
)

// ConvergenceKind identifies which lifecycle operation a convergence run
// belongs to.
type ConvergenceKind string

const (
	ConvergenceCreate ConvergenceKind = "create"
	ConvergenceScale  ConvergenceKind = "scale"
	ConvergenceDelete ConvergenceKind = "delete"
)

// ConvergencePlan is the concrete set of slot additions and removals that
// takes a deployment from its current slots to Target replicas per shard.
type ConvergencePlan struct {
	DeploymentID DeploymentID
	OperationID  string
	WorkspaceID  WorkspaceID
	Kind         ConvergenceKind
	Target       int
	Args         map[string]string
	Shards       int

	// Start lists new slots to spawn, in ordinal order.
	Start []ReplicaSlot
	// Stop lists slots to remove. Within a shard, newer slots come first.
	Stop []ReplicaSlot

	// Superseded marks a run whose operation is no longer current.
	Superseded bool
}

// Config returns the worker configuration the deployment converges to.
func (p ConvergencePlan) Config() WorkerConfig {
	return WorkerConfig{Replicas: p.Target, Shards: p.Shards, Args: p.Args}
}

// Empty reports whether the plan touches no slots.
func (p ConvergencePlan) Empty() bool {
	return len(p.Start) == 0 && len(p.Stop) == 0
}

// PlanConvergence computes the slot changes for kind on d.
//
// For create and scale, each shard is planned independently with
// delta = target - live replicas. Slots in a failed or terminated state are
// always removed and never count as live. When a shard shrinks, the most
// recently created live slots are removed first so long-lived replicas
// survive. For delete, every slot is removed.
func PlanConvergence(d Deployment, kind ConvergenceKind, target int, newID func() SlotID, now time.Time) (ConvergencePlan, error) {
	plan := ConvergencePlan{
		DeploymentID: d.ID,
		WorkspaceID:  d.WorkspaceID,
		Kind:         kind,
		Target:       target,
		Args:         d.Args,
		Shards:       d.Shards,
	}

	if kind == ConvergenceDelete {
		for shard := 0; shard < d.Shards; shard++ {
			slots := d.ShardSlots(shard)
			for i := len(slots) - 1; i >= 0; i-- {
				plan.Stop = append(plan.Stop, slots[i])
			}
		}
		return plan, nil
	}

	if target < 1 {
		return ConvergencePlan{}, fmt.Errorf("%w: target replicas must be at least 1, got %d", ErrInvalidArgument, target)
	}

	next := d.NextOrdinal()
	for shard := 0; shard < d.Shards; shard++ {
		var live []ReplicaSlot
		for _, s := range d.ShardSlots(shard) {
			if s.Health.Live() {
				live = append(live, s)
			} else {
				plan.Stop = append(plan.Stop, s)
			}
		}

		delta := target - len(live)
		switch {
		case delta > 0:
			for i := 0; i < delta; i++ {
				plan.Start = append(plan.Start, ReplicaSlot{
					ID:           newID(),
					DeploymentID: d.ID,
					Shard:        shard,
					Ordinal:      next,
					Health:       SlotHealthPending,
					CreatedAt:    now,
				})
				next++
			}
		case delta < 0:
			for i := len(live) - 1; i >= len(live)+delta; i-- {
				plan.Stop = append(plan.Stop, live[i])
			}
		}
	}
	return plan, nil
}
