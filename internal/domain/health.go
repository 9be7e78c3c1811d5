package domain

import (
	"context"
	"errors"
)

// ObserveSlots asks pods for the health of every live slot that has a pod
// and returns the slots whose recorded health is stale. A pod the manager
// no longer knows, or one that stopped on its own, is reported failed.
// Slots whose status cannot be read keep their recorded health.
func ObserveSlots(ctx context.Context, pods PodManager, d Deployment) []ReplicaSlot {
	var changed []ReplicaSlot
	for _, s := range d.Slots {
		if s.Handle == "" || !s.Health.Live() {
			continue
		}
		st, err := pods.Status(ctx, s.Handle)
		health := st.Health
		switch {
		case errors.Is(err, ErrNotFound):
			health = SlotHealthFailed
		case err != nil:
			continue
		case health == SlotHealthTerminated:
			health = SlotHealthFailed
		}
		if health != s.Health {
			s.Health = health
			changed = append(changed, s)
		}
	}
	return changed
}

// WithSlots returns a copy of d with the given slots replacing the ones
// that share their IDs.
func (d Deployment) WithSlots(slots []ReplicaSlot) Deployment {
	out := d.Clone()
	for _, s := range slots {
		for i := range out.Slots {
			if out.Slots[i].ID == s.ID {
				out.Slots[i] = s
			}
		}
	}
	return out
}
