package domain

import (
	"fmt"
	"strconv"
)

// Keys that [WorkerConfig.Flatten] and [SlotArguments] own. Passthrough
// arguments may not use them.
const (
	ArgReplicas     = "replicas"
	ArgShards       = "shards"
	ArgShardID      = "shard_id"
	ArgDeploymentID = "deployment_id"
	ArgSlotID       = "slot_id"
	ArgWorkspaceID  = "workspace_id"
)

var reservedArgs = map[string]bool{
	ArgReplicas:     true,
	ArgShards:       true,
	ArgShardID:      true,
	ArgDeploymentID: true,
	ArgSlotID:       true,
	ArgWorkspaceID:  true,
}

// WorkerConfig is the payload a deployment is created from: the replica and
// shard counts plus free-form arguments passed through to every worker.
type WorkerConfig struct {
	Replicas int
	Shards   int
	Args     map[string]string
}

// Validate checks the counts and rejects passthrough arguments that collide
// with reserved keys.
func (c WorkerConfig) Validate() error {
	if c.Replicas < 1 {
		return fmt.Errorf("%w: replicas must be at least 1, got %d", ErrInvalidArgument, c.Replicas)
	}
	if c.Shards < 1 {
		return fmt.Errorf("%w: shards must be at least 1, got %d", ErrInvalidArgument, c.Shards)
	}
	for k := range c.Args {
		if k == "" {
			return fmt.Errorf("%w: empty argument name", ErrInvalidArgument)
		}
		if reservedArgs[k] {
			return fmt.Errorf("%w: argument %q is reserved", ErrInvalidArgument, k)
		}
	}
	return nil
}

// Flatten materializes the configuration as a flat key/value mapping, the
// form workers receive their arguments in.
func (c WorkerConfig) Flatten() map[string]string {
	out := make(map[string]string, len(c.Args)+2)
	for k, v := range c.Args {
		out[k] = v
	}
	out[ArgReplicas] = strconv.Itoa(c.Replicas)
	out[ArgShards] = strconv.Itoa(c.Shards)
	return out
}

// SlotArguments returns the flattened arguments for the worker backing a
// single slot of a deployment running cfg from workspace ws.
func SlotArguments(cfg WorkerConfig, ws WorkspaceID, slot ReplicaSlot) map[string]string {
	out := cfg.Flatten()
	out[ArgShardID] = strconv.Itoa(slot.Shard)
	out[ArgDeploymentID] = string(slot.DeploymentID)
	out[ArgSlotID] = string(slot.ID)
	out[ArgWorkspaceID] = string(ws)
	return out
}
