package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConvergenceInput starts one convergence run. OperationID must match the
// deployment's current operation for the run to touch any slot.
type ConvergenceInput struct {
	DeploymentID DeploymentID
	OperationID  string
	Kind         ConvergenceKind
	Target       int
}

// SlotOutcome reports how a single slot start or stop ended. Slot failures
// are carried in Error rather than as activity errors so that a batch
// always completes and the run can record partial convergence.
type SlotOutcome struct {
	Slot  ReplicaSlot
	Error string
}

// Failed reports whether the slot operation failed.
func (o SlotOutcome) Failed() bool { return o.Error != "" }

// StartSlotInput is one new slot and the arguments its worker receives.
type StartSlotInput struct {
	Slot        ReplicaSlot
	OperationID string
	WorkspaceID WorkspaceID
	Args        map[string]string
}

// StopSlotInput is one slot to remove.
type StopSlotInput struct {
	Slot        ReplicaSlot
	OperationID string
}

// FinishInput carries the plan and every slot outcome to the final step.
type FinishInput struct {
	Plan     ConvergencePlan
	Outcomes []SlotOutcome
}

// ConvergenceResult is returned by a completed run. A run whose slots
// failed still completes; State is then [DeploymentStateFailed].
type ConvergenceResult struct {
	DeploymentID DeploymentID
	Kind         ConvergenceKind
	State        DeploymentState
	LastError    string
	Started      int
	Stopped      int
	Failed       int

	// Superseded is set when another operation took over the deployment
	// before this run finished. Nothing was recorded for the run.
	Superseded bool
}

// errSuperseded is carried in slot outcomes of a run that lost its fence.
const errSuperseded = "operation superseded"

// ConvergenceWorkflow drives a deployment's replica slots toward a target
// count. Create, scale and delete all run through it.
type ConvergenceWorkflow struct {
	Deployments DeploymentRepository
	Pods        PodManager
	NewSlotID   func() SlotID
	Now         func() time.Time
}

func (w *ConvergenceWorkflow) Name() string { return "converge-deployment" }

func (w *ConvergenceWorkflow) newSlotID() SlotID {
	if w.NewSlotID != nil {
		return w.NewSlotID()
	}
	return SlotID(uuid.NewString())
}

// current reports whether opID is still the deployment's operation. A
// deployment that no longer exists has no current operation.
func (w *ConvergenceWorkflow) current(ctx context.Context, id DeploymentID, opID string) (Deployment, bool, error) {
	d, err := w.Deployments.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Deployment{}, false, nil
	}
	if err != nil {
		return Deployment{}, false, err
	}
	return d, d.OperationID == opID, nil
}

func (w *ConvergenceWorkflow) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

// PlanConvergence loads the deployment, records the health its pods
// report now and computes the slot changes. Slots whose pods died since
// they became healthy are planned for replacement.
func (w *ConvergenceWorkflow) PlanConvergence() Activity[ConvergenceInput, ConvergencePlan] {
	return NewActivity("plan-convergence", func(ctx context.Context, in ConvergenceInput) (ConvergencePlan, error) {
		d, ok, err := w.current(ctx, in.DeploymentID, in.OperationID)
		if err != nil {
			return ConvergencePlan{}, fmt.Errorf("load deployment: %w", err)
		}
		if !ok {
			return ConvergencePlan{DeploymentID: in.DeploymentID, Kind: in.Kind, Superseded: true}, nil
		}

		changed := ObserveSlots(ctx, w.Pods, d)
		for _, slot := range changed {
			if err := w.Deployments.PutSlot(ctx, slot); err != nil {
				return ConvergencePlan{}, fmt.Errorf("record slot %s: %w", slot.ID, err)
			}
		}
		d = d.WithSlots(changed)

		plan, err := PlanConvergence(d, in.Kind, in.Target, w.newSlotID, w.now())
		if err != nil {
			return ConvergencePlan{}, err
		}
		plan.OperationID = in.OperationID
		return plan, nil
	})
}

// StartSlot records a pending slot, spawns its pod and waits for the pod
// to become healthy. A pod that never becomes healthy is terminated and
// its slot is kept as failed so it stays visible on the deployment.
func (w *ConvergenceWorkflow) StartSlot() Activity[StartSlotInput, SlotOutcome] {
	return NewActivity("start-slot", func(ctx context.Context, in StartSlotInput) (SlotOutcome, error) {
		slot := in.Slot
		if _, ok, err := w.current(ctx, slot.DeploymentID, in.OperationID); err != nil {
			return SlotOutcome{}, fmt.Errorf("load deployment: %w", err)
		} else if !ok {
			return SlotOutcome{Slot: slot, Error: errSuperseded}, nil
		}

		slot.Health = SlotHealthPending
		if err := w.Deployments.PutSlot(ctx, slot); err != nil {
			return SlotOutcome{}, fmt.Errorf("record slot %s: %w", slot.ID, err)
		}

		handle, err := w.Pods.Spawn(ctx, PodSpec{
			DeploymentID: slot.DeploymentID,
			WorkspaceID:  in.WorkspaceID,
			SlotID:       slot.ID,
			Shard:        slot.Shard,
			Args:         in.Args,
		})
		if err != nil {
			return w.failSlot(ctx, slot, fmt.Errorf("spawn: %w", err))
		}
		slot.Handle = handle
		if err := w.Deployments.PutSlot(ctx, slot); err != nil {
			return SlotOutcome{}, fmt.Errorf("record slot %s: %w", slot.ID, err)
		}

		if err := w.Pods.WaitHealthy(ctx, handle); err != nil {
			_ = w.Pods.Terminate(ctx, handle)
			return w.failSlot(ctx, slot, fmt.Errorf("wait healthy: %w", err))
		}

		slot.Health = SlotHealthHealthy
		if err := w.Deployments.PutSlot(ctx, slot); err != nil {
			return SlotOutcome{}, fmt.Errorf("record slot %s: %w", slot.ID, err)
		}
		return SlotOutcome{Slot: slot}, nil
	})
}

func (w *ConvergenceWorkflow) failSlot(ctx context.Context, slot ReplicaSlot, cause error) (SlotOutcome, error) {
	slot.Health = SlotHealthFailed
	if err := w.Deployments.PutSlot(ctx, slot); err != nil {
		return SlotOutcome{}, fmt.Errorf("record slot %s: %w", slot.ID, err)
	}
	return SlotOutcome{Slot: slot, Error: fmt.Sprintf("slot %s shard %d: %v", slot.ID, slot.Shard, cause)}, nil
}

// StopSlot terminates a slot's pod and removes the slot record. If the pod
// cannot be terminated the slot is kept as failed.
func (w *ConvergenceWorkflow) StopSlot() Activity[StopSlotInput, SlotOutcome] {
	return NewActivity("stop-slot", func(ctx context.Context, in StopSlotInput) (SlotOutcome, error) {
		slot := in.Slot
		if _, ok, err := w.current(ctx, slot.DeploymentID, in.OperationID); err != nil {
			return SlotOutcome{}, fmt.Errorf("load deployment: %w", err)
		} else if !ok {
			return SlotOutcome{Slot: slot, Error: errSuperseded}, nil
		}

		if slot.Handle != "" {
			if err := w.Pods.Terminate(ctx, slot.Handle); err != nil {
				return w.failSlot(ctx, slot, fmt.Errorf("terminate: %w", err))
			}
		}
		if err := w.Deployments.DeleteSlot(ctx, slot.DeploymentID, slot.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return SlotOutcome{}, fmt.Errorf("remove slot %s: %w", slot.ID, err)
		}
		slot.Health = SlotHealthTerminated
		return SlotOutcome{Slot: slot}, nil
	})
}

// FinishConvergence records the terminal state of the run. A fully
// successful delete removes the deployment record. A run that no longer
// owns the deployment records nothing.
func (w *ConvergenceWorkflow) FinishConvergence() Activity[FinishInput, ConvergenceResult] {
	return NewActivity("finish-convergence", func(ctx context.Context, in FinishInput) (ConvergenceResult, error) {
		result := ConvergenceResult{
			DeploymentID: in.Plan.DeploymentID,
			Kind:         in.Plan.Kind,
		}
		d, ok, err := w.current(ctx, in.Plan.DeploymentID, in.Plan.OperationID)
		if err != nil {
			return ConvergenceResult{}, fmt.Errorf("load deployment: %w", err)
		}
		if !ok {
			result.State = d.State
			result.Superseded = true
			return result, nil
		}

		var msgs []string
		for _, o := range in.Outcomes {
			switch {
			case o.Failed():
				result.Failed++
				msgs = append(msgs, o.Error)
			case o.Slot.Health == SlotHealthTerminated:
				result.Stopped++
			default:
				result.Started++
			}
		}

		if in.Plan.Kind == ConvergenceDelete && result.Failed == 0 {
			if err := w.Deployments.Delete(ctx, in.Plan.DeploymentID); err != nil && !errors.Is(err, ErrNotFound) {
				return ConvergenceResult{}, fmt.Errorf("delete deployment: %w", err)
			}
			result.State = DeploymentStateDeleted
			return result, nil
		}

		if result.Failed > 0 {
			d.State = DeploymentStateFailed
			d.LastError = fmt.Sprintf("%s: %d slot operation(s) failed: %s",
				in.Plan.Kind, result.Failed, strings.Join(msgs, "; "))
		} else {
			d.State = DeploymentStateRunning
			d.Replicas = in.Plan.Target
			d.LastError = ""
		}
		d.UpdatedAt = w.now()
		if err := w.Deployments.Update(ctx, d); err != nil {
			return ConvergenceResult{}, fmt.Errorf("update deployment: %w", err)
		}
		result.State = d.State
		result.LastError = d.LastError
		return result, nil
	})
}

// Run executes the convergence: stops first, then starts, then the final
// state transition.
func (w *ConvergenceWorkflow) Run(runner DurableRunner, in ConvergenceInput) (ConvergenceResult, error) {
	plan, err := RunActivity(runner, w.PlanConvergence(), in)
	if err != nil {
		return ConvergenceResult{}, fmt.Errorf("plan convergence: %w", err)
	}
	if plan.Superseded {
		return ConvergenceResult{DeploymentID: plan.DeploymentID, Kind: plan.Kind, Superseded: true}, nil
	}

	var outcomes []SlotOutcome
	if len(plan.Stop) > 0 {
		stops := make([]StopSlotInput, len(plan.Stop))
		for i, slot := range plan.Stop {
			stops[i] = StopSlotInput{Slot: slot, OperationID: plan.OperationID}
		}
		outs, errs := RunActivities(runner, w.StopSlot(), stops)
		if err := errors.Join(errs...); err != nil {
			return ConvergenceResult{}, fmt.Errorf("stop slots: %w", err)
		}
		outcomes = append(outcomes, outs...)
	}
	if len(plan.Start) > 0 {
		starts := make([]StartSlotInput, len(plan.Start))
		for i, slot := range plan.Start {
			starts[i] = StartSlotInput{
				Slot:        slot,
				OperationID: plan.OperationID,
				WorkspaceID: plan.WorkspaceID,
				Args:        SlotArguments(plan.Config(), plan.WorkspaceID, slot),
			}
		}
		outs, errs := RunActivities(runner, w.StartSlot(), starts)
		if err := errors.Join(errs...); err != nil {
			return ConvergenceResult{}, fmt.Errorf("start slots: %w", err)
		}
		outcomes = append(outcomes, outs...)
	}

	result, err := RunActivity(runner, w.FinishConvergence(), FinishInput{Plan: plan, Outcomes: outcomes})
	if err != nil {
		return ConvergenceResult{}, fmt.Errorf("finish convergence: %w", err)
	}
	return result, nil
}
