package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fleetshift/deployd/internal/domain"
)

// DeploymentRepo implements [domain.DeploymentRepository] backed by SQLite.
// Slots live in their own table and are returned with every deployment.
type DeploymentRepo struct {
	DB *sql.DB
}

const deploymentColumns = `id, workspace_id, replicas, shards, args, state, last_error, operation_id, created_at, updated_at`

const slotColumns = `id, deployment_id, shard, ordinal, handle, health, created_at`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *DeploymentRepo) Create(ctx context.Context, d domain.Deployment) error {
	args, err := json.Marshal(d.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO deployments (`+deploymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(d.ID), string(d.WorkspaceID), d.Replicas, d.Shards, string(args),
		string(d.State), d.LastError, d.OperationID, formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("deployment %q: %w", d.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert deployment: %w", err)
	}
	for _, s := range d.Slots {
		if err := putSlot(ctx, tx, s); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *DeploymentRepo) Get(ctx context.Context, id domain.DeploymentID) (domain.Deployment, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, string(id))
	d, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return d, fmt.Errorf("deployment %q: %w", id, domain.ErrNotFound)
		}
		return d, err
	}

	slots, err := r.slots(ctx, `WHERE deployment_id = ?`, string(id))
	if err != nil {
		return d, err
	}
	d.Slots = slots[id]
	return d, nil
}

func (r *DeploymentRepo) List(ctx context.Context) ([]domain.Deployment, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	var deployments []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		deployments = append(deployments, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows must be closed before the next query: the pool has one connection.
	slots, err := r.slots(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range deployments {
		deployments[i].Slots = slots[deployments[i].ID]
	}
	return deployments, nil
}

func (r *DeploymentRepo) Update(ctx context.Context, d domain.Deployment) error {
	args, err := json.Marshal(d.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, string(d.ID))
	cur, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("deployment %q: %w", d.ID, domain.ErrNotFound)
		}
		return err
	}
	if err := cur.CheckUpdate(d); err != nil {
		return fmt.Errorf("deployment %q: %w", d.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE deployments
		 SET replicas = ?, args = ?, state = ?, last_error = ?, operation_id = ?, updated_at = ?
		 WHERE id = ?`,
		d.Replicas, string(args), string(d.State), d.LastError, d.OperationID, formatTime(d.UpdatedAt), string(d.ID),
	)
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	return tx.Commit()
}

func (r *DeploymentRepo) Delete(ctx context.Context, id domain.DeploymentID) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM deployments WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete deployment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("deployment %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *DeploymentRepo) PutSlot(ctx context.Context, slot domain.ReplicaSlot) error {
	return putSlot(ctx, r.DB, slot)
}

func (r *DeploymentRepo) DeleteSlot(ctx context.Context, deploymentID domain.DeploymentID, id domain.SlotID) error {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM replica_slots WHERE deployment_id = ? AND id = ?`,
		string(deploymentID), string(id))
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("slot %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

func putSlot(ctx context.Context, db execer, s domain.ReplicaSlot) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO replica_slots (`+slotColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET handle = excluded.handle, health = excluded.health`,
		string(s.ID), string(s.DeploymentID), s.Shard, s.Ordinal,
		string(s.Handle), string(s.Health), formatTime(s.CreatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("deployment %q: %w", s.DeploymentID, domain.ErrNotFound)
		}
		return fmt.Errorf("put slot: %w", err)
	}
	return nil
}

// slots loads replica slots matching where, grouped by deployment and
// ordered by creation ordinal.
func (r *DeploymentRepo) slots(ctx context.Context, where string, args ...any) (map[domain.DeploymentID][]domain.ReplicaSlot, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+slotColumns+` FROM replica_slots `+where+` ORDER BY ordinal`, args...)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.DeploymentID][]domain.ReplicaSlot)
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out[s.DeploymentID] = append(out[s.DeploymentID], s)
	}
	return out, rows.Err()
}

func scanDeployment(s scanner) (domain.Deployment, error) {
	var d domain.Deployment
	var id, wsID, argsJSON, stateStr, created, updated string
	if err := s.Scan(&id, &wsID, &d.Replicas, &d.Shards, &argsJSON, &stateStr, &d.LastError, &d.OperationID, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, domain.ErrNotFound
		}
		return d, fmt.Errorf("scan deployment: %w", err)
	}
	d.ID = domain.DeploymentID(id)
	d.WorkspaceID = domain.WorkspaceID(wsID)
	d.State = domain.DeploymentState(stateStr)

	if err := json.Unmarshal([]byte(argsJSON), &d.Args); err != nil {
		return d, fmt.Errorf("unmarshal args: %w", err)
	}
	var err error
	if d.CreatedAt, err = parseTime(created); err != nil {
		return d, fmt.Errorf("parse created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updated); err != nil {
		return d, fmt.Errorf("parse updated_at: %w", err)
	}
	return d, nil
}

func scanSlot(s scanner) (domain.ReplicaSlot, error) {
	var slot domain.ReplicaSlot
	var id, depID, handle, health, created string
	if err := s.Scan(&id, &depID, &slot.Shard, &slot.Ordinal, &handle, &health, &created); err != nil {
		return slot, fmt.Errorf("scan slot: %w", err)
	}
	slot.ID = domain.SlotID(id)
	slot.DeploymentID = domain.DeploymentID(depID)
	slot.Handle = domain.PodHandle(handle)
	slot.Health = domain.SlotHealth(health)
	t, err := parseTime(created)
	if err != nil {
		return slot, fmt.Errorf("parse slot created_at: %w", err)
	}
	slot.CreatedAt = t
	return slot, nil
}
