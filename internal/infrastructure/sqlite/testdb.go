package sqlite

import (
	"database/sql"
	"testing"
)

// OpenTestDB opens an in-memory database migrated to the current
// workspaces, deployments and replica_slots schema. It is closed when the
// test finishes.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// OpenTestRepos returns workspace and deployment repositories sharing one
// test database, as the daemon wires them.
func OpenTestRepos(t *testing.T) (*WorkspaceRepo, *DeploymentRepo) {
	t.Helper()
	db := OpenTestDB(t)
	return &WorkspaceRepo{DB: db}, &DeploymentRepo{DB: db}
}
