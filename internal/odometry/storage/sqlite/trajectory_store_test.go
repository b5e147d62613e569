package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/odometry.engine/internal/odometry"
)

func setupTestStore(t *testing.T) *TrajectoryStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err, "Failed to open database")
	t.Cleanup(func() { db.Close() })

	store, err := NewTrajectoryStore(db)
	require.NoError(t, err, "Failed to create store")
	return store
}

func TestTrajectoryStore_InsertAndReadBack(t *testing.T) {
	store := setupTestStore(t)
	runID := NewRunID()

	pose := odometry.ExpTwist(odometry.Twist{1.5, -0.25, 0.1, 0.02, 0, 0.01})
	diag := odometry.Diagnostics{
		Iterations:      7,
		Correspondences: 812,
		Converged:       true,
		TwistNorm:       3.2e-5,
		SourcePoints:    900,
	}

	_, err := store.InsertScan(NewScanRecord(runID, 0, odometry.IdentityPose(), odometry.Diagnostics{}, 10))
	require.NoError(t, err)
	_, err = store.InsertScan(NewScanRecord(runID, 1, pose, diag, 950))
	require.NoError(t, err)

	records, err := store.ScansForRun(runID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	got := records[1]
	assert.Equal(t, 1, got.ScanIndex)
	assert.Equal(t, 7, got.Iterations)
	assert.Equal(t, 812, got.Correspondences)
	assert.True(t, got.Converged)
	assert.Equal(t, 950, got.MapPoints)
	assert.InDelta(t, 3.2e-5, got.TwistNorm, 1e-12)

	back := got.Pose()
	diff := odometry.LogPose(pose.Inverse().Mul(back))
	assert.Less(t, diff.Norm(), 1e-9, "pose did not round-trip")
}

func TestTrajectoryStore_RunIsolation(t *testing.T) {
	store := setupTestStore(t)
	runA := NewRunID()
	runB := NewRunID()

	for i := 0; i < 3; i++ {
		_, err := store.InsertScan(NewScanRecord(runA, i, odometry.IdentityPose(), odometry.Diagnostics{}, 0))
		require.NoError(t, err)
	}
	_, err := store.InsertScan(NewScanRecord(runB, 0, odometry.IdentityPose(), odometry.Diagnostics{}, 0))
	require.NoError(t, err)

	recordsA, err := store.ScansForRun(runA)
	require.NoError(t, err)
	assert.Len(t, recordsA, 3)

	ids, err := store.RunIDs()
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestTrajectoryStore_DuplicateScanIndexRejected(t *testing.T) {
	store := setupTestStore(t)
	runID := NewRunID()

	_, err := store.InsertScan(NewScanRecord(runID, 0, odometry.IdentityPose(), odometry.Diagnostics{}, 0))
	require.NoError(t, err)
	_, err = store.InsertScan(NewScanRecord(runID, 0, odometry.IdentityPose(), odometry.Diagnostics{}, 0))
	assert.Error(t, err, "expected unique constraint violation for duplicate scan index")
}

func TestTrajectoryStore_DeleteRun(t *testing.T) {
	store := setupTestStore(t)
	runID := NewRunID()

	for i := 0; i < 4; i++ {
		_, err := store.InsertScan(NewScanRecord(runID, i, odometry.IdentityPose(), odometry.Diagnostics{}, 0))
		require.NoError(t, err)
	}
	n, err := store.DeleteRun(runID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	records, err := store.ScansForRun(runID)
	require.NoError(t, err)
	assert.Empty(t, records)
}
