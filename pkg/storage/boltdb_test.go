package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/hpc-bootstrap/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)

	run, err := s.BeginRun("compute1")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, types.RunStatusRunning, run.Status)

	require.NoError(t, s.SetRole(run.ID, types.NodeRoleWorker))
	require.NoError(t, s.RecordStep(run.ID, types.StepRecord{State: types.StateRoleResolved, At: time.Now()}))
	require.NoError(t, s.RecordStep(run.ID, types.StepRecord{State: types.StateFailed, At: time.Now(), Error: "boom"}))
	require.NoError(t, s.FinishRun(run.ID, types.RunStatusFailed, 1, errors.New("boom")))

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "compute1", got.Hostname)
	assert.Equal(t, types.NodeRoleWorker, got.Role)
	assert.Equal(t, types.RunStatusFailed, got.Status)
	assert.Equal(t, 1, got.ExitCode)
	assert.Equal(t, "boom", got.Error)
	assert.False(t, got.FinishedAt.IsZero())
	require.Len(t, got.Steps, 2)
	assert.Equal(t, types.StateRoleResolved, got.Steps[0].State)
	assert.Equal(t, "boom", got.Steps[1].Error)
}

func TestLastRun(t *testing.T) {
	s := openTestStore(t)

	_, err := s.LastRun()
	assert.ErrorIs(t, err, ErrNoRuns)

	first, err := s.BeginRun("slurmctld")
	require.NoError(t, err)
	second, err := s.BeginRun("slurmctld")
	require.NoError(t, err)

	last, err := s.LastRun()
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)
	assert.NotEqual(t, first.ID, last.ID)
}

func TestListRuns_Retention(t *testing.T) {
	s := openTestStore(t).WithRetention(3)

	var ids []string
	for i := 0; i < 5; i++ {
		run, err := s.BeginRun("compute1")
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	runs, err := s.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for i, run := range runs {
		assert.Equal(t, ids[i+2], run.ID)
	}

	_, err = s.GetRun(ids[0])
	assert.Error(t, err)
}

func TestUnknownRun(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.RecordStep("missing", types.StepRecord{State: types.StateInit}))
}

func TestOpen_Locked(t *testing.T) {
	dir := t.TempDir()

	first, err := Open(dir, 0)
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(dir, 100*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestOpen_ReleasedOnClose(t *testing.T) {
	dir := t.TempDir()

	first, err := Open(dir, 0)
	require.NoError(t, err)
	run, err := first.BeginRun("compute2")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(dir, 100*time.Millisecond)
	require.NoError(t, err)
	defer second.Close()

	last, err := second.LastRun()
	require.NoError(t, err)
	assert.Equal(t, run.ID, last.ID)
}

func TestOpenReadOnly(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenReadOnly(dir, 0)
	assert.ErrorIs(t, err, ErrNoRuns)

	rw, err := Open(dir, 0)
	require.NoError(t, err)
	run, err := rw.BeginRun("compute1")
	require.NoError(t, err)

	// a running bootstrap keeps readers out
	_, err = OpenReadOnly(dir, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrLocked)
	require.NoError(t, rw.Close())

	ro, err := OpenReadOnly(dir, 0)
	require.NoError(t, err)
	defer ro.Close()

	last, err := ro.LastRun()
	require.NoError(t, err)
	assert.Equal(t, run.ID, last.ID)
}
