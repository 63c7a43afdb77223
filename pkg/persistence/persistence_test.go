package persistence_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnforge/kiln-controller/pkg/persistence"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := persistence.NewStore(path)

	want := persistence.Snapshot{
		RunID:          uuid.New(),
		State:          "RUNNING",
		Runtime:        120.5,
		Profile:        "cone6",
		Cost:           0.34,
		CurrentSegment: 1,
		SegmentPhase:   "hold",
		Target:         1000,
		Temperature:    998.2,
		Heat:           true,
		KwhRate:        0.12,
		CurrencyType:   "$",
	}

	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSave_DoesNotLeaveTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store := persistence.NewStore(path)
	require.NoError(t, store.Save(persistence.Snapshot{State: "IDLE"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the final state file should remain, no .tmp_state_* or .lock leftovers")
}

func TestRestartEligible_FalseWhenFileMissing(t *testing.T) {
	store := persistence.NewStore(filepath.Join(t.TempDir(), "missing.json"))
	assert.False(t, store.RestartEligible(time.Now(), 5*time.Minute))
}

func TestRestartEligible_FalseWhenStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := persistence.NewStore(path)
	require.NoError(t, store.Save(persistence.Snapshot{State: "RUNNING"}))

	assert.False(t, store.RestartEligible(time.Now().Add(time.Hour), 5*time.Minute))
}

func TestRestartEligible_FalseWhenNotRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := persistence.NewStore(path)
	require.NoError(t, store.Save(persistence.Snapshot{State: "IDLE"}))

	assert.False(t, store.RestartEligible(time.Now(), 5*time.Minute))
}

func TestRestartEligible_TrueWhenFreshAndRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := persistence.NewStore(path)
	require.NoError(t, store.Save(persistence.Snapshot{State: "RUNNING"}))

	assert.True(t, store.RestartEligible(time.Now(), 5*time.Minute))
}
