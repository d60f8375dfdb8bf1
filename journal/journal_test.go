package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "state", "artbot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	j := openTest(t)
	j.now = fixedClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	run, err := j.BeginRun(ctx, "sunflower", "/etc/artbot/art.yaml", "p20_single_gen2")
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	require.Equal(t, StatusRunning, run.Status)

	require.NoError(t, j.RecordDistribution(ctx, Distribution{
		RunID: run.ID, Reagent: "1", Well: "A1",
		Targets: 60, Dispensed: 60, Refills: 2, TipsUsed: 2, TouchTips: 1,
		Aspirated: 26, Discarded: 2,
	}))
	require.NoError(t, j.RecordDistribution(ctx, Distribution{
		RunID: run.ID, Reagent: "2", Well: "A2",
		Targets: 10, Dispensed: 4, Refills: 1, TipsUsed: 1,
		Aspirated: 4, Error: "hardware fault during aspirate",
	}))
	require.NoError(t, j.FinishRun(ctx, run.ID, StatusFailed, errors.New("distribute \"2\": boom")))

	runs, err := j.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0]
	require.Equal(t, run.ID, got.ID)
	require.Equal(t, "sunflower", got.Name)
	require.Equal(t, "/etc/artbot/art.yaml", got.ConfigPath)
	require.Equal(t, StatusFailed, got.Status)
	require.Contains(t, got.Error, "boom")
	require.Equal(t, 2, got.Distributions)
	require.Equal(t, 64, got.Dispensed)
	require.Equal(t, 3, got.TipsUsed)
	require.InDelta(t, 30.0, got.Aspirated, 1e-9)
	require.True(t, got.FinishedAt.After(got.StartedAt))

	dists, err := j.Distributions(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, dists, 2)
	require.Equal(t, "1", dists[0].Reagent)
	require.Equal(t, 2.0, dists[0].Discarded)
	require.Empty(t, dists[0].Error)
	require.Equal(t, "hardware fault during aspirate", dists[1].Error)
}

func TestRunsNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	j := openTest(t)
	j.now = fixedClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	var ids []string
	for _, name := range []string{"first", "second", "third"} {
		run, err := j.BeginRun(ctx, name, "", "")
		require.NoError(t, err)
		require.NoError(t, j.FinishRun(ctx, run.ID, StatusCompleted, nil))
		ids = append(ids, run.ID)
	}

	runs, err := j.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, ids[2], runs[0].ID)
	require.Equal(t, ids[1], runs[1].ID)
	require.Empty(t, runs[0].Error)
	require.Zero(t, runs[0].Dispensed)

	all, err := j.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestFinishUnknownRun(t *testing.T) {
	j := openTest(t)
	err := j.FinishRun(context.Background(), "missing", StatusCompleted, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestReopenKeepsRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "artbot.db")

	j, err := Open(path)
	require.NoError(t, err)
	run, err := j.BeginRun(ctx, "persisted", "", "")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	runs, err := j.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, run.ID, runs[0].ID)
	require.Equal(t, StatusRunning, runs[0].Status)
	require.True(t, runs[0].FinishedAt.IsZero())
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestMemoryJournal(t *testing.T) {
	j, err := Open(":memory:")
	require.NoError(t, err)
	defer j.Close()
	_, err = j.BeginRun(context.Background(), "scratch", "", "")
	require.NoError(t, err)
	runs, err := j.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}
