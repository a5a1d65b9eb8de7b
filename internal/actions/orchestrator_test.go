package actions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/report-viewer/internal/metrics"
	"github.com/miradorstack/report-viewer/internal/models"
	"github.com/miradorstack/report-viewer/internal/utils"
)

type executorFunc func(ctx context.Context, req models.ActionRequest) (models.ActionRun, error)

func (f executorFunc) RunAction(ctx context.Context, req models.ActionRequest) (models.ActionRun, error) {
	return f(ctx, req)
}

var (
	clicksDrop   = models.Anomaly{Date: "2024-03-01", Source: "GSC", Metric: "Clicks", DropPercent: -62, CurrentValue: 120, Avg7d: 320, ZScore: -3.4}
	sessionsDrop = models.Anomaly{Date: "2024-03-01", Source: "GA4", Metric: "Sessions", DropPercent: -28, ZScore: -2.2}
)

func TestRunStoresResultUnderIdentity(t *testing.T) {
	var got models.ActionRequest
	exec := executorFunc(func(_ context.Context, req models.ActionRequest) (models.ActionRun, error) {
		got = req
		return models.ActionRun{
			RunID:  "run-1",
			Status: models.RunDone,
			Output: &models.ActionOutput{Summary: "title tags restored"},
		}, nil
	})
	feed := NewFeed(10)
	orch := NewOrchestrator(exec, feed, nil)

	require.NoError(t, orch.Run(context.Background(), "site-1", clicksDrop))

	assert.Equal(t, models.ActionRequest{SiteID: "site-1", Anomaly: clicksDrop, EnrichOnly: true}, got)

	id := models.IdentityOf(clicksDrop)
	run, ok := orch.ResultOf(id)
	require.True(t, ok)
	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, "title tags restored", run.Output.Summary)
	assert.False(t, run.CreatedAt.IsZero())
	assert.False(t, orch.IsRunning(id))
	assert.Equal(t, models.ActionCompleted, orch.StatusOf(id))

	notes := feed.Since(0)
	require.Len(t, notes, 1)
	assert.Equal(t, LevelSuccess, notes[0].Level)
	assert.Equal(t, id, notes[0].AnomalyID)
}

func TestRunFailureCleansUp(t *testing.T) {
	exec := executorFunc(func(context.Context, models.ActionRequest) (models.ActionRun, error) {
		return models.ActionRun{}, errors.New("connection reset")
	})
	feed := NewFeed(10)
	orch := NewOrchestrator(exec, feed, nil)
	id := models.IdentityOf(clicksDrop)

	err := orch.Run(context.Background(), "site-1", clicksDrop)
	require.Error(t, err)

	assert.False(t, orch.IsRunning(id))
	_, ok := orch.ResultOf(id)
	assert.False(t, ok)
	assert.Equal(t, models.ActionFailed, orch.StatusOf(id))
	assert.Empty(t, orch.Running())

	notes := feed.Since(0)
	require.Len(t, notes, 1)
	assert.Equal(t, LevelError, notes[0].Level)
	assert.Equal(t, GenericFailureMessage, notes[0].Message)
}

func TestRunPanicReleasesInFlight(t *testing.T) {
	exec := executorFunc(func(context.Context, models.ActionRequest) (models.ActionRun, error) {
		panic("executor blew up")
	})
	orch := NewOrchestrator(exec, nil, nil)
	id := models.IdentityOf(clicksDrop)
	before := metrics.ActionsInFlight()

	assert.Panics(t, func() { _ = orch.Run(context.Background(), "site-1", clicksDrop) })

	assert.False(t, orch.IsRunning(id))
	assert.Equal(t, before, metrics.ActionsInFlight())
}

func TestRunFailureSurfacesServerMessage(t *testing.T) {
	exec := executorFunc(func(context.Context, models.ActionRequest) (models.ActionRun, error) {
		return models.ActionRun{}, &utils.AppError{Op: "run action", Msg: "Site is not connected", Status: 400}
	})
	feed := NewFeed(10)
	orch := NewOrchestrator(exec, feed, nil)

	require.Error(t, orch.Run(context.Background(), "site-1", clicksDrop))
	assert.Equal(t, "Site is not connected", feed.Since(0)[0].Message)
}

func TestRunFailureKeepsPreviousResult(t *testing.T) {
	fail := false
	exec := executorFunc(func(context.Context, models.ActionRequest) (models.ActionRun, error) {
		if fail {
			return models.ActionRun{}, errors.New("boom")
		}
		return models.ActionRun{RunID: "first", Status: models.RunDone}, nil
	})
	orch := NewOrchestrator(exec, nil, nil)
	id := models.IdentityOf(clicksDrop)

	require.NoError(t, orch.Run(context.Background(), "site-1", clicksDrop))
	fail = true
	require.Error(t, orch.Run(context.Background(), "site-1", clicksDrop))

	run, ok := orch.ResultOf(id)
	require.True(t, ok)
	assert.Equal(t, "first", run.RunID)
}

func TestRerunOverwritesResult(t *testing.T) {
	calls := 0
	exec := executorFunc(func(context.Context, models.ActionRequest) (models.ActionRun, error) {
		calls++
		if calls == 1 {
			return models.ActionRun{RunID: "run-a", Status: models.RunDone}, nil
		}
		return models.ActionRun{RunID: "run-b", Status: models.RunDone}, nil
	})
	orch := NewOrchestrator(exec, nil, nil)

	require.NoError(t, orch.Run(context.Background(), "site-1", clicksDrop))
	require.NoError(t, orch.Run(context.Background(), "site-1", clicksDrop))

	results := orch.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "run-b", results[models.IdentityOf(clicksDrop)].RunID)
}

func TestDispatchDistinctIdentitiesConcurrently(t *testing.T) {
	gates := map[string]chan struct{}{
		"Clicks":   make(chan struct{}),
		"Sessions": make(chan struct{}),
	}
	var started sync.WaitGroup
	started.Add(2)
	exec := executorFunc(func(_ context.Context, req models.ActionRequest) (models.ActionRun, error) {
		started.Done()
		<-gates[req.Anomaly.Metric]
		return models.ActionRun{RunID: "run-" + req.Anomaly.Metric, Status: models.RunDone}, nil
	})
	orch := NewOrchestrator(exec, NewFeed(10), nil)
	ctx := context.Background()

	clicksID := orch.Dispatch(ctx, "site-1", clicksDrop)
	sessionsID := orch.Dispatch(ctx, "site-1", sessionsDrop)
	started.Wait()

	assert.True(t, orch.IsRunning(clicksID))
	assert.True(t, orch.IsRunning(sessionsID))
	assert.ElementsMatch(t, []models.AnomalyID{clicksID, sessionsID}, orch.Running())

	// complete out of dispatch order
	close(gates["Sessions"])
	close(gates["Clicks"])
	orch.Wait()

	clicksRun, ok := orch.ResultOf(clicksID)
	require.True(t, ok)
	sessionsRun, ok := orch.ResultOf(sessionsID)
	require.True(t, ok)
	assert.Equal(t, "run-Clicks", clicksRun.RunID)
	assert.Equal(t, "run-Sessions", sessionsRun.RunID)
	assert.False(t, orch.IsRunning(clicksID))
	assert.False(t, orch.IsRunning(sessionsID))
}

func TestDispatchMarksRunningImmediately(t *testing.T) {
	release := make(chan struct{})
	exec := executorFunc(func(context.Context, models.ActionRequest) (models.ActionRun, error) {
		<-release
		return models.ActionRun{RunID: "r"}, nil
	})
	orch := NewOrchestrator(exec, nil, nil)

	id := orch.Dispatch(context.Background(), "site-1", clicksDrop)
	assert.Equal(t, models.ActionRunning, orch.StatusOf(id))
	close(release)
	orch.Wait()
	assert.Equal(t, models.ActionCompleted, orch.StatusOf(id))
}

func TestDispatchIgnoresCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	var runErr error
	exec := executorFunc(func(ctx context.Context, _ models.ActionRequest) (models.ActionRun, error) {
		<-release
		runErr = ctx.Err()
		return models.ActionRun{RunID: "r"}, nil
	})
	orch := NewOrchestrator(exec, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	id := orch.Dispatch(ctx, "site-1", clicksDrop)
	cancel()
	close(release)
	orch.Wait()

	assert.NoError(t, runErr)
	_, ok := orch.ResultOf(id)
	assert.True(t, ok)
}

func TestRunAssignsRunIDWhenMissing(t *testing.T) {
	exec := executorFunc(func(context.Context, models.ActionRequest) (models.ActionRun, error) {
		return models.ActionRun{Status: models.RunQueued}, nil
	})
	orch := NewOrchestrator(exec, nil, nil)
	require.NoError(t, orch.Run(context.Background(), "site-1", clicksDrop))

	run, _ := orch.ResultOf(models.IdentityOf(clicksDrop))
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, models.RunQueued, run.Status)
}

func TestRunWithoutExecutorFails(t *testing.T) {
	orch := NewOrchestrator(nil, nil, nil)
	id := models.IdentityOf(clicksDrop)
	require.Error(t, orch.Run(context.Background(), "site-1", clicksDrop))
	assert.False(t, orch.IsRunning(id))
	assert.Equal(t, models.ActionIdle, orch.StatusOf(models.IdentityOf(sessionsDrop)))
}

func TestResultsIsSnapshot(t *testing.T) {
	exec := executorFunc(func(context.Context, models.ActionRequest) (models.ActionRun, error) {
		return models.ActionRun{RunID: "r"}, nil
	})
	orch := NewOrchestrator(exec, nil, nil)
	require.NoError(t, orch.Run(context.Background(), "site-1", clicksDrop))

	snapshot := orch.Results()
	delete(snapshot, models.IdentityOf(clicksDrop))
	assert.Len(t, orch.Results(), 1)
}
