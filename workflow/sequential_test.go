package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflowhq/taskflow/oracle"
)

func TestSequentialRunsStepsInOrder(t *testing.T) {
	oc := newScripted("first out", "second out", "third out")
	wf := NewSequential(Deps{Oracle: oc}, SequentialConfig{
		Steps: []Step{
			{Name: "fetch", Description: "fetch the data"},
			{Name: "clean", Description: "clean the data"},
			{Name: "report", Description: "write the report"},
		},
		StopOnFirstFailure: true,
	})

	res, err := wf.Execute(context.Background(), "build a report", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StatusCompleted, wf.Status())
	assert.Equal(t, "third out", res.Output)

	results := res.Details["results"].([]StepResult)
	require.Len(t, results, 3)
	assert.Equal(t, "fetch", results[0].Step)
	assert.Equal(t, "second out", results[1].Output)
	assert.Equal(t, 3, res.Details["completed_steps"])
	assert.InDelta(t, 100.0, res.Details["progress"].(float64), 0.001)

	// step prompts flow through the registry template
	assert.Contains(t, oc.promptAt(0), "Execute step: fetch")
	assert.Contains(t, oc.promptAt(0), "fetch the data")
}

func TestSequentialStopsOnFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	oc := newScripted("ok").failCall(1, boom)
	wf := NewSequential(Deps{Oracle: oc}, SequentialConfig{
		Steps: []Step{
			{Name: "a"}, {Name: "b"}, {Name: "c"},
		},
		StopOnFirstFailure: true,
	})

	res, err := wf.Execute(context.Background(), "goal", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, StatusFailed, wf.Status())

	results := res.Details["results"].([]StepResult)
	assert.Len(t, results, 2)
	assert.Equal(t, []string{"b"}, res.Details["failed_steps"])
	assert.Equal(t, 2, oc.callCount())
}

func TestSequentialContinueOnError(t *testing.T) {
	boom := errors.New("boom")
	oc := newScripted("ok").failCall(1, boom)
	wf := NewSequential(Deps{Oracle: oc}, SequentialConfig{
		Steps:           []Step{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		ContinueOnError: true,
	})

	res, err := wf.Execute(context.Background(), "goal", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)

	results := res.Details["results"].([]StepResult)
	assert.Len(t, results, 3)
	assert.Equal(t, 3, oc.callCount())
	assert.Equal(t, []string{"b"}, res.Details["failed_steps"])
}

func TestSequentialStepLevelStopOverrides(t *testing.T) {
	boom := errors.New("boom")
	oc := newScripted("ok").failCall(0, boom)
	wf := NewSequential(Deps{Oracle: oc}, SequentialConfig{
		Steps: []Step{
			{Name: "critical", StopOnFailure: true},
			{Name: "after"},
		},
		ContinueOnError: true,
	})

	res, err := wf.Execute(context.Background(), "goal", nil)
	require.NoError(t, err)
	results := res.Details["results"].([]StepResult)
	assert.Len(t, results, 1)
}

func TestSequentialWithoutOracle(t *testing.T) {
	wf := NewSequential(Deps{}, SequentialConfig{
		Steps: []Step{{Name: "inspect"}},
	})

	res, err := wf.Execute(context.Background(), "goal", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	results := res.Details["results"].([]StepResult)
	require.Len(t, results, 1)
	assert.Equal(t, "Executed step: inspect", results[0].Output)
}

func TestSequentialPerStepOracle(t *testing.T) {
	stepOracle := oracle.Func("step", func(_ context.Context, _ oracle.Request) (*oracle.Response, error) {
		return &oracle.Response{Content: "from step oracle"}, nil
	})
	shared := newScripted("from shared oracle")
	wf := NewSequential(Deps{Oracle: shared}, SequentialConfig{
		Steps: []Step{
			{Name: "special", Oracle: stepOracle},
			{Name: "normal"},
		},
	})

	res, err := wf.Execute(context.Background(), "goal", nil)
	require.NoError(t, err)
	results := res.Details["results"].([]StepResult)
	require.Len(t, results, 2)
	assert.Equal(t, "from step oracle", results[0].Output)
	assert.Equal(t, "from shared oracle", results[1].Output)
	assert.Equal(t, 1, shared.callCount())
}

func TestSequentialAddRemoveSteps(t *testing.T) {
	wf := NewSequential(Deps{}, SequentialConfig{})
	assert.False(t, wf.Validate("anything"))

	id := wf.AddStep(Step{Name: "only"})
	assert.True(t, wf.Validate("anything"))
	assert.Len(t, wf.Steps(), 1)

	assert.True(t, wf.RemoveStep(id))
	assert.False(t, wf.RemoveStep(id))
	assert.Empty(t, wf.Steps())
}

func TestSequentialCancelMidRun(t *testing.T) {
	started := make(chan struct{})
	block := oracle.Func("block", func(ctx context.Context, _ oracle.Request) (*oracle.Response, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	wf := NewSequential(Deps{Oracle: block}, SequentialConfig{
		Steps: []Step{{Name: "slow"}, {Name: "never"}},
	})

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := wf.Execute(context.Background(), "goal", nil)
		done <- outcome{res, err}
	}()

	<-started
	wf.Cancel()

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.False(t, out.res.Success)
		assert.Equal(t, "workflow cancelled", out.res.Error)
		assert.Equal(t, StatusCancelled, wf.Status())
		results := out.res.Details["results"].([]StepResult)
		assert.Empty(t, results)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not unwind the run")
	}
}

func TestSequentialPauseAndResume(t *testing.T) {
	wf := NewSequential(Deps{}, SequentialConfig{})
	wf.AddStep(Step{Name: "a", Oracle: oracle.Func("pause", func(_ context.Context, _ oracle.Request) (*oracle.Response, error) {
		wf.Pause()
		return &oracle.Response{Content: "paused after me"}, nil
	})})
	wf.AddStep(Step{Name: "b"})

	done := make(chan *Result, 1)
	go func() {
		res, _ := wf.Execute(context.Background(), "goal", nil)
		done <- res
	}()

	assert.Eventually(t, func() bool { return wf.Status() == StatusPaused },
		time.Second, 5*time.Millisecond)
	wf.Resume()

	select {
	case res := <-done:
		assert.True(t, res.Success)
		assert.Equal(t, 2, res.Details["completed_steps"])
		assert.Equal(t, StatusCompleted, wf.Status())
	case <-time.After(2 * time.Second):
		t.Fatal("resume did not let the run finish")
	}
}

func TestSequentialExecuteAfterCancelIsNoop(t *testing.T) {
	wf := NewSequential(Deps{}, SequentialConfig{Steps: []Step{{Name: "a"}}})
	wf.Cancel()

	res, err := wf.Execute(context.Background(), "goal", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, StatusCancelled, wf.Status())
	assert.Empty(t, res.Details)
}
