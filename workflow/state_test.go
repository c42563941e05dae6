package workflow

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func instanceWith(steps map[string]*StepState) *Instance {
	return &Instance{ID: "t", Steps: steps, Context: map[string]any{}}
}

func TestInstance_StatusDerivation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		steps map[string]*StepState
		want  Status
	}{
		{
			name: "all pending",
			steps: map[string]*StepState{
				"a": {Status: StepPending},
				"b": {Status: StepPending},
			},
			want: StatusPending,
		},
		{
			name: "one running",
			steps: map[string]*StepState{
				"a": {Status: StepRunning},
				"b": {Status: StepPending},
			},
			want: StatusRunning,
		},
		{
			name: "all succeeded or skipped",
			steps: map[string]*StepState{
				"a": {Status: StepSucceeded},
				"b": {Status: StepSkipped},
			},
			want: StatusCompleted,
		},
		{
			name: "transient exhaustion",
			steps: map[string]*StepState{
				"a": {Status: StepSucceeded},
				"b": {Status: StepFailed},
			},
			want: StatusStepFailed,
		},
		{
			name: "permanent failure",
			steps: map[string]*StepState{
				"a": {Status: StepSucceeded},
				"b": {Status: StepFailed, Permanent: true},
			},
			want: StatusFailed,
		},
		{
			name: "waiting on backoff",
			steps: map[string]*StepState{
				"a": {Status: StepSucceeded},
				"b": {Status: StepPending, AttemptCount: 1},
			},
			want: StatusRetrying,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, instanceWith(tt.steps).Status())
		})
	}
}

func TestInstance_CancelledDominates(t *testing.T) {
	t.Parallel()
	in := instanceWith(map[string]*StepState{
		"a": {Status: StepSucceeded},
		"b": {Status: StepSkipped},
	})
	in.Cancelled = true
	assert.Equal(t, StatusCancelled, in.Status())
}

func TestInstance_ReadySteps_Diamond(t *testing.T) {
	t.Parallel()

	// Width 3, depth 3, diamond-shaped: root fans out to three
	// middles which join into a sink.
	in := instanceWith(map[string]*StepState{
		"root": {Status: StepPending},
		"m1":   {Status: StepPending, DependsOn: []string{"root"}},
		"m2":   {Status: StepPending, DependsOn: []string{"root"}},
		"m3":   {Status: StepPending, DependsOn: []string{"root"}},
		"sink": {Status: StepPending, DependsOn: []string{"m1", "m2", "m3"}},
	})

	assert.Equal(t, []string{"root"}, in.ReadySteps())

	in.Steps["root"].Status = StepSucceeded
	ready := in.ReadySteps()
	sort.Strings(ready)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ready)

	in.Steps["m1"].Status = StepSucceeded
	in.Steps["m2"].Status = StepRunning
	ready = in.ReadySteps()
	sort.Strings(ready)
	assert.Equal(t, []string{"m3"}, ready, "sink must wait until every middle resolves")

	in.Steps["m2"].Status = StepSucceeded
	in.Steps["m3"].Status = StepSkipped
	assert.Equal(t, []string{"sink"}, in.ReadySteps(), "skipped dependencies count as resolved")
}

func TestInstance_ReadySteps_NoneWhenCancelled(t *testing.T) {
	t.Parallel()
	in := instanceWith(map[string]*StepState{"a": {Status: StepPending}})
	in.Cancelled = true
	assert.Empty(t, in.ReadySteps())
}

func TestInstance_ProgressAndSnapshot(t *testing.T) {
	t.Parallel()
	in := instanceWith(map[string]*StepState{
		"a": {Name: "a", Status: StepSucceeded},
		"b": {Name: "b", Status: StepRunning},
	})
	in.Context["a"] = "done"

	resolved, total := in.Progress()
	assert.Equal(t, 1, resolved)
	assert.Equal(t, 2, total)

	snap := in.Snapshot()
	snap.Steps["b"].Status = StepSucceeded
	snap.Context["b"] = "mutated"
	assert.Equal(t, StepRunning, in.Steps["b"].Status, "snapshot must not alias live state")
	_, ok := in.Context["b"]
	assert.False(t, ok)
}

func TestInstance_StepReports(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(2 * time.Second)

	in := instanceWith(map[string]*StepState{
		"write":  {Name: "write", Kind: StepGenerateText, Status: StepSucceeded, AttemptCount: 2, StartedAt: &started, FinishedAt: &finished},
		"render": {Name: "render", Kind: StepGenerateVideo, Status: StepFailed, AttemptCount: 3, Error: "network", DependsOn: []string{"write"}},
	})
	in.Definitions = []StepDefinition{
		{Name: "write", Kind: StepGenerateText},
		{Name: "render", Kind: StepGenerateVideo, DependsOn: []string{"write"}},
	}

	reports := in.StepReports()
	assert.Len(t, reports, 2)

	// Definition order, not map order.
	assert.Equal(t, "write", reports[0].Name)
	assert.Equal(t, 3, reports[0].Attempts) // two failures plus the success
	assert.Equal(t, 2*time.Second, reports[0].Duration)

	assert.Equal(t, "render", reports[1].Name)
	assert.Equal(t, StepFailed, reports[1].Status)
	assert.Equal(t, 3, reports[1].Attempts)
	assert.Equal(t, "network", reports[1].Error)
}

func TestRetryConfig_CalculateBackoff(t *testing.T) {
	t.Parallel()
	c := DefaultRetryConfig()

	assert.Equal(t, c.InitialBackoff, c.CalculateBackoff(0))
	assert.Equal(t, 2*c.InitialBackoff, c.CalculateBackoff(1))
	assert.Equal(t, 4*c.InitialBackoff, c.CalculateBackoff(2))
	assert.Equal(t, c.MaxBackoff, c.CalculateBackoff(100), "backoff is capped")
}
