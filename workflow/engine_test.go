package workflow

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mediaforge/mediaforge/artifact"
	"github.com/mediaforge/mediaforge/provider"
	"github.com/mediaforge/mediaforge/types"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

type engineFixture struct {
	engine    *Engine
	store     StateStore
	artifacts *artifact.MemoryStore
	fake      *provider.Fake
}

func newEngineFixture(t *testing.T, store StateStore) *engineFixture {
	t.Helper()
	if store == nil {
		store = NewMemoryStateStore()
	}
	fake := provider.NewFake("fake", provider.CapabilityText, provider.CapabilityImage, provider.CapabilityVideo)
	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(fake))

	artifacts := artifact.NewMemoryStore()
	t.Cleanup(func() { _ = artifacts.Close() })

	config := DefaultEngineConfig()
	config.Retry = fastRetryConfig()

	engine, err := NewEngine(store, registry, artifacts, nil, config, nil, zap.NewNop())
	require.NoError(t, err)

	return &engineFixture{engine: engine, store: store, artifacts: artifacts, fake: fake}
}

func chainSteps() []StepDefinition {
	return []StepDefinition{
		{
			Name:       "generate_script",
			Kind:       StepGenerateText,
			Parameters: map[string]any{"prompt": "a story about {{theme}}"},
			RetryLimit: 2,
		},
		{
			Name:       "generate_images",
			Kind:       StepGenerateImage,
			DependsOn:  []string{"generate_script"},
			InputKeys:  []string{"generate_script"},
			Parameters: map[string]any{"prompt": "illustrate: {{generate_script}}"},
			RetryLimit: 2,
		},
		{
			Name:       "generate_video",
			Kind:       StepGenerateVideo,
			DependsOn:  []string{"generate_images"},
			InputKeys:  []string{"generate_images"},
			Parameters: map[string]any{"prompt": "animate {{generate_images}}"},
			RetryLimit: 1,
		},
	}
}

func TestEngine_ThreeStepChainCompletes(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	in, err := f.engine.Create(ctx, "", chainSteps(), map[string]any{"theme": "tides"})
	require.NoError(t, err)
	require.NoError(t, f.engine.Run(ctx, in.ID))

	final, err := f.engine.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status())

	// Text output flows forward as text; binary outputs as artifact ids.
	script, ok := final.Context["generate_script"].(string)
	require.True(t, ok)
	assert.Contains(t, script, "tides")
	imageID, ok := final.Context["generate_images"].(string)
	require.True(t, ok)
	_, err = f.artifacts.Stat(ctx, imageID)
	assert.NoError(t, err)
	videoID, ok := final.Context["generate_video"].(string)
	require.True(t, ok)

	// The image prompt saw the script text, not an artifact id.
	for _, call := range f.fake.Calls() {
		if call.Capability == provider.CapabilityImage {
			assert.Contains(t, call.Parameters["prompt"], "tides")
		}
	}

	// Artifacts carry workflow and step tags.
	video, err := f.artifacts.Stat(ctx, videoID)
	require.NoError(t, err)
	assert.True(t, video.HasTag(in.ID))
	assert.True(t, video.HasTag("generate_video"))

	for _, step := range final.Steps {
		assert.Equal(t, StepSucceeded, step.Status)
		assert.NotNil(t, step.FinishedAt)
	}
}

func TestEngine_DiamondRunsEveryStepOnce(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	steps := []StepDefinition{
		{Name: "root", Kind: StepGenerateText, Parameters: map[string]any{"prompt": "seed"}},
		{Name: "m1", Kind: StepGenerateImage, DependsOn: []string{"root"}},
		{Name: "m2", Kind: StepGenerateImage, DependsOn: []string{"root"}, Parameters: map[string]any{"variant": "b"}},
		{Name: "m3", Kind: StepGenerateImage, DependsOn: []string{"root"}, Parameters: map[string]any{"variant": "c"}},
		{Name: "sink", Kind: StepGenerateVideo, DependsOn: []string{"m1", "m2", "m3"}},
	}

	in, err := f.engine.Create(ctx, "", steps, nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Run(ctx, in.ID))

	final, err := f.engine.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status())

	assert.Equal(t, 1, f.fake.CallsFor(provider.CapabilityText))
	assert.Equal(t, 3, f.fake.CallsFor(provider.CapabilityImage))
	assert.Equal(t, 1, f.fake.CallsFor(provider.CapabilityVideo))
}

func TestEngine_RetryExhaustion(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	transient := types.NewError(types.ErrProviderTimeout, "upstream timeout").WithRetryable(true)
	f.fake.FailNext(provider.CapabilityText, 100, transient)

	steps := []StepDefinition{
		{Name: "flaky", Kind: StepGenerateText, RetryLimit: 2},
	}
	in, err := f.engine.Create(ctx, "", steps, nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Run(ctx, in.ID))

	final, err := f.engine.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStepFailed, final.Status())

	// Retry limit 2 means exactly 3 attempts.
	step := final.Steps["flaky"]
	assert.Equal(t, StepFailed, step.Status)
	assert.Equal(t, 3, step.AttemptCount)
	assert.Equal(t, 3, f.fake.CallsFor(provider.CapabilityText))
	assert.Contains(t, step.Error, "upstream timeout")
	assert.False(t, step.Permanent)
}

func TestEngine_PermanentFailureEscalatesImmediately(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	permanent := types.NewError(types.ErrContentPolicy, "prompt rejected")
	f.fake.FailNext(provider.CapabilityText, 100, permanent)

	steps := []StepDefinition{
		{Name: "rejected", Kind: StepGenerateText, RetryLimit: 5},
	}
	in, err := f.engine.Create(ctx, "", steps, nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Run(ctx, in.ID))

	final, err := f.engine.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status())
	assert.Equal(t, 1, f.fake.CallsFor(provider.CapabilityText), "permanent errors are not retried")
	assert.True(t, final.Steps["rejected"].Permanent)
}

func TestEngine_OptionalStepSkippedOnFailure(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	f.fake.FailNext(provider.CapabilityImage, 100, types.NewError(types.ErrProviderOverloaded, "busy").WithRetryable(true))

	steps := []StepDefinition{
		{Name: "article", Kind: StepGenerateText},
		{Name: "decoration", Kind: StepGenerateImage, Optional: true, RetryLimit: 1},
	}
	in, err := f.engine.Create(ctx, "", steps, nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Run(ctx, in.ID))

	final, err := f.engine.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status())
	assert.Equal(t, StepSkipped, final.Steps["decoration"].Status)
	_, ok := final.Context["decoration"]
	assert.False(t, ok, "skipped steps publish no output")
}

// slowInvoker delays every call so cancellation can land mid-run.
type slowInvoker struct {
	*provider.Fake
	delay   time.Duration
	started atomic.Int32
}

func (s *slowInvoker) Invoke(ctx context.Context, c provider.Capability, params map[string]any) (*provider.Result, error) {
	s.started.Add(1)
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Fake.Invoke(ctx, c, params)
}

func TestEngine_Cancellation(t *testing.T) {
	t.Parallel()
	store := NewMemoryStateStore()
	slow := &slowInvoker{
		Fake:  provider.NewFake("slow", provider.CapabilityText, provider.CapabilityImage, provider.CapabilityVideo),
		delay: 200 * time.Millisecond,
	}
	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(slow))
	artifacts := artifact.NewMemoryStore()
	defer artifacts.Close()

	config := DefaultEngineConfig()
	config.Retry = fastRetryConfig()
	engine, err := NewEngine(store, registry, artifacts, nil, config, nil, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	in, err := engine.Create(ctx, "", chainSteps(), map[string]any{"theme": "x"})
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- engine.Run(ctx, in.ID) }()

	// Wait for the first step to be mid-flight, leaving two pending.
	require.Eventually(t, func() bool { return slow.started.Load() > 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, engine.Cancel(ctx, in.ID))

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not wind down after cancellation")
	}

	final, err := engine.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status())
	assert.NotEqual(t, StatusCompleted, final.Status())
	for name, step := range final.Steps {
		assert.True(t, step.Status == StepSkipped || step.Status.Terminal(),
			"step %s left non-terminal after cancellation: %s", name, step.Status)
	}
	assert.Equal(t, StepSkipped, final.Steps["generate_images"].Status)
	assert.Equal(t, StepSkipped, final.Steps["generate_video"].Status)
}

func TestEngine_CancelIdleInstance(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	in, err := f.engine.Create(ctx, "", chainSteps(), map[string]any{"theme": "x"})
	require.NoError(t, err)
	require.NoError(t, f.engine.Cancel(ctx, in.ID))

	final, err := f.engine.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status())

	// Terminal instances cannot be cancelled again or run.
	err = f.engine.Cancel(ctx, in.ID)
	assert.Equal(t, types.ErrWorkflowTerminal, types.GetErrorCode(err))
	err = f.engine.Run(ctx, in.ID)
	assert.Equal(t, types.ErrWorkflowTerminal, types.GetErrorCode(err))
}

func TestEngine_ResumeAfterInterruption(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store, err := NewFileStateStore(dir)
	require.NoError(t, err)

	f := newEngineFixture(t, store)
	ctx := context.Background()

	in, err := f.engine.Create(ctx, "", chainSteps(), map[string]any{"theme": "dust"})
	require.NoError(t, err)

	// Simulate a crash mid-execution: first step done, second was
	// running when the process died.
	crashed, err := store.Load(ctx, in.ID)
	require.NoError(t, err)
	crashed.Steps["generate_script"].Status = StepSucceeded
	crashed.Context["generate_script"] = "a story about dust"
	crashed.Steps["generate_images"].Status = StepRunning
	require.NoError(t, store.Save(ctx, crashed))

	// A fresh engine over the same durable state resumes to completion.
	restarted := newEngineFixture(t, store)
	require.NoError(t, restarted.engine.Resume(ctx, in.ID))

	final, err := restarted.engine.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status())

	// The succeeded step was not re-executed.
	assert.Equal(t, 0, restarted.fake.CallsFor(provider.CapabilityText))
	assert.Equal(t, 1, restarted.fake.CallsFor(provider.CapabilityImage))
	assert.Equal(t, 1, restarted.fake.CallsFor(provider.CapabilityVideo))
	assert.Equal(t, "a story about dust", final.Context["generate_script"])
}

func TestEngine_ResumeAfterStepFailed(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	f.fake.FailNext(provider.CapabilityVideo, 100, types.NewError(types.ErrProviderNetwork, "connection reset").WithRetryable(true))

	in, err := f.engine.Create(ctx, "", chainSteps(), map[string]any{"theme": "x"})
	require.NoError(t, err)
	require.NoError(t, f.engine.Run(ctx, in.ID))

	mid, err := f.engine.Get(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, StatusStepFailed, mid.Status())

	// The upstream recovers; resuming re-runs only the failed step.
	f.fake.FailNext(provider.CapabilityVideo, 0, nil)
	textCallsBefore := f.fake.CallsFor(provider.CapabilityText)

	require.NoError(t, f.engine.Resume(ctx, in.ID))

	final, err := f.engine.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status())
	assert.Equal(t, textCallsBefore, f.fake.CallsFor(provider.CapabilityText))
}

func TestEngine_CreateRejectsBadGraph(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.Create(ctx, "", []StepDefinition{
		{Name: "a", Kind: StepGenerateText, DependsOn: []string{"b"}},
		{Name: "b", Kind: StepGenerateText, DependsOn: []string{"a"}},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrDependencyCycle, types.GetErrorCode(err))

	// Nothing was persisted.
	ids, err := f.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEngine_CompositeStepMergesInputs(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	steps := []StepDefinition{
		{Name: "script", Kind: StepGenerateText, Parameters: map[string]any{"prompt": "p"}},
		{Name: "poster", Kind: StepGenerateImage, Parameters: map[string]any{"prompt": "q"}},
		{
			Name:      "bundle",
			Kind:      StepComposite,
			DependsOn: []string{"script", "poster"},
			InputKeys: []string{"script", "poster"},
		},
	}
	in, err := f.engine.Create(ctx, "", steps, nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Run(ctx, in.ID))

	final, err := f.engine.Get(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, final.Status())

	bundle, ok := final.Context["bundle"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, bundle, "script")
	assert.Contains(t, bundle, "poster")
	posterID, ok := bundle["poster"].(string)
	require.True(t, ok)
	_, err = f.artifacts.Stat(ctx, posterID)
	assert.NoError(t, err, "poster entry is a live artifact id")
}

func TestEngine_EndToEndStoryTemplate(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	library := NewLibrary()
	template, err := library.Get("story_video_generation")
	require.NoError(t, err)
	steps, initial, err := template.Instantiate(map[string]any{"theme": "a clockmaker's secret"})
	require.NoError(t, err)

	in, err := f.engine.Create(ctx, template.ID, steps, initial)
	require.NoError(t, err)
	require.NoError(t, f.engine.Run(ctx, in.ID))

	final, err := f.engine.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status())
	assert.Contains(t, final.Context, "generate_script")
	assert.Contains(t, final.Context, "generate_scene_images")
	assert.Contains(t, final.Context, "create_story_video")

	resolved, total := final.Progress()
	assert.Equal(t, total, resolved)
}
