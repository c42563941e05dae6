package gateway

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mediaforge/mediaforge/artifact"
	"github.com/mediaforge/mediaforge/output"
	"github.com/mediaforge/mediaforge/provider"
	"github.com/mediaforge/mediaforge/types"
	"github.com/mediaforge/mediaforge/workflow"
)

type serviceFixture struct {
	service   *Service
	fake      *provider.Fake
	artifacts *artifact.MemoryStore
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	fake := provider.NewFake("fake", provider.CapabilityText, provider.CapabilityImage, provider.CapabilityVideo)
	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(fake))

	artifacts := artifact.NewMemoryStore()
	t.Cleanup(func() { _ = artifacts.Close() })

	engineConfig := workflow.DefaultEngineConfig()
	engineConfig.Retry = workflow.RetryConfig{
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
	engine, err := workflow.NewEngine(workflow.NewMemoryStateStore(), registry, artifacts, nil, engineConfig, nil, zap.NewNop())
	require.NoError(t, err)

	router, err := output.NewRouter(artifacts, nil, output.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	service, err := NewService(engine, workflow.NewLibrary(), router, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = service.Close() })

	return &serviceFixture{service: service, fake: fake, artifacts: artifacts}
}

func waitForTerminal(t *testing.T, service *Service, id string) *workflow.Instance {
	t.Helper()
	var in *workflow.Instance
	require.Eventually(t, func() bool {
		var err error
		in, err = service.GetStatus(context.Background(), id)
		return err == nil && in.Status().Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return in
}

func TestServiceSubmitAndDeliver(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	id, err := fx.service.SubmitWorkflow(ctx, "story_video_generation", map[string]any{
		"theme": "a lighthouse keeper and a storm",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	in := waitForTerminal(t, fx.service, id)
	assert.Equal(t, workflow.StatusCompleted, in.Status())

	videoID, ok := in.Context["create_story_video"].(string)
	require.True(t, ok)

	desc, err := fx.service.DeliverOutput(ctx, videoID, output.PreferenceAuto)
	require.NoError(t, err)
	assert.Equal(t, output.ModeInline, desc.Mode)

	decoded, err := base64.StdEncoding.DecodeString(desc.InlineData)
	require.NoError(t, err)
	assert.NotEmpty(t, decoded)
}

func TestServiceSubmitUnknownTemplate(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.service.SubmitWorkflow(context.Background(), "no_such_template", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrTemplateNotFound, types.GetErrorCode(err))
}

func TestServiceSubmitMissingParameter(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.service.SubmitWorkflow(context.Background(), "story_video_generation", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrWorkflowConfiguration, types.GetErrorCode(err))
}

func TestServiceCancel(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	fx.fake.SetGenerator(func(c provider.Capability, params map[string]any) []byte {
		<-release
		return []byte("late")
	})
	defer close(release)

	id, err := fx.service.SubmitWorkflow(ctx, "story_video_generation", map[string]any{"theme": "x"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		in, err := fx.service.GetStatus(ctx, id)
		return err == nil && in.Status() == workflow.StatusRunning
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, fx.service.Cancel(ctx, id))

	in := waitForTerminal(t, fx.service, id)
	assert.Equal(t, workflow.StatusCancelled, in.Status())
}

func TestServiceToolDispatch(t *testing.T) {
	fx := newServiceFixture(t)
	registry := NewToolRegistry()
	require.NoError(t, fx.service.RegisterTools(registry))

	assert.Equal(t, []string{"cancel", "deliver_output", "get_status", "submit_workflow", "workflow_logs"}, registry.List())

	ctx := context.Background()
	raw, err := registry.Dispatch(ctx, "submit_workflow", map[string]any{
		"template_id": "product_introduction",
		"parameters":  map[string]any{"product_description": "a solar kettle"},
	})
	require.NoError(t, err)
	id := raw.(map[string]any)["workflow_id"].(string)
	require.NotEmpty(t, id)

	waitForTerminal(t, fx.service, id)

	raw, err = registry.Dispatch(ctx, "get_status", map[string]any{"workflow_id": id})
	require.NoError(t, err)
	in := raw.(*workflow.Instance)
	assert.Equal(t, workflow.StatusCompleted, in.Status())

	raw, err = registry.Dispatch(ctx, "workflow_logs", map[string]any{"workflow_id": id})
	require.NoError(t, err)
	reports := raw.([]workflow.StepReport)
	require.Len(t, reports, 4)
	for _, report := range reports {
		assert.Equal(t, workflow.StepSucceeded, report.Status)
		assert.Equal(t, 1, report.Attempts)
	}

	videoID := in.Context["create_demo_video"].(string)
	raw, err = registry.Dispatch(ctx, "deliver_output", map[string]any{"artifact_id": videoID})
	require.NoError(t, err)
	desc := raw.(*output.Descriptor)
	assert.Equal(t, output.ModeInline, desc.Mode)
}

func TestServiceToolDispatchValidatesArguments(t *testing.T) {
	fx := newServiceFixture(t)
	registry := NewToolRegistry()
	require.NoError(t, fx.service.RegisterTools(registry))

	ctx := context.Background()
	_, err := registry.Dispatch(ctx, "submit_workflow", map[string]any{})
	assert.Equal(t, types.ErrInvalidParameters, types.GetErrorCode(err))

	_, err = registry.Dispatch(ctx, "get_status", map[string]any{"workflow_id": ""})
	assert.Equal(t, types.ErrInvalidParameters, types.GetErrorCode(err))

	_, err = registry.Dispatch(ctx, "deliver_output", map[string]any{"artifact_id": "x", "preference": "carrier-pigeon"})
	require.Error(t, err)
	assert.Equal(t, types.ErrOutputMode, types.GetErrorCode(err))
}

func TestServiceListTemplates(t *testing.T) {
	fx := newServiceFixture(t)

	ids := fx.service.ListTemplates()
	assert.Contains(t, ids, "story_video_generation")
	assert.Contains(t, ids, "multimedia_content_creation")
	assert.Contains(t, ids, "product_introduction")
	assert.Contains(t, ids, "educational_content")
	assert.Contains(t, ids, "social_media_content")

	assert.Contains(t, fx.service.ListTemplatesByTag("education"), "educational_content")
	assert.Contains(t, fx.service.SearchTemplates("product"), "product_introduction")
}
