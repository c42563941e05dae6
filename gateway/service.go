package gateway

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mediaforge/mediaforge/internal/metrics"
	"github.com/mediaforge/mediaforge/output"
	"github.com/mediaforge/mediaforge/types"
	"github.com/mediaforge/mediaforge/workflow"
)

// Service exposes the gateway operations consumed by the host-facing
// front-end: workflow submission, status, cancellation, and output
// delivery.
type Service struct {
	engine  *workflow.Engine
	library *workflow.Library
	router  *output.Router
	metrics *metrics.Collector
	logger  *zap.Logger

	// base context for background workflow runs; closed on shutdown.
	runCtx    context.Context
	cancelRun context.CancelFunc
	running   sync.WaitGroup
}

// NewService creates the gateway service.
func NewService(engine *workflow.Engine, library *workflow.Library, router *output.Router, collector *metrics.Collector, logger *zap.Logger) (*Service, error) {
	if engine == nil || library == nil || router == nil {
		return nil, fmt.Errorf("gateway service requires an engine, a template library, and an output router")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	return &Service{
		engine:    engine,
		library:   library,
		router:    router,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "gateway")),
		runCtx:    runCtx,
		cancelRun: cancelRun,
	}, nil
}

// SubmitWorkflow instantiates the template, persists a new instance,
// and starts it in the background. The returned id can be polled with
// GetStatus immediately.
func (s *Service) SubmitWorkflow(ctx context.Context, templateID string, parameters map[string]any) (string, error) {
	template, err := s.library.Get(templateID)
	if err != nil {
		return "", err
	}
	steps, initial, err := template.Instantiate(parameters)
	if err != nil {
		return "", err
	}

	in, err := s.engine.Create(ctx, templateID, steps, initial)
	if err != nil {
		return "", err
	}

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		if err := s.engine.Run(s.runCtx, in.ID); err != nil {
			s.logger.Warn("Workflow run ended with error",
				zap.String("workflow_id", in.ID), zap.Error(err))
		}
	}()

	s.logger.Info("Workflow submitted",
		zap.String("workflow_id", in.ID),
		zap.String("template", templateID))
	return in.ID, nil
}

// GetStatus returns a snapshot of the instance.
func (s *Service) GetStatus(ctx context.Context, workflowID string) (*workflow.Instance, error) {
	return s.engine.Get(ctx, workflowID)
}

// Cancel requests cancellation of the instance.
func (s *Service) Cancel(ctx context.Context, workflowID string) error {
	return s.engine.Cancel(ctx, workflowID)
}

// DeliverOutput routes a finished artifact back to the caller.
func (s *Service) DeliverOutput(ctx context.Context, artifactID string, preference output.Preference) (*output.Descriptor, error) {
	desc, err := s.router.Deliver(ctx, artifactID, preference)
	if s.metrics != nil {
		if err != nil {
			s.metrics.RecordDelivery(string(preference), "error")
		} else {
			s.metrics.RecordDelivery(string(desc.Mode), "ok")
			s.metrics.SetLeasesActive(s.router.Leases().Active())
		}
	}
	return desc, err
}

// ListTemplates returns the ids of all registered templates.
func (s *Service) ListTemplates() []string {
	return s.library.List()
}

// ListTemplatesByTag returns the ids of templates carrying the tag.
func (s *Service) ListTemplatesByTag(tag string) []string {
	return s.library.ListByTag(tag)
}

// SearchTemplates returns the ids of templates matching the keyword.
func (s *Service) SearchTemplates(keyword string) []string {
	return s.library.Search(keyword)
}

// RegisterTools binds the service operations onto a tool registry.
// Called once at startup before the front-end accepts requests.
func (s *Service) RegisterTools(registry *ToolRegistry) error {
	if err := registry.Register("submit_workflow", ToolDescriptor{
		Description: "Submit a workflow from a named template",
		Parameters: map[string]string{
			"template_id": "id of the template to run",
			"parameters":  "template parameter values",
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		templateID, ok := args["template_id"].(string)
		if !ok || templateID == "" {
			return nil, types.NewError(types.ErrInvalidParameters, "template_id is required")
		}
		params, _ := args["parameters"].(map[string]any)
		id, err := s.SubmitWorkflow(ctx, templateID, params)
		if err != nil {
			return nil, err
		}
		return map[string]any{"workflow_id": id}, nil
	}); err != nil {
		return err
	}

	if err := registry.Register("get_status", ToolDescriptor{
		Description: "Get a workflow instance snapshot",
		Parameters:  map[string]string{"workflow_id": "id returned by submit_workflow"},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		id, ok := args["workflow_id"].(string)
		if !ok || id == "" {
			return nil, types.NewError(types.ErrInvalidParameters, "workflow_id is required")
		}
		return s.GetStatus(ctx, id)
	}); err != nil {
		return err
	}

	if err := registry.Register("cancel", ToolDescriptor{
		Description: "Cancel a running workflow",
		Parameters:  map[string]string{"workflow_id": "id returned by submit_workflow"},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		id, ok := args["workflow_id"].(string)
		if !ok || id == "" {
			return nil, types.NewError(types.ErrInvalidParameters, "workflow_id is required")
		}
		if err := s.Cancel(ctx, id); err != nil {
			return nil, err
		}
		return map[string]any{"cancelled": true}, nil
	}); err != nil {
		return err
	}

	if err := registry.Register("workflow_logs", ToolDescriptor{
		Description: "Get the per-step execution log of a workflow",
		Parameters:  map[string]string{"workflow_id": "id returned by submit_workflow"},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		id, ok := args["workflow_id"].(string)
		if !ok || id == "" {
			return nil, types.NewError(types.ErrInvalidParameters, "workflow_id is required")
		}
		in, err := s.GetStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		return in.StepReports(), nil
	}); err != nil {
		return err
	}

	return registry.Register("deliver_output", ToolDescriptor{
		Description: "Deliver a finished artifact inline, as a file reference, or as a served URL",
		Parameters: map[string]string{
			"artifact_id": "content-addressed artifact id",
			"preference":  "auto, inline, file, or url (default auto)",
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		artifactID, ok := args["artifact_id"].(string)
		if !ok || artifactID == "" {
			return nil, types.NewError(types.ErrInvalidParameters, "artifact_id is required")
		}
		preference := output.PreferenceAuto
		if raw, ok := args["preference"].(string); ok && raw != "" {
			preference = output.Preference(raw)
		}
		return s.DeliverOutput(ctx, artifactID, preference)
	})
}

// Close stops background workflow runs and waits for them to wind down.
func (s *Service) Close() error {
	s.cancelRun()
	s.running.Wait()
	return nil
}
