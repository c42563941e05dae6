package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mediaforge/mediaforge/artifact"
	"github.com/mediaforge/mediaforge/cache"
	"github.com/mediaforge/mediaforge/internal/gate"
	"github.com/mediaforge/mediaforge/internal/metrics"
	"github.com/mediaforge/mediaforge/provider"
	"github.com/mediaforge/mediaforge/types"
)

// EngineConfig bounds the engine's concurrency and retry behaviour.
type EngineConfig struct {
	// MaxConcurrentSteps caps ready steps dispatched at once within
	// one instance.
	MaxConcurrentSteps int `yaml:"max_concurrent_steps" json:"max_concurrent_steps"`
	// MaxProviderCalls caps simultaneous adapter calls across all
	// instances. Calls beyond the cap queue rather than fail.
	MaxProviderCalls int64 `yaml:"max_provider_calls" json:"max_provider_calls"`
	// MaxInstances caps simultaneously running instances.
	MaxInstances int64 `yaml:"max_instances" json:"max_instances"`
	// Retry is the backoff schedule between failed step attempts.
	Retry RetryConfig `yaml:"retry" json:"retry"`
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrentSteps: 4,
		MaxProviderCalls:   8,
		MaxInstances:       16,
		Retry:              DefaultRetryConfig(),
	}
}

// Engine executes workflow instances: it recomputes the ready set on
// every step completion, dispatches ready steps concurrently, retries
// transient failures with capped backoff, and persists the full
// instance after every state transition.
type Engine struct {
	store     StateStore
	registry  *provider.Registry
	artifacts artifact.Store
	cache     *cache.TieredCache
	metrics   *metrics.Collector
	logger    *zap.Logger
	config    EngineConfig

	providerGate *gate.Gate
	instanceGate *gate.Gate

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	cancelled map[string]bool
}

// NewEngine creates an engine. The cache and metrics collector are
// optional; everything else is required.
func NewEngine(store StateStore, registry *provider.Registry, artifacts artifact.Store, tiered *cache.TieredCache, config EngineConfig, collector *metrics.Collector, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine requires a state store")
	}
	if registry == nil {
		return nil, fmt.Errorf("engine requires a provider registry")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("engine requires an artifact store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	providerGate, err := gate.New(config.MaxProviderCalls)
	if err != nil {
		return nil, fmt.Errorf("invalid provider call ceiling: %w", err)
	}
	instanceGate, err := gate.New(config.MaxInstances)
	if err != nil {
		return nil, fmt.Errorf("invalid instance ceiling: %w", err)
	}
	if config.MaxConcurrentSteps <= 0 {
		return nil, fmt.Errorf("max concurrent steps must be positive")
	}

	return &Engine{
		store:        store,
		registry:     registry,
		artifacts:    artifacts,
		cache:        tiered,
		metrics:      collector,
		logger:       logger.With(zap.String("component", "workflow_engine")),
		config:       config,
		providerGate: providerGate,
		instanceGate: instanceGate,
		cancels:      make(map[string]context.CancelFunc),
		cancelled:    make(map[string]bool),
	}, nil
}

// Create validates the step graph and persists a new instance in its
// initial state. Graph errors are rejected here, before any step runs.
func (e *Engine) Create(ctx context.Context, templateID string, steps []StepDefinition, initialContext map[string]any) (*Instance, error) {
	if err := ValidateGraph(steps, initialContext); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	in := &Instance{
		ID:          uuid.NewString(),
		TemplateID:  templateID,
		Definitions: append([]StepDefinition(nil), steps...),
		Context:     make(map[string]any, len(initialContext)),
		Steps:       make(map[string]*StepState, len(steps)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for k, v := range initialContext {
		in.Context[k] = v
	}
	for _, def := range steps {
		in.Steps[def.Name] = &StepState{
			Name:      def.Name,
			Kind:      def.Kind,
			Status:    StepPending,
			DependsOn: append([]string(nil), def.DependsOn...),
		}
	}

	if err := e.store.Save(ctx, in); err != nil {
		return nil, fmt.Errorf("failed to persist new workflow: %w", err)
	}

	e.logger.Info("Workflow created",
		zap.String("workflow_id", in.ID),
		zap.String("template", templateID),
		zap.Int("steps", len(steps)))

	return in.Snapshot(), nil
}

// Get returns a snapshot of the persisted instance.
func (e *Engine) Get(ctx context.Context, id string) (*Instance, error) {
	in, err := e.store.Load(ctx, id)
	if errors.Is(err, ErrInstanceNotFound) {
		return nil, types.NewError(types.ErrWorkflowNotFound,
			fmt.Sprintf("workflow %s not found", id)).WithCause(err)
	}
	if err != nil {
		return nil, err
	}
	return in, nil
}

// Cancel requests cancellation of an instance. A running instance is
// woken and winds down cooperatively; an idle one is finalized here.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	e.cancelled[id] = true
	cancel, running := e.cancels[id]
	e.mu.Unlock()

	if running {
		cancel()
		return nil
	}

	in, err := e.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if in.Status().Terminal() {
		return types.NewError(types.ErrWorkflowTerminal,
			fmt.Sprintf("workflow %s is already %s", id, in.Status()))
	}
	e.finalizeCancellation(ctx, in)
	return nil
}

// Run executes the instance until it reaches a terminal status or a
// retryable stall (step_failed). It blocks the calling goroutine;
// dispatch layers usually call it from a dedicated goroutine.
func (e *Engine) Run(ctx context.Context, id string) error {
	releaseInstance, err := e.instanceGate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer releaseInstance()

	in, err := e.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if in.Status().Terminal() {
		return types.NewError(types.ErrWorkflowTerminal,
			fmt.Sprintf("workflow %s is already %s", id, in.Status()))
	}
	in.normalizeForResume()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	e.mu.Lock()
	e.cancels[id] = cancelRun
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, id)
		delete(e.cancelled, id)
		e.mu.Unlock()
	}()

	if e.metrics != nil {
		e.metrics.WorkflowStarted()
		defer e.metrics.WorkflowFinished()
	}
	started := time.Now()

	err = e.runLoop(runCtx, in)

	status := in.Status()
	if e.metrics != nil {
		e.metrics.RecordWorkflow(in.TemplateID, string(status), time.Since(started))
	}
	e.logger.Info("Workflow finished",
		zap.String("workflow_id", in.ID),
		zap.String("status", string(status)),
		zap.Duration("elapsed", time.Since(started)))
	return err
}

// Resume re-runs an instance after a restart or after step_failed:
// interrupted steps are re-dispatched and failed transient steps get
// a fresh retry budget. Permanently failed steps stay failed.
func (e *Engine) Resume(ctx context.Context, id string) error {
	in, err := e.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if in.Cancelled || in.Status() == StatusFailed || in.Status() == StatusCompleted {
		return types.NewError(types.ErrWorkflowTerminal,
			fmt.Sprintf("workflow %s is %s and cannot be resumed", id, in.Status()))
	}

	changed := false
	for _, step := range in.Steps {
		if step.Status == StepFailed && !step.Permanent {
			step.Status = StepPending
			step.AttemptCount = 0
			step.Error = ""
			changed = true
		}
	}
	if changed {
		in.UpdatedAt = time.Now().UTC()
		if err := e.store.Save(ctx, in); err != nil {
			return fmt.Errorf("failed to persist workflow for resume: %w", err)
		}
	}

	return e.Run(ctx, id)
}

// stepOutcome carries one finished attempt back to the coordinator.
type stepOutcome struct {
	name     string
	result   *stepResult
	err      error
	started  time.Time
	finished time.Time
}

// stepResult is what a successful attempt produced.
type stepResult struct {
	// artifactID is set for generative steps.
	artifactID string
	// contextValue is merged into the instance context under the
	// step name.
	contextValue any
}

// runLoop is the per-instance coordinator. It is the only writer of
// the instance; worker goroutines communicate results over a channel.
func (e *Engine) runLoop(ctx context.Context, in *Instance) error {
	results := make(chan stepOutcome, e.config.MaxConcurrentSteps)
	wake := make(chan struct{}, 1)

	inFlight := 0
	pendingRetries := 0

	for {
		if e.isCancelRequested(in.ID) {
			e.finalizeCancellation(ctx, in)
			// Drain in-flight workers; their results are discarded.
			for inFlight > 0 {
				<-results
				inFlight--
			}
			return nil
		}
		if ctx.Err() != nil {
			// Engine shutdown, not a user cancellation: leave the
			// persisted state as-is so Resume can pick it up.
			for inFlight > 0 {
				<-results
				inFlight--
			}
			return ctx.Err()
		}

		for _, name := range in.ReadySteps() {
			if inFlight >= e.config.MaxConcurrentSteps {
				break
			}
			if err := e.dispatch(ctx, in, name, results); err != nil {
				return err
			}
			inFlight++
		}

		if inFlight == 0 && pendingRetries == 0 {
			status := in.Status()
			if status.Terminal() || status == StatusStepFailed {
				return nil
			}
			if len(in.ReadySteps()) == 0 {
				// Nothing runnable and nothing pending: the graph
				// validator should make this unreachable.
				return types.NewError(types.ErrWorkflowConfiguration,
					fmt.Sprintf("workflow %s stalled with no runnable steps", in.ID))
			}
			continue
		}

		select {
		case <-ctx.Done():
			continue
		case <-wake:
			pendingRetries--
		case out := <-results:
			inFlight--
			retryScheduled, err := e.applyOutcome(ctx, in, out, wake)
			if err != nil {
				return err
			}
			if retryScheduled {
				pendingRetries++
			}
		}
	}
}

// dispatch marks the step running, persists the transition, and
// starts a worker goroutine for the attempt.
func (e *Engine) dispatch(ctx context.Context, in *Instance, name string, results chan<- stepOutcome) error {
	step := in.Steps[name]
	def := e.definition(in, name)

	params, err := e.resolveParameters(def, in.Context)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	step.Status = StepRunning
	step.StartedAt = &now
	in.UpdatedAt = now
	if err := e.persist(ctx, in); err != nil {
		return err
	}

	e.logger.Debug("Dispatching step",
		zap.String("workflow_id", in.ID),
		zap.String("step", name),
		zap.String("kind", string(def.Kind)),
		zap.Int("attempt", step.AttemptCount+1))

	go func() {
		started := time.Now()
		result, err := e.executeStep(ctx, in.ID, def, params)
		// The channel is buffered to the dispatch ceiling, so this
		// never blocks even while the coordinator winds down.
		results <- stepOutcome{name: name, result: result, err: err, started: started, finished: time.Now()}
	}()
	return nil
}

// applyOutcome merges one finished attempt into the instance and
// persists the transition. It reports whether a retry was scheduled.
func (e *Engine) applyOutcome(ctx context.Context, in *Instance, out stepOutcome, wake chan<- struct{}) (bool, error) {
	if e.isCancelRequested(in.ID) {
		// The workflow was cancelled while this attempt was in
		// flight; its result is discarded.
		return false, nil
	}
	step := in.Steps[out.name]
	def := e.definition(in, out.name)
	now := time.Now().UTC()
	in.UpdatedAt = now

	if out.err == nil {
		step.Status = StepSucceeded
		step.FinishedAt = &now
		step.Error = ""
		if out.result.artifactID != "" {
			step.Result = out.result.artifactID
		} else {
			step.Result = out.result.contextValue
		}
		in.Context[out.name] = out.result.contextValue

		if e.metrics != nil {
			e.metrics.RecordStep(string(def.Kind), string(StepSucceeded), out.finished.Sub(out.started))
		}
		return false, e.persist(ctx, in)
	}

	step.AttemptCount++
	step.Error = out.err.Error()
	retryable := types.IsRetryable(out.err)

	if retryable && step.AttemptCount <= def.RetryLimit {
		step.Status = StepPending
		backoff := e.config.Retry.CalculateBackoff(step.AttemptCount - 1)

		if e.metrics != nil {
			e.metrics.RecordStepRetry(string(def.Kind))
		}
		e.logger.Warn("Step failed, retrying",
			zap.String("workflow_id", in.ID),
			zap.String("step", out.name),
			zap.Int("attempt", step.AttemptCount),
			zap.Duration("backoff", backoff),
			zap.Error(out.err))

		if err := e.persist(ctx, in); err != nil {
			return false, err
		}
		go func() {
			timer := time.NewTimer(backoff)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
			select {
			case wake <- struct{}{}:
			case <-ctx.Done():
			}
		}()
		return true, nil
	}

	step.FinishedAt = &now
	if def.Optional {
		// A tolerable failure: the step is skipped so dependents and
		// completion are not blocked.
		step.Status = StepSkipped
		e.logger.Warn("Optional step exhausted retries, skipping",
			zap.String("workflow_id", in.ID),
			zap.String("step", out.name),
			zap.Error(out.err))
	} else {
		step.Status = StepFailed
		step.Permanent = !retryable
		e.logger.Error("Step failed",
			zap.String("workflow_id", in.ID),
			zap.String("step", out.name),
			zap.Int("attempts", step.AttemptCount),
			zap.Bool("permanent", step.Permanent),
			zap.Error(out.err))
	}
	if e.metrics != nil {
		e.metrics.RecordStep(string(def.Kind), string(step.Status), out.finished.Sub(out.started))
	}
	return false, e.persist(ctx, in)
}

// executeStep performs one attempt: a provider call for generative
// kinds, a local merge for composite kinds. Artifacts are written to
// the store and cached before the outcome is reported, so dependents
// never observe an unpersisted result.
func (e *Engine) executeStep(ctx context.Context, workflowID string, def StepDefinition, params map[string]any) (*stepResult, error) {
	if def.Kind == StepComposite {
		merged := make(map[string]any, len(params))
		for k, v := range params {
			merged[k] = v
		}
		return &stepResult{contextValue: merged}, nil
	}

	capability, ok := def.Kind.Capability()
	if !ok {
		return nil, types.NewError(types.ErrWorkflowConfiguration,
			fmt.Sprintf("step kind %q has no provider capability", def.Kind))
	}
	adapter, err := e.registry.ForCapability(capability)
	if err != nil {
		return nil, err
	}

	release, err := e.providerGate.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := adapter.Invoke(ctx, capability, params)
	release()

	if e.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.metrics.RecordProviderCall(adapter.Name(), string(capability), status, time.Since(started))
	}
	if err != nil {
		return nil, err
	}

	art, err := e.artifacts.Write(ctx, result.Data, result.MediaKind,
		artifact.WithTags(workflowID, def.Name))
	if err != nil {
		return nil, types.NewError(types.ErrStoreWrite, "failed to store step artifact").WithCause(err)
	}

	if e.cache != nil {
		if err := e.cache.Put(ctx, art.ID, art.MediaKind, result.Data); err != nil {
			// Cache write failures are retryable step failures, not
			// silent misses.
			return nil, err
		}
	}

	value := any(art.ID)
	if result.MediaKind == artifact.MediaText {
		// Text outputs flow forward as prompt material for
		// dependent steps, not as opaque references.
		value = string(result.Data)
	}
	return &stepResult{artifactID: art.ID, contextValue: value}, nil
}

// resolveParameters interpolates context values into the step's
// parameters at dispatch. Keys were validated at creation, so a
// missing key here means corrupted state rather than misuse.
func (e *Engine) resolveParameters(def StepDefinition, contextValues map[string]any) (map[string]any, error) {
	for _, key := range def.InputKeys {
		if _, ok := contextValues[key]; !ok {
			return nil, types.NewError(types.ErrMissingContextKey,
				fmt.Sprintf("step %q requires context key %q which is absent", def.Name, key))
		}
	}

	params := make(map[string]any, len(def.Parameters)+len(def.InputKeys))
	for k, v := range def.Parameters {
		if s, ok := v.(string); ok {
			params[k] = Interpolate(s, contextValues)
		} else {
			params[k] = v
		}
	}
	for _, key := range def.InputKeys {
		if _, taken := params[key]; !taken {
			params[key] = contextValues[key]
		}
	}
	return params, nil
}

// finalizeCancellation marks every non-terminal step skipped and
// persists the cancelled instance.
func (e *Engine) finalizeCancellation(ctx context.Context, in *Instance) {
	now := time.Now().UTC()
	for _, step := range in.Steps {
		if !step.Status.Terminal() {
			step.Status = StepSkipped
		}
	}
	in.Cancelled = true
	in.UpdatedAt = now

	if err := e.persist(ctx, in); err != nil {
		e.logger.Error("Failed to persist cancelled workflow",
			zap.String("workflow_id", in.ID), zap.Error(err))
	}
	e.logger.Info("Workflow cancelled", zap.String("workflow_id", in.ID))
}

// persist durably writes the instance. Persistence outlives the run
// context so a cancellation still records its final state.
func (e *Engine) persist(ctx context.Context, in *Instance) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.store.Save(saveCtx, in); err != nil {
		return fmt.Errorf("failed to persist workflow %s: %w", in.ID, err)
	}
	return nil
}

func (e *Engine) definition(in *Instance, name string) StepDefinition {
	for _, def := range in.Definitions {
		if def.Name == name {
			return def
		}
	}
	// Unreachable for validated graphs.
	return StepDefinition{Name: name}
}

func (e *Engine) isCancelRequested(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[id]
}
