package workflow

import (
	"time"
)

// StepStatus is the lifecycle state of one step. Readiness to
// dispatch is computed from dependency states, never stored.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Terminal reports whether the step will never run again.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepSucceeded, StepFailed, StepSkipped:
		return true
	}
	return false
}

// Resolved reports whether dependents of this step may proceed.
func (s StepStatus) Resolved() bool {
	return s == StepSucceeded || s == StepSkipped
}

// StepState is the mutable per-step record inside an instance.
type StepState struct {
	Name         string     `json:"name"`
	Kind         StepKind   `json:"kind"`
	Status       StepStatus `json:"status"`
	AttemptCount int        `json:"attempt_count"`

	// Result holds the step output: an artifact id for generative
	// steps, a structured value for composite steps. Present only
	// when Status is succeeded.
	Result any `json:"result,omitempty"`

	// Error records the last failure. Present only when Status is
	// failed, or transiently between a failed attempt and a retry.
	Error string `json:"error,omitempty"`

	// Permanent marks the failure as non-retryable. A permanent
	// failure makes the whole instance failed rather than
	// step_failed.
	Permanent bool `json:"permanent,omitempty"`

	DependsOn []string `json:"depends_on,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long the step ran, zero if it never finished.
func (s *StepState) Duration() time.Duration {
	if s.StartedAt == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}

// Status is the lifecycle state of a whole instance. It is always
// derived from step states plus the cancellation flag, never stored
// independently.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusStepFailed Status = "step_failed"
	StatusRetrying   Status = "retrying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the instance can make no further progress
// without an explicit resume.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Instance is the durable unit of orchestration.
type Instance struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id,omitempty"`

	// Definitions are the immutable step declarations.
	Definitions []StepDefinition `json:"definitions"`

	// Context holds initial parameters plus each completed step's
	// output under the step's name. Only the engine coordinator
	// writes it.
	Context map[string]any `json:"context"`

	// Steps maps step name to its mutable state.
	Steps map[string]*StepState `json:"steps"`

	// Cancelled is set by an external cancellation request.
	Cancelled bool `json:"cancelled,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status derives the instance status from its step states.
func (in *Instance) Status() Status {
	if in.Cancelled {
		return StatusCancelled
	}

	var (
		anyPermanentFailed bool
		anyFailed          bool
		anyRunning         bool
		anyRetryPending    bool
		allPending         = true
		allResolved        = true
	)
	for _, step := range in.Steps {
		switch step.Status {
		case StepFailed:
			anyFailed = true
			if step.Permanent {
				anyPermanentFailed = true
			}
		case StepRunning:
			anyRunning = true
		case StepPending:
			if step.AttemptCount > 0 {
				anyRetryPending = true
			}
		}
		if step.Status != StepPending {
			allPending = false
		}
		if !step.Status.Resolved() {
			allResolved = false
		}
	}

	switch {
	case anyPermanentFailed:
		return StatusFailed
	case anyFailed:
		return StatusStepFailed
	case allResolved:
		return StatusCompleted
	case allPending:
		return StatusPending
	case anyRunning:
		return StatusRunning
	case anyRetryPending:
		return StatusRetrying
	default:
		return StatusRunning
	}
}

// ReadySteps returns names of steps whose dependencies have all
// resolved and which have not started, in no particular order.
func (in *Instance) ReadySteps() []string {
	if in.Cancelled {
		return nil
	}
	var ready []string
	for name, step := range in.Steps {
		if step.Status != StepPending {
			continue
		}
		ok := true
		for _, dep := range step.DependsOn {
			if !in.Steps[dep].Status.Resolved() {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, name)
		}
	}
	return ready
}

// StepReport is a read-only per-step log line: status, attempts, and
// timing in definition order.
type StepReport struct {
	Name       string        `json:"name"`
	Kind       StepKind      `json:"kind"`
	Status     StepStatus    `json:"status"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// StepReports returns one report per step, in definition order.
func (in *Instance) StepReports() []StepReport {
	reports := make([]StepReport, 0, len(in.Definitions))
	for _, def := range in.Definitions {
		step, ok := in.Steps[def.Name]
		if !ok {
			continue
		}
		// AttemptCount tracks failed attempts; a success is one more.
		attempts := step.AttemptCount
		if step.Status == StepSucceeded {
			attempts++
		}
		reports = append(reports, StepReport{
			Name:       step.Name,
			Kind:       step.Kind,
			Status:     step.Status,
			Attempts:   attempts,
			Error:      step.Error,
			StartedAt:  step.StartedAt,
			FinishedAt: step.FinishedAt,
			Duration:   step.Duration(),
		})
	}
	return reports
}

// Progress reports resolved steps out of the total.
func (in *Instance) Progress() (resolved, total int) {
	for _, step := range in.Steps {
		if step.Status.Resolved() {
			resolved++
		}
	}
	return resolved, len(in.Steps)
}

// normalizeForResume resets steps interrupted mid-flight so the
// scheduler recomputes readiness from durable state alone.
func (in *Instance) normalizeForResume() {
	for _, step := range in.Steps {
		if step.Status == StepRunning {
			step.Status = StepPending
		}
	}
}

// failedStep returns the first failed step, if any.
func (in *Instance) failedStep() *StepState {
	for _, step := range in.Steps {
		if step.Status == StepFailed {
			return step
		}
	}
	return nil
}

// Snapshot returns a deep copy safe to hand outside the engine.
func (in *Instance) Snapshot() *Instance {
	out := &Instance{
		ID:          in.ID,
		TemplateID:  in.TemplateID,
		Definitions: append([]StepDefinition(nil), in.Definitions...),
		Context:     make(map[string]any, len(in.Context)),
		Steps:       make(map[string]*StepState, len(in.Steps)),
		Cancelled:   in.Cancelled,
		CreatedAt:   in.CreatedAt,
		UpdatedAt:   in.UpdatedAt,
	}
	for k, v := range in.Context {
		out.Context[k] = v
	}
	for name, step := range in.Steps {
		copied := *step
		copied.DependsOn = append([]string(nil), step.DependsOn...)
		out.Steps[name] = &copied
	}
	return out
}
