package workflow

import (
	"fmt"

	"github.com/mediaforge/mediaforge/provider"
	"github.com/mediaforge/mediaforge/types"
)

// StepKind selects what a step does when dispatched.
type StepKind string

const (
	StepGenerateText  StepKind = "generate_text"
	StepGenerateImage StepKind = "generate_image"
	StepGenerateVideo StepKind = "generate_video"
	// StepComposite merges its inputs into one structured value
	// without calling a provider.
	StepComposite StepKind = "composite"
)

// Valid reports whether k is a known step kind.
func (k StepKind) Valid() bool {
	switch k {
	case StepGenerateText, StepGenerateImage, StepGenerateVideo, StepComposite:
		return true
	}
	return false
}

// Capability maps a generative step kind to the adapter capability
// it requires. Composite steps have no capability.
func (k StepKind) Capability() (provider.Capability, bool) {
	switch k {
	case StepGenerateText:
		return provider.CapabilityText, true
	case StepGenerateImage:
		return provider.CapabilityImage, true
	case StepGenerateVideo:
		return provider.CapabilityVideo, true
	}
	return "", false
}

// StepDefinition declares one step of a graph. Definitions are fixed
// at workflow creation and never mutated afterwards.
type StepDefinition struct {
	// Name is unique within the graph and becomes the context key
	// the step's output is published under.
	Name string `json:"name" yaml:"name"`

	// Kind selects the step behaviour.
	Kind StepKind `json:"kind" yaml:"kind"`

	// DependsOn lists steps that must resolve before this one runs.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// InputKeys are the context keys the step reads at dispatch.
	// Every key must be satisfiable at creation time: either an
	// initial context key or the name of a declared dependency.
	InputKeys []string `json:"input_keys,omitempty" yaml:"input_keys,omitempty"`

	// Parameters are passed to the adapter verbatim, after input
	// resolution merges context values in.
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Optional steps may be skipped when they exhaust retries
	// instead of failing the workflow.
	Optional bool `json:"optional,omitempty" yaml:"optional,omitempty"`

	// RetryLimit is how many times a transient failure is retried.
	// A limit of n allows n+1 attempts in total.
	RetryLimit int `json:"retry_limit,omitempty" yaml:"retry_limit,omitempty"`
}

// ValidateGraph checks a step graph for structural errors: duplicate
// or empty names, unknown kinds, missing dependencies, unsatisfiable
// input keys, and cycles. It runs once at workflow creation; a graph
// that passes can never produce a configuration error mid-execution.
func ValidateGraph(steps []StepDefinition, initialContext map[string]any) error {
	if len(steps) == 0 {
		return types.NewError(types.ErrWorkflowConfiguration, "workflow has no steps")
	}

	byName := make(map[string]*StepDefinition, len(steps))
	for i := range steps {
		step := &steps[i]
		if step.Name == "" {
			return types.NewError(types.ErrWorkflowConfiguration, "step name must not be empty")
		}
		if !step.Kind.Valid() {
			return types.NewError(types.ErrWorkflowConfiguration,
				fmt.Sprintf("step %q has unknown kind %q", step.Name, step.Kind))
		}
		if step.RetryLimit < 0 {
			return types.NewError(types.ErrWorkflowConfiguration,
				fmt.Sprintf("step %q has negative retry limit", step.Name))
		}
		if _, dup := byName[step.Name]; dup {
			return types.NewError(types.ErrWorkflowConfiguration,
				fmt.Sprintf("duplicate step name %q", step.Name))
		}
		byName[step.Name] = step
	}

	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if dep == step.Name {
				return types.NewError(types.ErrDependencyCycle,
					fmt.Sprintf("step %q depends on itself", step.Name))
			}
			if _, ok := byName[dep]; !ok {
				return types.NewError(types.ErrWorkflowConfiguration,
					fmt.Sprintf("step %q depends on unknown step %q", step.Name, dep))
			}
		}

		deps := make(map[string]bool, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			deps[dep] = true
		}
		for _, key := range step.InputKeys {
			if _, ok := initialContext[key]; ok {
				continue
			}
			if deps[key] {
				continue
			}
			return types.NewError(types.ErrMissingContextKey,
				fmt.Sprintf("step %q reads context key %q which is neither an initial value nor a dependency output", step.Name, key))
		}
	}

	return detectCycle(steps)
}

// detectCycle runs Kahn's algorithm; any unprocessed step means a
// dependency loop exists.
func detectCycle(steps []StepDefinition) error {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, step := range steps {
		indegree[step.Name] += 0
		for _, dep := range step.DependsOn {
			indegree[step.Name]++
			dependents[dep] = append(dependents[dep], step.Name)
		}
	}

	queue := make([]string, 0, len(steps))
	for name, degree := range indegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}

	processed := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if processed != len(steps) {
		return types.NewError(types.ErrDependencyCycle, "step graph contains a dependency cycle")
	}
	return nil
}
