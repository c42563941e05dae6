package provider

import (
	"context"
	"fmt"
	"sync"
)

// Call records one Invoke against a Fake.
type Call struct {
	Capability Capability
	Parameters map[string]any
}

// Fake is an in-memory adapter for tests. It produces deterministic
// bytes from the invocation parameters and can be scripted to fail a
// fixed number of times per capability.
type Fake struct {
	name string
	caps []Capability

	mu            sync.Mutex
	calls         []Call
	failRemaining map[Capability]int
	failErr       error
	generate      func(Capability, map[string]any) []byte
}

var _ Invoker = (*Fake)(nil)

// NewFake creates a fake adapter offering the given capabilities.
func NewFake(name string, caps ...Capability) *Fake {
	return &Fake{
		name:          name,
		caps:          caps,
		failRemaining: make(map[Capability]int),
		generate: func(c Capability, params map[string]any) []byte {
			return []byte(fmt.Sprintf("%s:%v", c, params))
		},
	}
}

// FailNext scripts the next n calls for the capability to return err.
func (f *Fake) FailNext(c Capability, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRemaining[c] = n
	f.failErr = err
}

// SetGenerator replaces the default payload generator.
func (f *Fake) SetGenerator(fn func(Capability, map[string]any) []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generate = fn
}

// Calls returns a copy of all recorded invocations.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor counts invocations of one capability.
func (f *Fake) CallsFor(c Capability) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.calls {
		if call.Capability == c {
			n++
		}
	}
	return n
}

func (f *Fake) Name() string {
	return f.name
}

func (f *Fake) Capabilities() []Capability {
	return f.caps
}

func (f *Fake) Invoke(ctx context.Context, capability Capability, parameters map[string]any) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{Capability: capability, Parameters: parameters})
	if remaining := f.failRemaining[capability]; remaining > 0 {
		f.failRemaining[capability] = remaining - 1
		err := f.failErr
		f.mu.Unlock()
		return nil, err
	}
	data := f.generate(capability, parameters)
	f.mu.Unlock()

	return &Result{
		Data:      data,
		MediaKind: capability.MediaKind(),
		Metadata:  map[string]string{"adapter": f.name},
	}, nil
}
