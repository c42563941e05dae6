// Package provider defines the adapter boundary to external
// generative services and the registry that maps capabilities to
// adapters.
package provider

import (
	"context"

	"github.com/mediaforge/mediaforge/artifact"
)

// Capability names one generative ability an adapter offers.
type Capability string

const (
	CapabilityText  Capability = "text"
	CapabilityImage Capability = "image"
	CapabilityVideo Capability = "video"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityText, CapabilityImage, CapabilityVideo:
		return true
	}
	return false
}

// MediaKind returns the artifact kind produced by this capability.
func (c Capability) MediaKind() artifact.MediaKind {
	switch c {
	case CapabilityText:
		return artifact.MediaText
	case CapabilityImage:
		return artifact.MediaImage
	case CapabilityVideo:
		return artifact.MediaVideo
	}
	return ""
}

// Result is the raw outcome of one adapter call. The caller owns
// persistence; adapters only produce bytes.
type Result struct {
	Data      []byte
	MediaKind artifact.MediaKind
	Metadata  map[string]string
}

// Invoker is implemented by every provider adapter. Invoke must be
// safe to call again after an error: the retry policy upstream may
// re-issue the same parameters.
type Invoker interface {
	// Name identifies the adapter, e.g. "gemini" or "kling".
	Name() string
	// Capabilities lists what the adapter can generate.
	Capabilities() []Capability
	// Invoke performs one generation call.
	Invoke(ctx context.Context, capability Capability, parameters map[string]any) (*Result, error)
}
