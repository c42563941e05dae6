// Package output routes finished artifacts back to callers: small
// payloads inline, medium ones as durable file references, large ones
// as time-limited served URLs.
package output

import (
	"fmt"
	"time"

	"github.com/mediaforge/mediaforge/artifact"
)

// Preference selects a delivery mode. Auto picks a mode from the
// artifact's byte size.
type Preference string

const (
	PreferenceAuto   Preference = "auto"
	PreferenceInline Preference = "inline"
	PreferenceFile   Preference = "file"
	PreferenceURL    Preference = "url"
)

// Valid reports whether p is a known preference.
func (p Preference) Valid() bool {
	switch p {
	case PreferenceAuto, PreferenceInline, PreferenceFile, PreferenceURL:
		return true
	}
	return false
}

// Mode is the delivery mode actually used for a descriptor.
type Mode string

const (
	ModeInline Mode = "inline"
	ModeFile   Mode = "file"
	ModeURL    Mode = "url"
)

// Descriptor is the delivery result handed back to a caller. Exactly
// one of the mode-specific field groups is populated.
type Descriptor struct {
	ArtifactID string             `json:"artifact_id"`
	MediaKind  artifact.MediaKind `json:"media_kind"`
	ByteSize   int64              `json:"byte_size"`
	Mode       Mode               `json:"mode"`

	// Inline mode.
	InlineData string `json:"inline_data,omitempty"`
	Encoding   string `json:"encoding,omitempty"`

	// File mode.
	FileReference string `json:"file_reference,omitempty"`

	// URL mode.
	ServedURL string     `json:"served_url,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Thresholds are the size cutoffs for auto mode selection: at or
// below Inline bytes the payload is inlined, at or below File bytes a
// file reference is returned, above that a served URL.
type Thresholds struct {
	Inline int64 `yaml:"inline" json:"inline"`
	File   int64 `yaml:"file" json:"file"`
}

// Config configures a Router.
type Config struct {
	// Defaults apply to every media kind without an override.
	Defaults Thresholds `yaml:"defaults" json:"defaults"`
	// PerKind overrides the auto thresholds for specific media kinds.
	PerKind map[artifact.MediaKind]Thresholds `yaml:"per_kind" json:"per_kind"`
	// InlineCeiling is the hard upper bound for an explicit inline
	// request. Above it the request is rejected, not downgraded.
	InlineCeiling int64 `yaml:"inline_ceiling" json:"inline_ceiling"`
	// LeaseTTL is how long a served URL stays valid.
	LeaseTTL time.Duration `yaml:"lease_ttl" json:"lease_ttl"`
	// BaseURL prefixes served URLs, e.g. "http://localhost:8780".
	BaseURL string `yaml:"base_url" json:"base_url"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Defaults: Thresholds{
			Inline: 1 << 20,
			File:   50 << 20,
		},
		InlineCeiling: 10 << 20,
		LeaseTTL:      time.Hour,
		BaseURL:       "http://localhost:8780",
	}
}

// thresholdsFor resolves the auto thresholds for the given kind.
func (c Config) thresholdsFor(kind artifact.MediaKind) Thresholds {
	if t, ok := c.PerKind[kind]; ok {
		return t
	}
	return c.Defaults
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.Defaults.Inline <= 0 || c.Defaults.File <= 0 {
		return fmt.Errorf("output thresholds must be positive")
	}
	if c.Defaults.Inline > c.Defaults.File {
		return fmt.Errorf("inline threshold %d exceeds file threshold %d", c.Defaults.Inline, c.Defaults.File)
	}
	for kind, t := range c.PerKind {
		if !kind.Valid() {
			return fmt.Errorf("unknown media kind in threshold overrides: %q", kind)
		}
		if t.Inline <= 0 || t.File <= 0 || t.Inline > t.File {
			return fmt.Errorf("invalid threshold override for %q", kind)
		}
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("lease ttl must be positive")
	}
	return nil
}
