// Package artifact provides content-addressable persistence for generated
// media. Artifacts are immutable once written: the id is the SHA-256
// fingerprint of the bytes, so two writes of identical content share one
// stored copy.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound    = errors.New("artifact not found")
	ErrStoreClosed = errors.New("artifact store is closed")
)

// MediaKind identifies the media type of an artifact.
type MediaKind string

const (
	MediaText  MediaKind = "text"
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Valid reports whether the media kind is one of the known kinds.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaText, MediaImage, MediaVideo:
		return true
	}
	return false
}

// Artifact describes a stored piece of generated content. It is immutable
// once written; only expiry and tags are bookkeeping set at write time.
type Artifact struct {
	// ID is the hex-encoded SHA-256 fingerprint of the content bytes.
	ID string `json:"id"`

	// MediaKind is the media type (text, image, video).
	MediaKind MediaKind `json:"media_kind"`

	// ByteSize is the content length in bytes.
	ByteSize int64 `json:"byte_size"`

	// CreatedAt is when the artifact was first written.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is the optional expiry time; nil means no expiry.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Tags carries workflow id, step name and similar labels.
	Tags []string `json:"tags,omitempty"`

	// StorageLocation is an opaque handle into the owning store.
	StorageLocation string `json:"storage_location"`
}

// Expired reports whether the artifact's expiry has passed.
func (a *Artifact) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// HasTag reports whether the artifact carries the given tag.
func (a *Artifact) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Fingerprint computes the content address for a byte sequence.
func Fingerprint(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
