package workflow

import (
	"context"
	"errors"
)

// ErrInstanceNotFound indicates no instance with the given id is persisted.
var ErrInstanceNotFound = errors.New("workflow instance not found")

// StateStore persists workflow instances. Save must be atomic per
// record: a crash mid-write never leaves a half-written instance.
type StateStore interface {
	// Save upserts the full instance state.
	Save(ctx context.Context, instance *Instance) error
	// Load returns the instance, or ErrInstanceNotFound.
	Load(ctx context.Context, id string) (*Instance, error)
	// List returns ids of all persisted instances.
	List(ctx context.Context) ([]string, error)
	// Delete removes an instance. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// Close releases underlying resources.
	Close() error
}
