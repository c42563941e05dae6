package output

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mediaforge/mediaforge/artifact"
	"github.com/mediaforge/mediaforge/cache"
	"github.com/mediaforge/mediaforge/types"
)

// Router resolves a delivery preference against an artifact and
// produces the descriptor handed back to the caller. Bytes are read
// through the tiered cache; file and url modes require the artifact
// to be durably present in the store before a reference is returned.
type Router struct {
	store  artifact.Store
	cache  *cache.TieredCache
	leases *LeaseRegistry
	config Config
	logger *zap.Logger
}

// NewRouter creates an output router.
func NewRouter(store artifact.Store, tiered *cache.TieredCache, config Config, logger *zap.Logger) (*Router, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid output configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "output_router"))

	return &Router{
		store:  store,
		cache:  tiered,
		leases: NewLeaseRegistry(config.LeaseTTL, logger),
		config: config,
		logger: logger,
	}, nil
}

// Leases exposes the serving lease registry so the byte-serving
// front-end can resolve and revoke tokens.
func (r *Router) Leases() *LeaseRegistry {
	return r.leases
}

// Deliver produces a delivery descriptor for the stored artifact.
// An explicit preference that cannot represent the artifact is
// rejected; auto picks a representable mode by size.
func (r *Router) Deliver(ctx context.Context, artifactID string, pref Preference) (*Descriptor, error) {
	if !pref.Valid() {
		return nil, types.NewError(types.ErrOutputMode, fmt.Sprintf("unknown output preference %q", pref))
	}

	art, err := r.store.Stat(ctx, artifactID)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, types.NewError(types.ErrStoreNotFound, fmt.Sprintf("artifact %s not found", artifactID))
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreRead, "failed to stat artifact").WithCause(err)
	}

	mode, err := r.pickMode(art, pref)
	if err != nil {
		return nil, err
	}

	desc := &Descriptor{
		ArtifactID: art.ID,
		MediaKind:  art.MediaKind,
		ByteSize:   art.ByteSize,
		Mode:       mode,
	}

	switch mode {
	case ModeInline:
		data, err := r.readBytes(ctx, art.ID)
		if err != nil {
			return nil, err
		}
		desc.InlineData = base64.StdEncoding.EncodeToString(data)
		desc.Encoding = "base64"

	case ModeFile:
		desc.FileReference = art.StorageLocation

	case ModeURL:
		lease := r.leases.Grant(art.ID, r.config.LeaseTTL)
		desc.ServedURL = fmt.Sprintf("%s/artifacts/%s", r.config.BaseURL, lease.Token)
		expires := lease.ExpiresAt
		desc.ExpiresAt = &expires
	}

	r.logger.Debug("Delivered artifact",
		zap.String("artifact_id", art.ID),
		zap.String("preference", string(pref)),
		zap.String("mode", string(mode)),
		zap.Int64("byte_size", art.ByteSize))

	return desc, nil
}

// pickMode maps a preference onto a concrete mode, enforcing the
// inline ceiling for explicit inline requests.
func (r *Router) pickMode(art *artifact.Artifact, pref Preference) (Mode, error) {
	switch pref {
	case PreferenceInline:
		if art.ByteSize > r.config.InlineCeiling {
			return "", types.NewError(types.ErrOutputMode,
				fmt.Sprintf("artifact of %d bytes exceeds inline ceiling of %d bytes", art.ByteSize, r.config.InlineCeiling))
		}
		return ModeInline, nil
	case PreferenceFile:
		return ModeFile, nil
	case PreferenceURL:
		return ModeURL, nil
	}

	t := r.config.thresholdsFor(art.MediaKind)
	switch {
	case art.ByteSize <= t.Inline:
		return ModeInline, nil
	case art.ByteSize <= t.File:
		return ModeFile, nil
	default:
		return ModeURL, nil
	}
}

// readBytes reads artifact bytes through the cache, falling back to
// the store and repopulating the cache on a miss.
func (r *Router) readBytes(ctx context.Context, id string) ([]byte, error) {
	if r.cache != nil {
		data, err := r.cache.Get(ctx, id)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Warn("Cache read failed, falling back to store", zap.String("id", id), zap.Error(err))
		}
	}

	data, err := r.store.Read(ctx, id)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, types.NewError(types.ErrStoreNotFound, fmt.Sprintf("artifact %s not found", id))
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreRead, "failed to read artifact").WithCause(err)
	}

	if r.cache != nil {
		art, statErr := r.store.Stat(ctx, id)
		if statErr == nil {
			if putErr := r.cache.Put(ctx, id, art.MediaKind, data); putErr != nil {
				r.logger.Warn("Cache repopulation failed", zap.String("id", id), zap.Error(putErr))
			}
		}
	}
	return data, nil
}
