package output

import (
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/mediaforge/mediaforge/types"
)

// Lease is a time-bounded grant to fetch one artifact through a
// served URL. After ExpiresAt the token resolves to a gone error.
type Lease struct {
	Token      string    `json:"token"`
	ArtifactID string    `json:"artifact_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// LeaseRegistry tracks active serving leases. Expired leases are
// revoked automatically.
type LeaseRegistry struct {
	leases *gocache.Cache
	logger *zap.Logger
}

// NewLeaseRegistry creates a registry whose leases default to ttl.
func NewLeaseRegistry(ttl time.Duration, logger *zap.Logger) *LeaseRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "lease_registry"))

	leases := gocache.New(ttl, ttl/2)
	leases.OnEvicted(func(token string, _ interface{}) {
		logger.Debug("Serving lease expired", zap.String("token", token))
	})

	return &LeaseRegistry{leases: leases, logger: logger}
}

// Grant issues a new lease for the artifact.
func (r *LeaseRegistry) Grant(artifactID string, ttl time.Duration) *Lease {
	lease := &Lease{
		Token:      uuid.NewString(),
		ArtifactID: artifactID,
		ExpiresAt:  time.Now().Add(ttl),
	}
	r.leases.Set(lease.Token, lease, ttl)
	return lease
}

// Resolve returns the lease for a token, or a gone error if the
// token is unknown, expired, or revoked.
func (r *LeaseRegistry) Resolve(token string) (*Lease, error) {
	value, ok := r.leases.Get(token)
	if !ok {
		return nil, types.NewError(types.ErrOutputLeaseGone, "serving lease expired or revoked")
	}
	return value.(*Lease), nil
}

// Revoke invalidates a lease before its natural expiry.
func (r *LeaseRegistry) Revoke(token string) {
	r.leases.Delete(token)
}

// Active returns the number of live leases.
func (r *LeaseRegistry) Active() int {
	return r.leases.ItemCount()
}
