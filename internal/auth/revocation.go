package auth

import (
	"context"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/cache"
)

const revocationKeyPrefix = "auth:revoked:"

// RevocationStore remembers logged-out token ids until the tokens would have expired anyway.
type RevocationStore struct {
	store cache.Store
	clock func() time.Time
}

// NewRevocationStore wraps the shared cache.
func NewRevocationStore(store cache.Store, clock func() time.Time) *RevocationStore {
	if clock == nil {
		clock = time.Now
	}
	return &RevocationStore{store: store, clock: clock}
}

// Revoke marks tokenID as unusable until the given expiry.
func (s *RevocationStore) Revoke(ctx context.Context, tokenID string, until time.Time) {
	if tokenID == "" {
		return
	}
	ttl := until.Sub(s.clock())
	if ttl <= 0 {
		return
	}
	s.store.Set(ctx, revocationKeyPrefix+tokenID, []byte{1}, ttl)
}

// IsRevoked reports whether tokenID was revoked.
func (s *RevocationStore) IsRevoked(ctx context.Context, tokenID string) bool {
	_, found := s.store.Get(ctx, revocationKeyPrefix+tokenID)
	return found
}
