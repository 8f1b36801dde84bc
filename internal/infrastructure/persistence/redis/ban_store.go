package redis

import (
	"context"
	"time"
)

// BanStore keeps temporary rate limiter bans in Redis so that every
// bot instance sees them.
type BanStore struct {
	cache *Cache
}

// NewBanStore creates a ban store.
func NewBanStore(cache *Cache) *BanStore {
	return &BanStore{cache: cache}
}

// Ban stores a ban; an existing ban is not extended.
func (b *BanStore) Ban(ctx context.Context, userID int64, d time.Duration) error {
	_, err := b.cache.SetNX(ctx, BanKey(userID), time.Now().UTC().Add(d), d)
	return err
}

// BannedFor returns the remaining ban duration, 0 when not banned.
func (b *BanStore) BannedFor(ctx context.Context, userID int64) (time.Duration, error) {
	ttl, err := b.cache.TTL(ctx, BanKey(userID))
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Unban removes a ban.
func (b *BanStore) Unban(ctx context.Context, userID int64) error {
	return b.cache.Delete(ctx, BanKey(userID))
}
