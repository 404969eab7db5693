package sessions

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist revokes access tokens before they expire. Keys hold the token
// hash, never the token itself.
type Blacklist struct {
	client redis.UniversalClient
	prefix string
}

// NewBlacklist returns a Redis-backed blacklist. A nil client disables it.
func NewBlacklist(client redis.UniversalClient) *Blacklist {
	return &Blacklist{client: client, prefix: "blacklist:access:"}
}

// Revoke blacklists token for ttl, which should cover its remaining lifetime.
func (b *Blacklist) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if b == nil || b.client == nil || ttl <= 0 {
		return nil
	}
	return b.client.Set(ctx, b.prefix+HashToken(token), "1", ttl).Err()
}

// IsRevoked returns true when the token is blacklisted.
func (b *Blacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	if b == nil || b.client == nil {
		return false, nil
	}
	n, err := b.client.Exists(ctx, b.prefix+HashToken(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
