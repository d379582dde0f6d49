package auth

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/blake2b"
)

type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, accessToken string) (SupabaseUser, error)
}

// CachedVerifier memoises successful token verifications for a short TTL. Tokens are keyed by their
// digest so raw bearer tokens are not retained in memory.
type CachedVerifier struct {
	next  TokenVerifier
	cache *expirable.LRU[string, SupabaseUser]
}

func NewCachedVerifier(next TokenVerifier, size int, ttl time.Duration) *CachedVerifier {
	if size <= 0 {
		size = 1024
	}
	return &CachedVerifier{
		next:  next,
		cache: expirable.NewLRU[string, SupabaseUser](size, nil, ttl),
	}
}

func (c *CachedVerifier) VerifyAccessToken(ctx context.Context, accessToken string) (SupabaseUser, error) {
	sum := blake2b.Sum256([]byte(accessToken))
	key := hex.EncodeToString(sum[:])
	if user, ok := c.cache.Get(key); ok {
		return user, nil
	}
	user, err := c.next.VerifyAccessToken(ctx, accessToken)
	if err != nil {
		return SupabaseUser{}, err
	}
	c.cache.Add(key, user)
	return user, nil
}

func (c *CachedVerifier) Len() int { return c.cache.Len() }
