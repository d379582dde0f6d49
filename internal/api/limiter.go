package api

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// limiterSet hands out one token bucket per user. Idle buckets age out of the LRU.
type limiterSet struct {
	mu    sync.Mutex
	every rate.Limit
	burst int
	users *expirable.LRU[string, *rate.Limiter]
}

func newLimiterSet(perMinute int) *limiterSet {
	if perMinute <= 0 {
		perMinute = 30
	}
	burst := perMinute / 6
	if burst < 1 {
		burst = 1
	}
	return &limiterSet{
		every: rate.Every(time.Minute / time.Duration(perMinute)),
		burst: burst,
		users: expirable.NewLRU[string, *rate.Limiter](10_000, nil, 10*time.Minute),
	}
}

func (l *limiterSet) Allow(userID string) bool {
	l.mu.Lock()
	lim, ok := l.users.Get(userID)
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.users.Add(userID, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}
