// Package cache is the session-scoped key/value cache of the client. It
// replaces ambient global state: the application owns one Store, hands it
// to whoever needs it and clears it when the session ends.
//
// Get returns (nil, nil) for a missing or expired key.
package cache

import (
	"context"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A ttl of zero keeps it until evicted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Evict(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}
