// Package cache defines the byte cache used for session-scoped state that must
// not outlive an interaction (non-remembered consent, device poll pacing).
package cache

import "time"

type Cache interface {
	Get(key string) (value []byte, ok bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}
