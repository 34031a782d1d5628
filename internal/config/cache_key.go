package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// LocalSessionKey returns the key of the per-participant session mirror for a test.
func (r *CacheKeyStruct) LocalSessionKey(testID, userID string) string {
	return fmt.Sprintf("user:%s:test:%s:session", userID, testID)
}

// TestPresenceKey returns the key of the set of participants connected to a test.
func (r *CacheKeyStruct) TestPresenceKey(testID string) string {
	return fmt.Sprintf("test:%s:presence", testID)
}

// TestPresenceChannel returns the Redis PubSub channel carrying participant counts.
func (r *CacheKeyStruct) TestPresenceChannel(testID string) string {
	return fmt.Sprintf("test:%s:presence:events", testID)
}

// RateLimitKey returns the counter key of one rate limit window.
func (r *CacheKeyStruct) RateLimitKey(name, client, window string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", name, client, window)
}

var CacheKey = NewCacheKeyStruct()
