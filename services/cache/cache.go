package cache

import (
	"time"
)

// BlockCache records temporary per-source fetch blocks. The fetcher sets a
// block when a site answers with a rate-limit status and checks it before
// every request; entries expire on their own.
type BlockCache interface {
	// Get retrieves a value; an error means the key is absent or expired
	Get(key string) ([]byte, error)

	// Set stores a value with an expiration time
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a value
	Delete(key string) error
}
