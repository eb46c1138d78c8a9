package resolution

import (
	"fmt"
	"time"
)

// CacheControl lets shared caches hold a response for ttl and serve it
// stale for half as long while revalidating.
func CacheControl(ttl time.Duration) string {
	seconds := int(ttl / time.Second)
	return fmt.Sprintf("public, max-age=0, s-maxage=%d, stale-while-revalidate=%d", seconds, seconds/2)
}
