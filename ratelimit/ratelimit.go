// Per-(subject, actor) report throttling.
//
// A reporter may have at most one accepted report against a given subject per
// Window. Reserve claims the slot atomically; Release hands it back when the
// request is rejected before anything is persisted.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"
)

const Window = 300 * time.Second

type Limiter interface {
	// Reserve claims the slot for (subject, actor). Returns false if the slot is already held.
	Reserve(ctx context.Context, subject, actor string) (bool, error)
	// Release frees a slot claimed by Reserve. Releasing a free slot is not an error.
	Release(ctx context.Context, subject, actor string) error
}

// memcached limits keys to 250 bytes without whitespace or control characters
const maxKeyLen = 250

func limitKey(subject, actor string) string {
	k := fmt.Sprintf("signaly_%s_%s", subject, actor)
	if len(k) > maxKeyLen || strings.IndexFunc(k, func(r rune) bool { return r <= ' ' || r == 0x7f }) >= 0 {
		hi, lo := murmur3.Sum128([]byte(subject + "\x00" + actor))
		return fmt.Sprintf("signaly_h_%016x%016x", hi, lo)
	}
	return k
}
