package sanction

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

const lockStripes = 256

// Striped per-subject mutexes; subjects sharing a stripe serialise each other.
type subjectLocks [lockStripes]sync.Mutex

func (l *subjectLocks) lock(subject string) func() {
	mu := &l[murmur3.Sum32([]byte(subject))%lockStripes]
	mu.Lock()
	return mu.Unlock
}
