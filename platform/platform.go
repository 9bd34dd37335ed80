// Clients for federated platforms: services which host the reported accounts
// and content, and which apply suspensions and deletions on their side.
package platform

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// Marker meaning "the identity service and every configured federated service".
const Wildcard = "all"

var ErrNotFound = errors.New("subject not found on platform")

type Profile struct {
	Followers uint32 `json:"followers"`
	Following uint32 `json:"following"`
	Public    bool   `json:"public"`
	Suspended bool   `json:"suspended"`
}

type Post struct {
	ID     string `json:"id"`
	Likes  uint32 `json:"like"`
	Author string `json:"author"`
}

type Client interface {
	GetProfile(ctx context.Context, subject string) (*Profile, error)
	GetPost(ctx context.Context, id string) (*Post, error)
	SuspendAccount(ctx context.Context, subject string) error
	UnsuspendAccount(ctx context.Context, subject string) error
	DeleteAccount(ctx context.Context, subject string) error
}

// Post identifiers are purely numeric; anything else names an account.
func IsPostID(subject string) bool {
	if subject == "" {
		return false
	}
	for i := 0; i < len(subject); i++ {
		if subject[i] < '0' || subject[i] > '9' {
			return false
		}
	}
	return true
}

func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Named platforms which reports can target. Names are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{platforms: make(map[string]Client)}
}

func (r *Registry) Register(name string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[NormalizeName(name)] = c
}

// The wildcard is never a registered platform.
func (r *Registry) Lookup(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.platforms[NormalizeName(name)]
	return c, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
