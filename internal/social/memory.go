package social

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"civitas/pkg/platform/sentinel"
)

// MemoryDirectory is an in-process Directory seeded with Add.
type MemoryDirectory struct {
	mu       sync.RWMutex
	now      func() time.Time
	profiles map[string]Profile
	follows  map[string]map[string]Follow // follower -> followee
}

func NewMemoryDirectory(profiles ...Profile) *MemoryDirectory {
	d := &MemoryDirectory{
		now:      time.Now,
		profiles: make(map[string]Profile),
		follows:  make(map[string]map[string]Follow),
	}
	for _, p := range profiles {
		d.Add(p)
	}
	return d
}

func (d *MemoryDirectory) Add(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
}

// Search matches the query case-insensitively against names and titles,
// ordered by name.
func (d *MemoryDirectory) Search(_ context.Context, query string, limit int) ([]Profile, error) {
	needle := strings.ToLower(strings.TrimSpace(query))

	d.mu.RLock()
	out := make([]Profile, 0)
	for _, p := range d.profiles {
		if strings.Contains(strings.ToLower(p.Name), needle) || strings.Contains(strings.ToLower(p.Title), needle) {
			out = append(out, p)
		}
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b Profile) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *MemoryDirectory) Follow(_ context.Context, followerID, followeeID string) (Follow, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.profiles[followeeID]; !ok {
		return Follow{}, fmt.Errorf("user %s: %w", followeeID, sentinel.ErrNotFound)
	}
	following := d.follows[followerID]
	if following == nil {
		following = make(map[string]Follow)
		d.follows[followerID] = following
	}
	if _, exists := following[followeeID]; exists {
		return Follow{}, fmt.Errorf("follow %s -> %s: %w", followerID, followeeID, sentinel.ErrConflict)
	}
	f := Follow{FollowerID: followerID, FolloweeID: followeeID, CreatedAt: d.now()}
	following[followeeID] = f
	return f, nil
}

// Following lists who followerID follows.
func (d *MemoryDirectory) Following(followerID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.follows[followerID]))
	for id := range d.follows[followerID] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
