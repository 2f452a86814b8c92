package hubtwin

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTLDays is the retention given to channels created without one.
const DefaultTTLDays = 120

// Item is a stored channel item.
type Item struct {
	Time time.Time
	Hash string
	Body []byte
}

// Path returns the item's time path relative to its channel.
func (it Item) Path() string {
	t := it.Time.UTC()
	return fmt.Sprintf("%s/%03d/%s", t.Format("2006/01/02/15/04/05"), t.Nanosecond()/int(time.Millisecond), it.Hash)
}

// Channel is a time-ordered, append-only item stream. Items are kept sorted
// by time and every item time is unique at millisecond resolution.
type Channel struct {
	mu          sync.RWMutex
	name        string
	description string
	ttlDays     int
	ttlMillis   *int64
	items       []Item
	byHash      map[string]int
}

func newChannel(name, description string, ttlDays int) *Channel {
	if ttlDays <= 0 {
		ttlDays = DefaultTTLDays
	}
	return &Channel{
		name:        name,
		description: description,
		ttlDays:     ttlDays,
		byHash:      make(map[string]int),
	}
}

func newHash() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// insert adds an item at t, bumping t forward one millisecond at a time
// until it no longer collides with an existing item.
func (c *Channel) insert(t time.Time, body []byte) Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	t = t.UTC().Truncate(time.Millisecond)
	for c.indexAtLocked(t) >= 0 {
		t = t.Add(time.Millisecond)
	}
	it := Item{Time: t, Hash: newHash(), Body: body}

	idx := sort.Search(len(c.items), func(i int) bool { return c.items[i].Time.After(t) })
	c.items = append(c.items, Item{})
	copy(c.items[idx+1:], c.items[idx:])
	c.items[idx] = it
	c.reindexLocked()
	return it
}

// appendNow adds an item strictly after the current last item.
func (c *Channel) appendNow(now time.Time, body []byte) Item {
	c.mu.RLock()
	if n := len(c.items); n > 0 && !now.After(c.items[n-1].Time) {
		now = c.items[n-1].Time.Add(time.Millisecond)
	}
	c.mu.RUnlock()
	return c.insert(now, body)
}

func (c *Channel) indexAtLocked(t time.Time) int {
	idx := sort.Search(len(c.items), func(i int) bool { return !c.items[i].Time.Before(t) })
	if idx < len(c.items) && c.items[idx].Time.Equal(t) {
		return idx
	}
	return -1
}

func (c *Channel) reindexLocked() {
	clear(c.byHash)
	for i, it := range c.items {
		c.byHash[it.Hash] = i
	}
}

// lookup returns the index of the item with the given hash.
func (c *Channel) lookup(hash string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byHash[hash]
	return i, ok
}

// snapshot returns a copy of all items.
func (c *Channel) snapshot() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Channel) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Channel) at(i int) (Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.items) {
		return Item{}, false
	}
	return c.items[i], true
}

// Registry is a thread-safe, insertion-ordered map of named resources.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// Set stores v under name. Overwrites keep their original position.
func (r *Registry[T]) Set(name string, v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[name]; !exists {
		r.order = append(r.order, name)
	}
	r.items[name] = v
}

// Get returns the value stored under name.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[name]
	return v, ok
}

// Delete removes name and returns its value.
func (r *Registry[T]) Delete(name string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[name]
	if !ok {
		return v, false
	}
	delete(r.items, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return v, true
}

// List returns all values in insertion order.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.items[n])
	}
	return out
}

// Clock is a wall clock with an adjustable offset. A frozen clock reports
// its fixed instant plus the offset.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration
	fixed  time.Time
}

// Now returns the current clock reading.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.fixed.IsZero() {
		return c.fixed.Add(c.offset)
	}
	return time.Now().Add(c.offset)
}

// Freeze stops the clock at t.
func (c *Clock) Freeze(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fixed = t
	c.offset = 0
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}
