// Package cache stores validated metric sets keyed by symbol, date and category.
package cache

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/marketdata-hub/internal/model"
)

const dateLayout = "2006-01-02"

// Key identifies one cached entry. AsOf is a calendar date, not an instant.
type Key struct {
	Symbol   string
	AsOf     string
	Category model.Category
}

// NewKey builds a Key, truncating asOf to its date.
func NewKey(symbol string, asOf time.Time, category model.Category) Key {
	return Key{Symbol: symbol, AsOf: asOf.Format(dateLayout), Category: category}
}

func (k Key) String() string {
	return k.Symbol + "/" + k.AsOf + "/" + string(k.Category)
}

// Entry is a validated payload together with its quality assessment.
type Entry struct {
	Key          Key
	Payload      model.StandardizedMetricSet
	Grade        model.Grade
	QualityScore float64
	Confidence   float64
	Issues       []model.ValidationIssue
	StoredAt     time.Time
	TTL          time.Duration
}

// ExpiresAt returns the instant the entry stops being fresh.
func (e Entry) ExpiresAt() time.Time { return e.StoredAt.Add(e.TTL) }

// Fresh reports whether the entry is still within its TTL at now.
func (e Entry) Fresh(now time.Time) bool { return now.Before(e.ExpiresAt()) }

func (e Entry) clone() Entry {
	out := e
	out.Payload = e.Payload.Clone()
	if e.Issues != nil {
		out.Issues = make([]model.ValidationIssue, len(e.Issues))
		copy(out.Issues, e.Issues)
	}
	return out
}

// Options configures a Store.
type Options struct {
	// MaxEntries bounds the map. Zero means unbounded.
	MaxEntries int
	// HitWindow is the number of recent lookups the windowed hit rate covers.
	HitWindow int
}

// DefaultOptions returns a 10k entry store with a 1000 lookup hit window.
func DefaultOptions() Options {
	return Options{MaxEntries: 10000, HitWindow: 1000}
}

// Store is an in-memory TTL cache. Expired entries are kept so they can be
// served stale when every provider fails.
type Store struct {
	opts Options
	now  func() time.Time

	mu      sync.Mutex
	entries map[Key]Entry
	hits    uint64
	misses  uint64
	window  []bool
	next    int
	filled  bool
}

// New creates a Store.
func New(opts Options) *Store {
	if opts.HitWindow <= 0 {
		opts.HitWindow = DefaultOptions().HitWindow
	}
	return &Store{
		opts:    opts,
		now:     time.Now,
		entries: make(map[Key]Entry),
		window:  make([]bool, opts.HitWindow),
	}
}

// WithClock replaces the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Get returns a fresh entry and records a hit or miss.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	hit := ok && e.Fresh(s.now())
	s.record(hit)
	if !hit {
		return Entry{}, false
	}
	return e.clone(), true
}

// GetStale returns an entry regardless of its age. It does not count as a
// lookup.
func (s *Store) GetStale(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Put stores an entry under e.Key. StoredAt is set when zero.
func (s *Store) Put(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.StoredAt.IsZero() {
		e.StoredAt = s.now()
	}
	if _, exists := s.entries[e.Key]; !exists && s.opts.MaxEntries > 0 && len(s.entries) >= s.opts.MaxEntries {
		s.evict()
	}
	s.entries[e.Key] = e.clone()
}

// evict drops expired entries, or the oldest one if none are expired. Called
// with mu held.
func (s *Store) evict() {
	now := s.now()
	removed := 0
	var oldest Key
	var oldestAt time.Time
	for k, e := range s.entries {
		if !e.Fresh(now) {
			delete(s.entries, k)
			removed++
			continue
		}
		if oldestAt.IsZero() || e.StoredAt.Before(oldestAt) {
			oldest, oldestAt = k, e.StoredAt
		}
	}
	if removed == 0 && !oldestAt.IsZero() {
		delete(s.entries, oldest)
		removed = 1
	}
	logrus.WithField("removed", removed).Debug("Cache evicted entries")
}

// Invalidate removes every entry for symbol, or only those for one date when
// asOf is non-nil. It returns the number removed.
func (s *Store) Invalidate(symbol string, asOf *time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := ""
	if asOf != nil {
		day = asOf.Format(dateLayout)
	}
	n := 0
	for k := range s.entries {
		if k.Symbol != symbol || (day != "" && k.AsOf != day) {
			continue
		}
		delete(s.entries, k)
		n++
	}
	return n
}

// InvalidateCategory removes every entry of one category.
func (s *Store) InvalidateCategory(category model.Category) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.entries {
		if k.Category == category {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, fresh or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Hits returns the lifetime hit count.
func (s *Store) Hits() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}

// Misses returns the lifetime miss count.
func (s *Store) Misses() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.misses
}

// HitRate returns the hit ratio over the most recent lookups, 0 when there
// were none.
func (s *Store) HitRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	if s.filled {
		n = len(s.window)
	}
	if n == 0 {
		return 0
	}
	hits := 0
	for _, h := range s.window[:n] {
		if h {
			hits++
		}
	}
	return float64(hits) / float64(n)
}

// record adds one lookup to the counters. Called with mu held.
func (s *Store) record(hit bool) {
	if hit {
		s.hits++
	} else {
		s.misses++
	}
	s.window[s.next] = hit
	s.next++
	if s.next == len(s.window) {
		s.next = 0
		s.filled = true
	}
}
