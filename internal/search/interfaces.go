package search

import (
	"context"
	"errors"
	"time"
)

// ErrElementTimeout is returned by Driver.WaitForElement and
// Driver.ReadUpdatedDetail when the condition did not hold within the given
// timeout. Sessions rely on errors.Is against it to tell "no results" apart
// from real driver failures.
var ErrElementTimeout = errors.New("element wait timed out")

// ErrCacheCapacity is returned by CacheStore.Put when the store is full and
// the key is new. Callers drop the write silently; existing entries are
// never evicted to make room.
var ErrCacheCapacity = errors.New("cache at capacity")

// ErrInvalidRequest marks admission failures from a RequestPolicy. The API
// layer maps it to a 400 response.
var ErrInvalidRequest = errors.New("invalid request")

// Element is one DOM node captured during a row snapshot: an addressable
// locator plus the outer HTML at snapshot time. Holding the markup instead
// of a live handle keeps row parsing independent of a DOM that mutates as
// rows are activated.
type Element struct {
	Locator string
	HTML    string
}

// Driver is the page automation capability a session consumes. The engine
// never constructs or configures one; it receives instances from a
// DriverProvider and releases them via Close exactly once.
//
// ActivateRow and ReadUpdatedDetail exist because the portal's detail pane
// persists across row selections: presence of the pane proves nothing, only
// its content changing relative to the previously read text does.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	WaitForElement(ctx context.Context, locator string, timeout time.Duration) error
	FindAll(ctx context.Context, locator string) ([]Element, error)
	Click(ctx context.Context, locator string) error
	ReadText(ctx context.Context, locator string) (string, error)
	ExecuteScript(ctx context.Context, script string, out any) error
	ActivateRow(ctx context.Context, row Element) error
	ReadUpdatedDetail(ctx context.Context, locator, previous string, timeout time.Duration) (string, error)
	Close(ctx context.Context) error
}

// DriverProvider hands out exclusive Driver instances. Acquire blocks until
// a slot frees or the context ends; implementations bound the number of
// outstanding drivers.
type DriverProvider interface {
	Acquire(ctx context.Context) (Driver, error)
	Close(ctx context.Context) error
}

// RowParser extracts the structured columns from one row's snapshot markup.
type RowParser interface {
	Parse(html string) (RowFields, error)
}

// Queue provides enqueue/dequeue semantics for keyword jobs. Close stops
// intake; queued jobs remain dequeueable until drained.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
	Close()
}

// QueueFactory builds a fresh queue per dispatch.
type QueueFactory func(capacity int) Queue

// Runner executes one keyword job to completion. The production runner
// builds a session around a driver; tests substitute scripted runners.
type Runner interface {
	Run(ctx context.Context, job Job) Report
}

// CacheEntry is one stored aggregate, addressed by the canonical key of its
// keyword set. Entries are read-only after creation.
type CacheEntry struct {
	Key       string
	Result    Result
	CreatedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the entry is stale at the given instant.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// CacheStore maps canonical keys to previously computed aggregates. Get
// treats expired entries as absent. Put returns ErrCacheCapacity when the
// store is full and the key is new; overwrites of existing keys always
// succeed. Implementations must be safe for concurrent use.
type CacheStore interface {
	Get(ctx context.Context, key string) (CacheEntry, bool, error)
	Put(ctx context.Context, entry CacheEntry) error
	Close(ctx context.Context) error
}

// RequestPolicy normalizes and admits requests before dispatch.
type RequestPolicy interface {
	Normalize(req Request) (Request, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for canonical cache keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces dispatch IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
