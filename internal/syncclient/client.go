package syncclient

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	loudness "loudness-monitor/internal/loudness/domain"
)

const (
	DefaultBootstrapLimit = 10000
	DefaultPollLimit      = 10000
)

// FetchRequest selects measurements after Since (exclusive). A zero Since
// requests history from the beginning. A non-zero AfterID continues after the
// (Since, AfterID) keyset position instead, so rows sharing Since with a
// greater id are still returned.
type FetchRequest struct {
	Since   time.Time
	AfterID int64
	Limit   int
}

// Fetcher loads measurements in ascending (timestamp, id) order.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]loudness.Measurement, error)
}

// PollResult describes one Bootstrap or Poll.
type PollResult struct {
	Bootstrapped bool
	// Skipped is set when another poll was still in flight.
	Skipped   bool
	Fetched   int
	Added     int
	Watermark time.Time
}

// Client keeps a local, de-duplicated copy of the measurement log current
// by polling past a watermark. Polls are serialized: overlapping calls skip.
type Client struct {
	fetcher        Fetcher
	logger         *log.Logger
	bootstrapLimit int
	pollLimit      int
	observe        func(outcome string, added int)

	inflight sync.Mutex

	mu           sync.RWMutex
	collection   *Collection
	watermark    time.Time
	cursorID     int64
	hasWatermark bool
}

// Option configures a Client.
type Option func(*Client)

// WithLimits overrides the bootstrap and poll row caps.
func WithLimits(bootstrap, poll int) Option {
	return func(c *Client) {
		if bootstrap > 0 {
			c.bootstrapLimit = bootstrap
		}
		if poll > 0 {
			c.pollLimit = poll
		}
	}
}

// WithObserver reports each poll outcome: bootstrap, poll, skipped or error.
func WithObserver(fn func(outcome string, added int)) Option {
	return func(c *Client) { c.observe = fn }
}

// NewClient constructs a Client.
func NewClient(fetcher Fetcher, logger *log.Logger, opts ...Option) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("syncclient: nil fetcher")
	}
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		fetcher:        fetcher,
		logger:         logger,
		bootstrapLimit: DefaultBootstrapLimit,
		pollLimit:      DefaultPollLimit,
		collection:     NewCollection(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Bootstrap replaces the collection with the full (capped) history.
func (c *Client) Bootstrap(ctx context.Context) (PollResult, error) {
	if !c.inflight.TryLock() {
		return c.skipped(), nil
	}
	defer c.inflight.Unlock()
	return c.bootstrap(ctx)
}

// Poll fetches measurements newer than the watermark and merges them. Without
// a watermark it bootstraps. A failed fetch leaves state unchanged.
func (c *Client) Poll(ctx context.Context) (PollResult, error) {
	if !c.inflight.TryLock() {
		return c.skipped(), nil
	}
	defer c.inflight.Unlock()

	c.mu.RLock()
	current, ok := position{ts: c.watermark, id: c.cursorID}, c.hasWatermark
	c.mu.RUnlock()
	if !ok {
		return c.bootstrap(ctx)
	}

	batch, err := c.fetcher.Fetch(ctx, FetchRequest{Since: current.ts, AfterID: current.id, Limit: c.pollLimit})
	if err != nil {
		c.fail("poll", err)
		return PollResult{Watermark: current.ts}, err
	}

	c.mu.Lock()
	added := c.collection.Merge(batch)
	if next, ok := resumeAfter(batch, c.pollLimit); ok && current.before(next) {
		c.watermark, c.cursorID = next.ts, next.id
	}
	result := PollResult{Fetched: len(batch), Added: added, Watermark: c.watermark}
	c.mu.Unlock()

	if c.observe != nil {
		c.observe("poll", added)
	}
	return result, nil
}

func (c *Client) bootstrap(ctx context.Context) (PollResult, error) {
	batch, err := c.fetcher.Fetch(ctx, FetchRequest{Limit: c.bootstrapLimit})
	if err != nil {
		c.fail("bootstrap", err)
		watermark, _ := c.Watermark()
		return PollResult{Bootstrapped: true, Watermark: watermark}, err
	}

	c.mu.Lock()
	c.collection.Replace(batch)
	next, ok := resumeAfter(batch, c.bootstrapLimit)
	c.watermark, c.cursorID, c.hasWatermark = next.ts, next.id, ok
	result := PollResult{
		Bootstrapped: true,
		Fetched:      len(batch),
		Added:        c.collection.Len(),
		Watermark:    c.watermark,
	}
	c.mu.Unlock()

	if len(batch) >= c.bootstrapLimit {
		c.logger.Printf("syncclient: bootstrap reached limit=%d, remaining rows follow in polls", c.bootstrapLimit)
	}
	if c.observe != nil {
		c.observe("bootstrap", result.Added)
	}
	return result, nil
}

func (c *Client) skipped() PollResult {
	if c.observe != nil {
		c.observe("skipped", 0)
	}
	watermark, _ := c.Watermark()
	return PollResult{Skipped: true, Watermark: watermark}
}

func (c *Client) fail(op string, err error) {
	c.logger.Printf("syncclient: %s failed err=%v", op, err)
	if c.observe != nil {
		c.observe("error", 0)
	}
}

// Watermark returns the newest incorporated timestamp; ok is false until a
// non-empty bootstrap.
func (c *Client) Watermark() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watermark, c.hasWatermark
}

// Snapshot returns a copy of the collection in ascending order.
func (c *Client) Snapshot() []loudness.Measurement {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collection.Items()
}

// Len returns the collection size.
func (c *Client) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collection.Len()
}
