package message

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/burrowhq/burrow/model"
	"github.com/burrowhq/burrow/store"
	"github.com/burrowhq/burrow/telemetry"
)

// Cache is the per-process projection of "latest message per watch key".
// Two producers converge on it: the push path (HandleMessage, when this
// process or a forwarding peer wrote the message) and the poll path
// (periodic catch-up scans). A mutex serializes all merges; reads go
// through the xsync map lock-free.
type Cache struct {
	store store.Store

	messages *xsync.MapOf[string, *model.ReleaseMessage]

	mu           sync.Mutex
	maxIDScanned int64

	scanInterval time.Duration
	scanBatch    int

	pollDisabled atomic.Bool
	started      atomic.Bool
	stopCh       chan struct{}
	doneCh       chan struct{}

	// onMerge fires outside the hot loop for every merged message, after
	// the cache state is updated. The notification hub hangs off it.
	onMerge func(msg *model.ReleaseMessage)
}

// CacheOptions tune the poll path. Zero values pick the defaults.
type CacheOptions struct {
	ScanInterval time.Duration
	ScanBatch    int
}

func NewCache(st store.Store, opts CacheOptions) *Cache {
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = time.Second
	}
	if opts.ScanBatch <= 0 {
		opts.ScanBatch = 500
	}
	return &Cache{
		store:        st,
		messages:     xsync.NewMapOf[string, *model.ReleaseMessage](),
		scanInterval: opts.ScanInterval,
		scanBatch:    opts.ScanBatch,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// OnMerge registers the merge callback. Must be set before Start.
func (c *Cache) OnMerge(fn func(msg *model.ReleaseMessage)) {
	c.onMerge = fn
}

// Start warms the cache with a blocking full scan from id 0, then launches
// the poll loop. The cache serves no reads before the warm load finishes.
func (c *Cache) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.load(ctx, 0); err != nil {
		return err
	}
	go c.pollLoop()
	return nil
}

func (c *Cache) Stop() {
	if !c.started.Load() {
		return
	}
	close(c.stopCh)
	<-c.doneCh
}

// HandleMessage is the push path. The first call disables the poll loop for
// the rest of the process lifetime: once push is proven to reach this
// instance, polling is redundant. Gap logic against the watermark decides
// how to merge: the next expected id merges directly, a larger gap means
// another process appended rows this instance has not seen and triggers a
// catch-up scan, anything else is stale and ignored.
func (c *Cache) HandleMessage(msg *model.ReleaseMessage, channel string) {
	c.pollDisabled.Store(true)

	if channel != TopicReleases || msg == nil || msg.Content == "" {
		return
	}

	c.mu.Lock()
	gap := msg.ID - c.maxIDScanned
	switch {
	case gap == 1:
		c.mergeLocked(msg)
		c.maxIDScanned = msg.ID
		telemetry.CacheMaxIDScanned.Set(float64(msg.ID))
		telemetry.CacheMergesTotal.With("push").Inc()
	case gap > 1:
		if err := c.loadLocked(context.Background(), c.maxIDScanned); err != nil {
			log.Warn().Err(err).Int64("from_id", c.maxIDScanned).Msg("Catch-up scan failed, poll backstop will retry")
		}
	}
	c.mu.Unlock()
}

// FindLatestForContents returns the cached message with the highest id
// among the given contents, nil when none hit.
func (c *Cache) FindLatestForContents(contents []string) *model.ReleaseMessage {
	var best *model.ReleaseMessage
	for _, content := range contents {
		if m, ok := c.messages.Load(content); ok {
			if best == nil || m.ID > best.ID {
				best = m
			}
		}
	}
	return best
}

// FindLatestGroupedByContent returns one cached message per content that
// has a cache hit.
func (c *Cache) FindLatestGroupedByContent(contents []string) map[string]*model.ReleaseMessage {
	out := make(map[string]*model.ReleaseMessage)
	for _, content := range contents {
		if m, ok := c.messages.Load(content); ok {
			out[content] = m
		}
	}
	return out
}

// MaxIDScanned exposes the watermark for diagnostics.
func (c *Cache) MaxIDScanned() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxIDScanned
}

func (c *Cache) pollLoop() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.stopCh:
			return
		case <-time.After(c.scanInterval):
		}
		if c.pollDisabled.Load() {
			continue
		}
		if err := c.load(context.Background(), c.watermark()); err != nil {
			log.Warn().Err(err).Msg("Message scan failed, retrying next interval")
		}
	}
}

func (c *Cache) watermark() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxIDScanned
}

func (c *Cache) load(ctx context.Context, startID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx, startID)
}

// loadLocked pages forward from startID in ascending id order until a short
// page shows the log is exhausted. Pagination must run to a short page, not
// a fixed count, so no id is skipped.
func (c *Cache) loadLocked(ctx context.Context, startID int64) error {
	for {
		batch, err := c.store.Messages().FindAfter(ctx, startID, c.scanBatch)
		if err != nil {
			telemetry.CacheScanFailuresTotal.Inc()
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		telemetry.CacheScanPagesTotal.Inc()
		for _, m := range batch {
			c.mergeLocked(m)
			telemetry.CacheMergesTotal.With("poll").Inc()
		}
		last := batch[len(batch)-1].ID
		if last > c.maxIDScanned {
			c.maxIDScanned = last
			telemetry.CacheMaxIDScanned.Set(float64(last))
		}
		startID = last
		if len(batch) < c.scanBatch {
			return nil
		}
	}
}

// mergeLocked is idempotent and monotonic: a message only replaces the
// cached entry for its content when its id is strictly greater.
func (c *Cache) mergeLocked(m *model.ReleaseMessage) {
	if cur, ok := c.messages.Load(m.Content); ok && cur.ID >= m.ID {
		return
	}
	c.messages.Store(m.Content, m)
	if c.onMerge != nil {
		c.onMerge(m)
	}
}
