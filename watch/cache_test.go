package watch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowhq/burrow/model"
	"github.com/burrowhq/burrow/store"
)

// countingAppNamespaces wraps the store accessor and counts lookups that
// reach it, so tests can tell a cache hit from a miss.
type countingAppNamespaces struct {
	store.AppNamespaces
	calls atomic.Int64
}

func (c *countingAppNamespaces) FindOne(ctx context.Context, appID, name string) (*model.AppNamespace, error) {
	c.calls.Add(1)
	return c.AppNamespaces.FindOne(ctx, appID, name)
}

func (c *countingAppNamespaces) FindPublicByName(ctx context.Context, name string) (*model.AppNamespace, error) {
	c.calls.Add(1)
	return c.AppNamespaces.FindPublicByName(ctx, name)
}

func (c *countingAppNamespaces) FindByAppIDAndNames(ctx context.Context, appID string, names []string) ([]*model.AppNamespace, error) {
	c.calls.Add(1)
	return c.AppNamespaces.FindByAppIDAndNames(ctx, appID, names)
}

func (c *countingAppNamespaces) FindPublicByNames(ctx context.Context, names []string) ([]*model.AppNamespace, error) {
	c.calls.Add(1)
	return c.AppNamespaces.FindPublicByNames(ctx, names)
}

func TestCachedAppNamespacesHitsSkipStore(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	seedAppNamespace(t, st, "demo", "db.config", false)

	counting := &countingAppNamespaces{AppNamespaces: st.AppNamespaces()}
	cached := NewCachedAppNamespaces(counting, 16, time.Minute)

	first, err := cached.FindOne(ctx, "demo", "db.config")
	require.NoError(t, err)
	require.NotNil(t, first)
	callsAfterMiss := counting.calls.Load()

	second, err := cached.FindOne(ctx, "demo", "db.config")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, callsAfterMiss, counting.calls.Load(), "second lookup must be served from cache")
}

func TestCachedAppNamespacesNegativeNotCached(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	counting := &countingAppNamespaces{AppNamespaces: st.AppNamespaces()}
	cached := NewCachedAppNamespaces(counting, 16, time.Minute)

	got, err := cached.FindOne(ctx, "demo", "later.config")
	require.NoError(t, err)
	assert.Nil(t, got)

	// The namespace appears after the miss; the next lookup must see it
	// because misses are never cached.
	seedAppNamespace(t, st, "demo", "later.config", false)
	got, err = cached.FindOne(ctx, "demo", "later.config")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestCachedAppNamespacesBatchMixesHitsAndMisses(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	seedAppNamespace(t, st, "platform", "shared.a", true)
	seedAppNamespace(t, st, "platform", "shared.b", true)

	counting := &countingAppNamespaces{AppNamespaces: st.AppNamespaces()}
	cached := NewCachedAppNamespaces(counting, 16, time.Minute)

	// Warm one entry.
	one, err := cached.FindPublicByName(ctx, "shared.a")
	require.NoError(t, err)
	require.NotNil(t, one)

	rows, err := cached.FindPublicByNames(ctx, []string{"shared.a", "shared.b"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// Both entries cached now: the batch resolves without touching the store.
	before := counting.calls.Load()
	rows, err = cached.FindPublicByNames(ctx, []string{"shared.a", "shared.b"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, before, counting.calls.Load())
}

func TestCachedAppNamespacesSatisfiesFinder(t *testing.T) {
	st := store.NewMemoryStore()
	cached := NewCachedAppNamespaces(st.AppNamespaces(), 0, 0)
	var _ AppNamespaceFinder = cached
	assembler := NewKeyAssembler(cached)

	watched, err := assembler.AssembleAllWatchKeys(context.Background(), "demo", ClusterNameDefault,
		[]string{NamespaceApplication}, "")
	require.NoError(t, err)
	assert.Len(t, watched, 1)
}
