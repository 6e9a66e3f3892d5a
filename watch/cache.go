package watch

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/burrowhq/burrow/model"
	"github.com/burrowhq/burrow/store"
)

// CachedAppNamespaces is an LRU-and-TTL cached AppNamespaceFinder over the
// store. Namespace ownership changes rarely; a short TTL keeps the watch
// key fan-out lookup off the hot long-poll path without serving stale
// visibility for long.
type CachedAppNamespaces struct {
	store  store.AppNamespaces
	byApp  *expirable.LRU[string, *model.AppNamespace]
	public *expirable.LRU[string, *model.AppNamespace]
}

var _ AppNamespaceFinder = (*CachedAppNamespaces)(nil)

func NewCachedAppNamespaces(s store.AppNamespaces, size int, ttl time.Duration) *CachedAppNamespaces {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedAppNamespaces{
		store:  s,
		byApp:  expirable.NewLRU[string, *model.AppNamespace](size, nil, ttl),
		public: expirable.NewLRU[string, *model.AppNamespace](size, nil, ttl),
	}
}

func (c *CachedAppNamespaces) FindOne(ctx context.Context, appID, name string) (*model.AppNamespace, error) {
	key := appID + keySeparator + name
	if an, ok := c.byApp.Get(key); ok {
		return an, nil
	}
	an, err := c.store.FindOne(ctx, appID, name)
	if err != nil {
		return nil, err
	}
	if an != nil {
		c.byApp.Add(key, an)
	}
	return an, nil
}

func (c *CachedAppNamespaces) FindPublicByName(ctx context.Context, name string) (*model.AppNamespace, error) {
	if an, ok := c.public.Get(name); ok {
		return an, nil
	}
	an, err := c.store.FindPublicByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if an != nil {
		c.public.Add(name, an)
	}
	return an, nil
}

func (c *CachedAppNamespaces) FindByAppIDAndNames(ctx context.Context, appID string, names []string) ([]*model.AppNamespace, error) {
	var out []*model.AppNamespace
	var misses []string
	for _, name := range names {
		if an, ok := c.byApp.Get(appID + keySeparator + name); ok {
			out = append(out, an)
		} else {
			misses = append(misses, name)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}
	rows, err := c.store.FindByAppIDAndNames(ctx, appID, misses)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		c.byApp.Add(appID+keySeparator+row.Name, row)
		out = append(out, row)
	}
	return out, nil
}

func (c *CachedAppNamespaces) FindPublicByNames(ctx context.Context, names []string) ([]*model.AppNamespace, error) {
	var out []*model.AppNamespace
	var misses []string
	for _, name := range names {
		if an, ok := c.public.Get(name); ok {
			out = append(out, an)
		} else {
			misses = append(misses, name)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}
	rows, err := c.store.FindPublicByNames(ctx, misses)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		c.public.Add(row.Name, row)
		out = append(out, row)
	}
	return out, nil
}
