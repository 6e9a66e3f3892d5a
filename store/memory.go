package store

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/burrowhq/burrow/model"
)

// MemoryStore is an in-process Store used by tests and by embedded setups
// that do not need durability. It keeps each table in an xsync map keyed by
// id and hands out copies, never internal pointers.
//
// WithTx runs fn directly against the receiver: writes are applied as they
// happen and are not rolled back on error. Tests that exercise failure
// paths must account for that.
type MemoryStore struct {
	releaseSeq   atomic.Int64
	itemSeq      atomic.Int64
	namespaceSeq atomic.Int64
	ruleSeq      atomic.Int64
	historySeq   atomic.Int64
	messageSeq   atomic.Int64
	appNSSeq     atomic.Int64

	releases      *xsync.MapOf[int64, model.Release]
	items         *xsync.MapOf[int64, model.Item]
	namespaces    *xsync.MapOf[int64, model.Namespace]
	locks         *xsync.MapOf[int64, model.NamespaceLock]
	rules         *xsync.MapOf[int64, model.GrayReleaseRule]
	histories     *xsync.MapOf[int64, model.ReleaseHistory]
	messages      *xsync.MapOf[int64, model.ReleaseMessage]
	appNamespaces *xsync.MapOf[int64, model.AppNamespace]
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		releases:      xsync.NewMapOf[int64, model.Release](),
		items:         xsync.NewMapOf[int64, model.Item](),
		namespaces:    xsync.NewMapOf[int64, model.Namespace](),
		locks:         xsync.NewMapOf[int64, model.NamespaceLock](),
		rules:         xsync.NewMapOf[int64, model.GrayReleaseRule](),
		histories:     xsync.NewMapOf[int64, model.ReleaseHistory](),
		messages:      xsync.NewMapOf[int64, model.ReleaseMessage](),
		appNamespaces: xsync.NewMapOf[int64, model.AppNamespace](),
	}
}

func (s *MemoryStore) Releases() Releases           { return &memReleases{s} }
func (s *MemoryStore) Items() Items                 { return &memItems{s} }
func (s *MemoryStore) Namespaces() Namespaces       { return &memNamespaces{s} }
func (s *MemoryStore) Locks() Locks                 { return &memLocks{s} }
func (s *MemoryStore) GrayRules() GrayRules         { return &memGrayRules{s} }
func (s *MemoryStore) Histories() Histories         { return &memHistories{s} }
func (s *MemoryStore) Messages() Messages           { return &memMessages{s} }
func (s *MemoryStore) AppNamespaces() AppNamespaces { return &memAppNamespaces{s} }
func (s *MemoryStore) Audits() Audits               { return memAudits{} }

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(s)
}

func (s *MemoryStore) Close() error { return nil }

type memReleases struct{ s *MemoryStore }

func (q *memReleases) FindByID(ctx context.Context, id int64) (*model.Release, error) {
	if r, ok := q.s.releases.Load(id); ok {
		return &r, nil
	}
	return nil, nil
}

func (q *memReleases) FindActiveByID(ctx context.Context, id int64) (*model.Release, error) {
	if r, ok := q.s.releases.Load(id); ok && !r.IsAbandoned {
		return &r, nil
	}
	return nil, nil
}

func (q *memReleases) collect(appID, clusterName, namespaceName string, activeOnly bool) []*model.Release {
	var out []*model.Release
	q.s.releases.Range(func(_ int64, r model.Release) bool {
		if r.AppID == appID && r.ClusterName == clusterName && r.NamespaceName == namespaceName {
			if !activeOnly || !r.IsAbandoned {
				c := r
				out = append(out, &c)
			}
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (q *memReleases) FindLatestActive(ctx context.Context, appID, clusterName, namespaceName string) (*model.Release, error) {
	all := q.collect(appID, clusterName, namespaceName, true)
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (q *memReleases) FindNLatestActive(ctx context.Context, appID, clusterName, namespaceName string, n int) ([]*model.Release, error) {
	return q.FindActivePage(ctx, appID, clusterName, namespaceName, 0, n)
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all
}

func (q *memReleases) FindActivePage(ctx context.Context, appID, clusterName, namespaceName string, offset, limit int) ([]*model.Release, error) {
	return page(q.collect(appID, clusterName, namespaceName, true), offset, limit), nil
}

func (q *memReleases) FindAllPage(ctx context.Context, appID, clusterName, namespaceName string, offset, limit int) ([]*model.Release, error) {
	return page(q.collect(appID, clusterName, namespaceName, false), offset, limit), nil
}

func (q *memReleases) FindByIDs(ctx context.Context, ids []int64) ([]*model.Release, error) {
	var out []*model.Release
	for _, id := range ids {
		if r, ok := q.s.releases.Load(id); ok {
			c := r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (q *memReleases) FindByReleaseKeys(ctx context.Context, keys []string) ([]*model.Release, error) {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var out []*model.Release
	q.s.releases.Range(func(_ int64, r model.Release) bool {
		if want[r.ReleaseKey] {
			c := r
			out = append(out, &c)
		}
		return true
	})
	return out, nil
}

func (q *memReleases) Save(ctx context.Context, r *model.Release) error {
	if r.ID == 0 {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now()
		}
		r.ID = q.s.releaseSeq.Add(1)
	}
	q.s.releases.Store(r.ID, *r)
	return nil
}

type memItems struct{ s *MemoryStore }

func (q *memItems) FindByNamespaceUnordered(ctx context.Context, namespaceID int64) ([]*model.Item, error) {
	var out []*model.Item
	q.s.items.Range(func(_ int64, it model.Item) bool {
		if it.NamespaceID == namespaceID {
			c := it
			out = append(out, &c)
		}
		return true
	})
	return out, nil
}

func (q *memItems) FindByKey(ctx context.Context, namespaceID int64, key string) (*model.Item, error) {
	var found *model.Item
	q.s.items.Range(func(_ int64, it model.Item) bool {
		if it.NamespaceID == namespaceID && it.Key == key {
			c := it
			found = &c
			return false
		}
		return true
	})
	return found, nil
}

func (q *memItems) Save(ctx context.Context, item *model.Item) error {
	if item.Key != "" {
		var conflict bool
		q.s.items.Range(func(_ int64, it model.Item) bool {
			if it.NamespaceID == item.NamespaceID && it.Key == item.Key && it.ID != item.ID {
				conflict = true
				return false
			}
			return true
		})
		if conflict {
			return fmt.Errorf("duplicate item key %q in namespace %d", item.Key, item.NamespaceID)
		}
	}
	if item.ID == 0 {
		item.ID = q.s.itemSeq.Add(1)
	}
	q.s.items.Store(item.ID, *item)
	return nil
}

func (q *memItems) Delete(ctx context.Context, id int64) error {
	q.s.items.Delete(id)
	return nil
}

type memNamespaces struct{ s *MemoryStore }

func (q *memNamespaces) Find(ctx context.Context, appID, clusterName, namespaceName string) (*model.Namespace, error) {
	var found *model.Namespace
	q.s.namespaces.Range(func(_ int64, ns model.Namespace) bool {
		if ns.AppID == appID && ns.ClusterName == clusterName && ns.NamespaceName == namespaceName {
			c := ns
			found = &c
			return false
		}
		return true
	})
	return found, nil
}

func (q *memNamespaces) FindByID(ctx context.Context, id int64) (*model.Namespace, error) {
	if ns, ok := q.s.namespaces.Load(id); ok {
		return &ns, nil
	}
	return nil, nil
}

func (q *memNamespaces) Save(ctx context.Context, ns *model.Namespace) error {
	if ns.ID != 0 {
		return fmt.Errorf("namespace identity rows are insert-only")
	}
	ns.ID = q.s.namespaceSeq.Add(1)
	q.s.namespaces.Store(ns.ID, *ns)
	return nil
}

type memLocks struct{ s *MemoryStore }

func (q *memLocks) FindLock(ctx context.Context, namespaceID int64) (*model.NamespaceLock, error) {
	if l, ok := q.s.locks.Load(namespaceID); ok {
		return &l, nil
	}
	return nil, nil
}

func (q *memLocks) Acquire(ctx context.Context, namespaceID int64, operator string) error {
	l := model.NamespaceLock{NamespaceID: namespaceID, CreatedBy: operator, CreatedAt: now()}
	if _, loaded := q.s.locks.LoadOrStore(namespaceID, l); loaded {
		return fmt.Errorf("namespace %d is already locked", namespaceID)
	}
	return nil
}

func (q *memLocks) Unlock(ctx context.Context, namespaceID int64) error {
	q.s.locks.Delete(namespaceID)
	return nil
}

type memGrayRules struct{ s *MemoryStore }

func (q *memGrayRules) FindBranchRule(ctx context.Context, appID, clusterName, namespaceName string) (*model.GrayReleaseRule, error) {
	var found *model.GrayReleaseRule
	q.s.rules.Range(func(_ int64, r model.GrayReleaseRule) bool {
		if r.AppID == appID && r.ClusterName == clusterName && r.NamespaceName == namespaceName {
			c := r
			found = &c
			return false
		}
		return true
	})
	return found, nil
}

func (q *memGrayRules) FindRuleForBranch(ctx context.Context, appID, namespaceName, branchName string) (*model.GrayReleaseRule, error) {
	var found *model.GrayReleaseRule
	q.s.rules.Range(func(_ int64, r model.GrayReleaseRule) bool {
		if r.AppID == appID && r.NamespaceName == namespaceName && r.BranchName == branchName {
			c := r
			found = &c
			return false
		}
		return true
	})
	return found, nil
}

func (q *memGrayRules) UpdateRuleReleaseID(ctx context.Context, appID, clusterName, namespaceName, branchName string, releaseID int64, operator string) (*model.GrayReleaseRule, error) {
	rule, err := q.FindBranchRule(ctx, appID, clusterName, namespaceName)
	if err != nil {
		return nil, err
	}
	if rule == nil || rule.BranchName != branchName {
		return nil, nil
	}
	rule.ReleaseID = releaseID
	rule.UpdatedBy = operator
	rule.UpdatedAt = now()
	q.s.rules.Store(rule.ID, *rule)
	return rule, nil
}

func (q *memGrayRules) Save(ctx context.Context, rule *model.GrayReleaseRule) error {
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = now()
	}
	if rule.Rules == "" {
		rule.Rules = "[]"
	}
	if rule.ID == 0 {
		rule.ID = q.s.ruleSeq.Add(1)
	}
	q.s.rules.Store(rule.ID, *rule)
	return nil
}

type memHistories struct{ s *MemoryStore }

func (q *memHistories) Save(ctx context.Context, h *model.ReleaseHistory) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now()
	}
	h.ID = q.s.historySeq.Add(1)
	q.s.histories.Store(h.ID, *h)
	return nil
}

func (q *memHistories) FindPage(ctx context.Context, appID, clusterName, namespaceName string, offset, limit int) ([]*model.ReleaseHistory, error) {
	var out []*model.ReleaseHistory
	q.s.histories.Range(func(_ int64, h model.ReleaseHistory) bool {
		if h.AppID == appID && h.ClusterName == clusterName && h.NamespaceName == namespaceName {
			c := h
			out = append(out, &c)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, offset, limit), nil
}

type memMessages struct{ s *MemoryStore }

func (q *memMessages) Save(ctx context.Context, m *model.ReleaseMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	m.ID = q.s.messageSeq.Add(1)
	q.s.messages.Store(m.ID, *m)
	return nil
}

func (q *memMessages) FindByID(ctx context.Context, id int64) (*model.ReleaseMessage, error) {
	if m, ok := q.s.messages.Load(id); ok {
		return &m, nil
	}
	return nil, nil
}

func (q *memMessages) FindOlderThan(ctx context.Context, content string, beforeID int64, limit int) ([]*model.ReleaseMessage, error) {
	var out []*model.ReleaseMessage
	q.s.messages.Range(func(_ int64, m model.ReleaseMessage) bool {
		if m.Content == content && m.ID < beforeID {
			c := m
			out = append(out, &c)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, 0, limit), nil
}

func (q *memMessages) FindAfter(ctx context.Context, afterID int64, limit int) ([]*model.ReleaseMessage, error) {
	var out []*model.ReleaseMessage
	q.s.messages.Range(func(_ int64, m model.ReleaseMessage) bool {
		if m.ID > afterID {
			c := m
			out = append(out, &c)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, 0, limit), nil
}

func (q *memMessages) Delete(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		q.s.messages.Delete(id)
	}
	return nil
}

type memAppNamespaces struct{ s *MemoryStore }

func (q *memAppNamespaces) FindOne(ctx context.Context, appID, name string) (*model.AppNamespace, error) {
	var found *model.AppNamespace
	q.s.appNamespaces.Range(func(_ int64, an model.AppNamespace) bool {
		if an.AppID == appID && an.Name == name {
			c := an
			found = &c
			return false
		}
		return true
	})
	return found, nil
}

func (q *memAppNamespaces) FindPublicByName(ctx context.Context, name string) (*model.AppNamespace, error) {
	var found *model.AppNamespace
	q.s.appNamespaces.Range(func(_ int64, an model.AppNamespace) bool {
		if an.Name == name && an.IsPublic {
			c := an
			found = &c
			return false
		}
		return true
	})
	return found, nil
}

func (q *memAppNamespaces) FindByAppIDAndNames(ctx context.Context, appID string, names []string) ([]*model.AppNamespace, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []*model.AppNamespace
	q.s.appNamespaces.Range(func(_ int64, an model.AppNamespace) bool {
		if an.AppID == appID && want[an.Name] {
			c := an
			out = append(out, &c)
		}
		return true
	})
	return out, nil
}

func (q *memAppNamespaces) FindPublicByNames(ctx context.Context, names []string) ([]*model.AppNamespace, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []*model.AppNamespace
	q.s.appNamespaces.Range(func(_ int64, an model.AppNamespace) bool {
		if an.IsPublic && want[an.Name] {
			c := an
			out = append(out, &c)
		}
		return true
	})
	return out, nil
}

func (q *memAppNamespaces) Save(ctx context.Context, an *model.AppNamespace) error {
	if an.ID == 0 {
		an.ID = q.s.appNSSeq.Add(1)
	}
	q.s.appNamespaces.Store(an.ID, *an)
	return nil
}

type memAudits struct{}

func (memAudits) Audit(ctx context.Context, entityKind string, entityID int64, operation string, operator string) {
}
