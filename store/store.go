// Package store provides the durable, multi-process shared store behind the
// release engine and the change-message pipeline. Two implementations exist:
// a SQLite-backed one for production and an in-memory one for tests.
package store

import (
	"context"

	"github.com/burrowhq/burrow/model"
)

// Releases persists immutable release snapshots. Find methods return
// (nil, nil) when no row matches.
type Releases interface {
	FindByID(ctx context.Context, id int64) (*model.Release, error)
	FindActiveByID(ctx context.Context, id int64) (*model.Release, error)
	FindLatestActive(ctx context.Context, appID, clusterName, namespaceName string) (*model.Release, error)
	FindNLatestActive(ctx context.Context, appID, clusterName, namespaceName string, n int) ([]*model.Release, error)
	// FindActivePage and FindAllPage return pages ordered by id descending.
	FindActivePage(ctx context.Context, appID, clusterName, namespaceName string, offset, limit int) ([]*model.Release, error)
	FindAllPage(ctx context.Context, appID, clusterName, namespaceName string, offset, limit int) ([]*model.Release, error)
	FindByIDs(ctx context.Context, ids []int64) ([]*model.Release, error)
	FindByReleaseKeys(ctx context.Context, keys []string) ([]*model.Release, error)
	// Save inserts when ID is zero (assigning the id) and otherwise updates
	// the mutable columns (is_abandoned, last_modified_by) of the row.
	Save(ctx context.Context, r *model.Release) error
}

// Items reads and edits the unreleased configuration lines of a namespace.
type Items interface {
	// FindByNamespaceUnordered returns items without any line-order guarantee.
	FindByNamespaceUnordered(ctx context.Context, namespaceID int64) ([]*model.Item, error)
	FindByKey(ctx context.Context, namespaceID int64, key string) (*model.Item, error)
	Save(ctx context.Context, item *model.Item) error
	Delete(ctx context.Context, id int64) error
}

// Namespaces resolves namespace identity rows.
type Namespaces interface {
	Find(ctx context.Context, appID, clusterName, namespaceName string) (*model.Namespace, error)
	FindByID(ctx context.Context, id int64) (*model.Namespace, error)
	Save(ctx context.Context, ns *model.Namespace) error
}

// Locks manages the advisory one-row-per-namespace edit locks.
type Locks interface {
	FindLock(ctx context.Context, namespaceID int64) (*model.NamespaceLock, error)
	Acquire(ctx context.Context, namespaceID int64, operator string) error
	Unlock(ctx context.Context, namespaceID int64) error
}

// GrayRules stores the branch relationship and gray targeting rules.
// A namespace has a live branch exactly when a rule row exists with its
// cluster as cluster_name; a namespace is itself a branch exactly when a
// rule row exists with its cluster as branch_name.
type GrayRules interface {
	FindBranchRule(ctx context.Context, appID, clusterName, namespaceName string) (*model.GrayReleaseRule, error)
	FindRuleForBranch(ctx context.Context, appID, namespaceName, branchName string) (*model.GrayReleaseRule, error)
	// UpdateRuleReleaseID points the branch rule at a new release id and
	// returns the updated rule, or (nil, nil) when no rule row exists.
	UpdateRuleReleaseID(ctx context.Context, appID, clusterName, namespaceName, branchName string, releaseID int64, operator string) (*model.GrayReleaseRule, error)
	Save(ctx context.Context, rule *model.GrayReleaseRule) error
}

// Histories appends release transition records. Write-mostly: the engine
// never reads them back, the page query serves re-audit.
type Histories interface {
	Save(ctx context.Context, h *model.ReleaseHistory) error
	FindPage(ctx context.Context, appID, clusterName, namespaceName string, offset, limit int) ([]*model.ReleaseHistory, error)
}

// Messages is the append-only change-message log. The store assigns ids as
// a monotonic sequence; that sequence is the sole ordering authority for
// cache merges and catch-up scans.
type Messages interface {
	Save(ctx context.Context, m *model.ReleaseMessage) error
	FindByID(ctx context.Context, id int64) (*model.ReleaseMessage, error)
	// FindOlderThan returns up to limit rows with the same content and a
	// smaller id, ordered by id ascending. Used by the compactor.
	FindOlderThan(ctx context.Context, content string, beforeID int64, limit int) ([]*model.ReleaseMessage, error)
	// FindAfter returns up to limit rows with id greater than afterID,
	// ordered by id ascending. Used by catch-up scans.
	FindAfter(ctx context.Context, afterID int64, limit int) ([]*model.ReleaseMessage, error)
	Delete(ctx context.Context, ids []int64) error
}

// AppNamespaces looks up namespace ownership and public visibility.
type AppNamespaces interface {
	FindOne(ctx context.Context, appID, name string) (*model.AppNamespace, error)
	FindPublicByName(ctx context.Context, name string) (*model.AppNamespace, error)
	FindByAppIDAndNames(ctx context.Context, appID string, names []string) ([]*model.AppNamespace, error)
	FindPublicByNames(ctx context.Context, names []string) ([]*model.AppNamespace, error)
	Save(ctx context.Context, an *model.AppNamespace) error
}

// Audits records entity operations. Fire-and-forget: failures are logged,
// never propagated.
type Audits interface {
	Audit(ctx context.Context, entityKind string, entityID int64, operation string, operator string)
}

// Store aggregates all entity stores plus transaction support.
type Store interface {
	Releases() Releases
	Items() Items
	Namespaces() Namespaces
	Locks() Locks
	GrayRules() GrayRules
	Histories() Histories
	Messages() Messages
	AppNamespaces() AppNamespaces
	Audits() Audits

	// WithTx runs fn against a transaction-bound view of the store. All
	// writes inside fn commit or roll back together. Calling WithTx on an
	// already transaction-bound store joins the enclosing transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Close() error
}
