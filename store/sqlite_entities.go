package store

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"

	"github.com/burrowhq/burrow/model"
)

type sqlReleases struct{ s *SQLiteStore }

func (q *sqlReleases) FindByID(ctx context.Context, id int64) (*model.Release, error) {
	var rec model.Release
	found, err := q.s.read.From("releases").
		Where(goqu.C("id").Eq(id)).
		ScanStructContext(ctx, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to find release %d: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (q *sqlReleases) FindActiveByID(ctx context.Context, id int64) (*model.Release, error) {
	var rec model.Release
	found, err := q.s.read.From("releases").
		Where(goqu.C("id").Eq(id), goqu.C("is_abandoned").Eq(false)).
		ScanStructContext(ctx, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to find active release %d: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func namespaceEx(appID, clusterName, namespaceName string) goqu.Ex {
	return goqu.Ex{
		"app_id":         appID,
		"cluster_name":   clusterName,
		"namespace_name": namespaceName,
	}
}

func (q *sqlReleases) FindLatestActive(ctx context.Context, appID, clusterName, namespaceName string) (*model.Release, error) {
	var rec model.Release
	found, err := q.s.read.From("releases").
		Where(namespaceEx(appID, clusterName, namespaceName), goqu.C("is_abandoned").Eq(false)).
		Order(goqu.C("id").Desc()).
		Limit(1).
		ScanStructContext(ctx, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to find latest active release: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (q *sqlReleases) FindNLatestActive(ctx context.Context, appID, clusterName, namespaceName string, n int) ([]*model.Release, error) {
	return q.FindActivePage(ctx, appID, clusterName, namespaceName, 0, n)
}

func (q *sqlReleases) FindActivePage(ctx context.Context, appID, clusterName, namespaceName string, offset, limit int) ([]*model.Release, error) {
	var recs []*model.Release
	err := q.s.read.From("releases").
		Where(namespaceEx(appID, clusterName, namespaceName), goqu.C("is_abandoned").Eq(false)).
		Order(goqu.C("id").Desc()).
		Offset(uint(offset)).
		Limit(uint(limit)).
		ScanStructsContext(ctx, &recs)
	if err != nil {
		return nil, fmt.Errorf("failed to page active releases: %w", err)
	}
	return recs, nil
}

func (q *sqlReleases) FindAllPage(ctx context.Context, appID, clusterName, namespaceName string, offset, limit int) ([]*model.Release, error) {
	var recs []*model.Release
	err := q.s.read.From("releases").
		Where(namespaceEx(appID, clusterName, namespaceName)).
		Order(goqu.C("id").Desc()).
		Offset(uint(offset)).
		Limit(uint(limit)).
		ScanStructsContext(ctx, &recs)
	if err != nil {
		return nil, fmt.Errorf("failed to page releases: %w", err)
	}
	return recs, nil
}

func (q *sqlReleases) FindByIDs(ctx context.Context, ids []int64) ([]*model.Release, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var recs []*model.Release
	err := q.s.read.From("releases").
		Where(goqu.C("id").In(ids)).
		ScanStructsContext(ctx, &recs)
	if err != nil {
		return nil, fmt.Errorf("failed to find releases by ids: %w", err)
	}
	return recs, nil
}

func (q *sqlReleases) FindByReleaseKeys(ctx context.Context, keys []string) ([]*model.Release, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var recs []*model.Release
	err := q.s.read.From("releases").
		Where(goqu.C("release_key").In(keys)).
		ScanStructsContext(ctx, &recs)
	if err != nil {
		return nil, fmt.Errorf("failed to find releases by keys: %w", err)
	}
	return recs, nil
}

func (q *sqlReleases) Save(ctx context.Context, r *model.Release) error {
	if r.ID == 0 {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now()
		}
		id, err := lastInsertID(ctx, q.s.write.Insert("releases").Rows(goqu.Record{
			"release_key":      r.ReleaseKey,
			"name":             r.Name,
			"app_id":           r.AppID,
			"cluster_name":     r.ClusterName,
			"namespace_name":   r.NamespaceName,
			"configurations":   r.Configurations,
			"comment":          r.Comment,
			"is_abandoned":     r.IsAbandoned,
			"created_by":       r.CreatedBy,
			"created_at":       r.CreatedAt,
			"last_modified_by": r.LastModifiedBy,
		}))
		if err != nil {
			return fmt.Errorf("failed to insert release: %w", err)
		}
		r.ID = id
		return nil
	}

	// Releases are immutable snapshots; only the abandonment marker and the
	// modifier column may change after insert.
	_, err := q.s.write.Update("releases").
		Set(goqu.Record{
			"is_abandoned":     r.IsAbandoned,
			"last_modified_by": r.LastModifiedBy,
		}).
		Where(goqu.C("id").Eq(r.ID)).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update release %d: %w", r.ID, err)
	}
	return nil
}

type sqlItems struct{ s *SQLiteStore }

func (q *sqlItems) FindByNamespaceUnordered(ctx context.Context, namespaceID int64) ([]*model.Item, error) {
	var recs []*model.Item
	err := q.s.read.From("items").
		Where(goqu.C("namespace_id").Eq(namespaceID)).
		ScanStructsContext(ctx, &recs)
	if err != nil {
		return nil, fmt.Errorf("failed to find items of namespace %d: %w", namespaceID, err)
	}
	return recs, nil
}

func (q *sqlItems) FindByKey(ctx context.Context, namespaceID int64, key string) (*model.Item, error) {
	var rec model.Item
	found, err := q.s.read.From("items").
		Where(goqu.C("namespace_id").Eq(namespaceID), goqu.C("key").Eq(key)).
		ScanStructContext(ctx, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to find item %q: %w", key, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (q *sqlItems) Save(ctx context.Context, item *model.Item) error {
	if item.ID == 0 {
		id, err := lastInsertID(ctx, q.s.write.Insert("items").Rows(goqu.Record{
			"namespace_id": item.NamespaceID,
			"key":          item.Key,
			"value":        item.Value,
			"line_num":     item.LineNum,
		}))
		if err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
		item.ID = id
		return nil
	}
	_, err := q.s.write.Update("items").
		Set(goqu.Record{
			"key":      item.Key,
			"value":    item.Value,
			"line_num": item.LineNum,
		}).
		Where(goqu.C("id").Eq(item.ID)).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update item %d: %w", item.ID, err)
	}
	return nil
}

func (q *sqlItems) Delete(ctx context.Context, id int64) error {
	_, err := q.s.write.Delete("items").
		Where(goqu.C("id").Eq(id)).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete item %d: %w", id, err)
	}
	return nil
}

type sqlNamespaces struct{ s *SQLiteStore }

func (q *sqlNamespaces) Find(ctx context.Context, appID, clusterName, namespaceName string) (*model.Namespace, error) {
	var rec model.Namespace
	found, err := q.s.read.From("namespaces").
		Where(namespaceEx(appID, clusterName, namespaceName)).
		ScanStructContext(ctx, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to find namespace: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (q *sqlNamespaces) FindByID(ctx context.Context, id int64) (*model.Namespace, error) {
	var rec model.Namespace
	found, err := q.s.read.From("namespaces").
		Where(goqu.C("id").Eq(id)).
		ScanStructContext(ctx, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to find namespace %d: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (q *sqlNamespaces) Save(ctx context.Context, ns *model.Namespace) error {
	if ns.ID != 0 {
		return fmt.Errorf("namespace identity rows are insert-only")
	}
	id, err := lastInsertID(ctx, q.s.write.Insert("namespaces").Rows(goqu.Record{
		"app_id":         ns.AppID,
		"cluster_name":   ns.ClusterName,
		"namespace_name": ns.NamespaceName,
	}))
	if err != nil {
		return fmt.Errorf("failed to insert namespace: %w", err)
	}
	ns.ID = id
	return nil
}

type sqlLocks struct{ s *SQLiteStore }

func (q *sqlLocks) FindLock(ctx context.Context, namespaceID int64) (*model.NamespaceLock, error) {
	var rec model.NamespaceLock
	found, err := q.s.read.From("namespace_locks").
		Where(goqu.C("namespace_id").Eq(namespaceID)).
		ScanStructContext(ctx, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to find lock of namespace %d: %w", namespaceID, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (q *sqlLocks) Acquire(ctx context.Context, namespaceID int64, operator string) error {
	_, err := q.s.write.Insert("namespace_locks").Rows(goqu.Record{
		"namespace_id": namespaceID,
		"created_by":   operator,
		"created_at":   now(),
	}).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to lock namespace %d: %w", namespaceID, err)
	}
	return nil
}

func (q *sqlLocks) Unlock(ctx context.Context, namespaceID int64) error {
	_, err := q.s.write.Delete("namespace_locks").
		Where(goqu.C("namespace_id").Eq(namespaceID)).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to unlock namespace %d: %w", namespaceID, err)
	}
	return nil
}

type sqlGrayRules struct{ s *SQLiteStore }

func (q *sqlGrayRules) FindBranchRule(ctx context.Context, appID, clusterName, namespaceName string) (*model.GrayReleaseRule, error) {
	var rec model.GrayReleaseRule
	found, err := q.s.read.From("gray_release_rules").
		Where(namespaceEx(appID, clusterName, namespaceName)).
		ScanStructContext(ctx, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to find branch rule: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (q *sqlGrayRules) FindRuleForBranch(ctx context.Context, appID, namespaceName, branchName string) (*model.GrayReleaseRule, error) {
	var rec model.GrayReleaseRule
	found, err := q.s.read.From("gray_release_rules").
		Where(goqu.Ex{
			"app_id":         appID,
			"namespace_name": namespaceName,
			"branch_name":    branchName,
		}).
		ScanStructContext(ctx, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to find rule for branch %q: %w", branchName, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (q *sqlGrayRules) UpdateRuleReleaseID(ctx context.Context, appID, clusterName, namespaceName, branchName string, releaseID int64, operator string) (*model.GrayReleaseRule, error) {
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
	_, err = q.s.write.Update("gray_release_rules").
		Set(goqu.Record{
			"release_id": rule.ReleaseID,
			"updated_by": rule.UpdatedBy,
			"updated_at": rule.UpdatedAt,
		}).
		Where(goqu.C("id").Eq(rule.ID)).
		Executor().ExecContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule release id: %w", err)
	}
	return rule, nil
}

func (q *sqlGrayRules) Save(ctx context.Context, rule *model.GrayReleaseRule) error {
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = now()
	}
	if rule.Rules == "" {
		rule.Rules = "[]"
	}
	if rule.ID == 0 {
		id, err := lastInsertID(ctx, q.s.write.Insert("gray_release_rules").Rows(goqu.Record{
			"app_id":         rule.AppID,
			"cluster_name":   rule.ClusterName,
			"namespace_name": rule.NamespaceName,
			"branch_name":    rule.BranchName,
			"rules":          rule.Rules,
			"release_id":     rule.ReleaseID,
			"updated_by":     rule.UpdatedBy,
			"updated_at":     rule.UpdatedAt,
		}))
		if err != nil {
			return fmt.Errorf("failed to insert gray rule: %w", err)
		}
		rule.ID = id
		return nil
	}
	_, err := q.s.write.Update("gray_release_rules").
		Set(goqu.Record{
			"rules":      rule.Rules,
			"release_id": rule.ReleaseID,
			"updated_by": rule.UpdatedBy,
			"updated_at": rule.UpdatedAt,
		}).
		Where(goqu.C("id").Eq(rule.ID)).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update gray rule %d: %w", rule.ID, err)
	}
	return nil
}

type sqlHistories struct{ s *SQLiteStore }

func (q *sqlHistories) Save(ctx context.Context, h *model.ReleaseHistory) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now()
	}
	id, err := lastInsertID(ctx, q.s.write.Insert("release_histories").Rows(goqu.Record{
		"app_id":              h.AppID,
		"cluster_name":        h.ClusterName,
		"namespace_name":      h.NamespaceName,
		"branch_cluster_name": h.BranchClusterName,
		"release_id":          h.ReleaseID,
		"previous_release_id": h.PreviousReleaseID,
		"operation":           int(h.Operation),
		"operation_context":   h.OperationContext,
		"operator":            h.Operator,
		"created_at":          h.CreatedAt,
	}))
	if err != nil {
		return fmt.Errorf("failed to insert release history: %w", err)
	}
	h.ID = id
	return nil
}

func (q *sqlHistories) FindPage(ctx context.Context, appID, clusterName, namespaceName string, offset, limit int) ([]*model.ReleaseHistory, error) {
	var recs []*model.ReleaseHistory
	err := q.s.read.From("release_histories").
		Where(namespaceEx(appID, clusterName, namespaceName)).
		Order(goqu.C("id").Desc()).
		Offset(uint(offset)).
		Limit(uint(limit)).
		ScanStructsContext(ctx, &recs)
	if err != nil {
		return nil, fmt.Errorf("failed to page release histories: %w", err)
	}
	return recs, nil
}

type sqlMessages struct{ s *SQLiteStore }

func (q *sqlMessages) Save(ctx context.Context, m *model.ReleaseMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	id, err := lastInsertID(ctx, q.s.write.Insert("release_messages").Rows(goqu.Record{
		"content":    m.Content,
		"created_at": m.CreatedAt,
	}))
	if err != nil {
		return fmt.Errorf("failed to insert release message: %w", err)
	}
	m.ID = id
	return nil
}

func (q *sqlMessages) FindByID(ctx context.Context, id int64) (*model.ReleaseMessage, error) {
	var rec model.ReleaseMessage
	found, err := q.s.read.From("release_messages").
		Where(goqu.C("id").Eq(id)).
		ScanStructContext(ctx, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to find release message %d: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (q *sqlMessages) FindOlderThan(ctx context.Context, content string, beforeID int64, limit int) ([]*model.ReleaseMessage, error) {
	var recs []*model.ReleaseMessage
	err := q.s.read.From("release_messages").
		Where(goqu.C("content").Eq(content), goqu.C("id").Lt(beforeID)).
		Order(goqu.C("id").Asc()).
		Limit(uint(limit)).
		ScanStructsContext(ctx, &recs)
	if err != nil {
		return nil, fmt.Errorf("failed to find older messages: %w", err)
	}
	return recs, nil
}

func (q *sqlMessages) FindAfter(ctx context.Context, afterID int64, limit int) ([]*model.ReleaseMessage, error) {
	var recs []*model.ReleaseMessage
	err := q.s.read.From("release_messages").
		Where(goqu.C("id").Gt(afterID)).
		Order(goqu.C("id").Asc()).
		Limit(uint(limit)).
		ScanStructsContext(ctx, &recs)
	if err != nil {
		return nil, fmt.Errorf("failed to scan messages after %d: %w", afterID, err)
	}
	return recs, nil
}

func (q *sqlMessages) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.s.write.Delete("release_messages").
		Where(goqu.C("id").In(ids)).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete release messages: %w", err)
	}
	return nil
}

type sqlAppNamespaces struct{ s *SQLiteStore }

func (q *sqlAppNamespaces) FindOne(ctx context.Context, appID, name string) (*model.AppNamespace, error) {
	var rec model.AppNamespace
	found, err := q.s.read.From("app_namespaces").
		Where(goqu.C("app_id").Eq(appID), goqu.C("name").Eq(name)).
		ScanStructContext(ctx, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to find app namespace: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (q *sqlAppNamespaces) FindPublicByName(ctx context.Context, name string) (*model.AppNamespace, error) {
	var rec model.AppNamespace
	found, err := q.s.read.From("app_namespaces").
		Where(goqu.C("name").Eq(name), goqu.C("is_public").Eq(true)).
		ScanStructContext(ctx, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to find public app namespace: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (q *sqlAppNamespaces) FindByAppIDAndNames(ctx context.Context, appID string, names []string) ([]*model.AppNamespace, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var recs []*model.AppNamespace
	err := q.s.read.From("app_namespaces").
		Where(goqu.C("app_id").Eq(appID), goqu.C("name").In(names)).
		ScanStructsContext(ctx, &recs)
	if err != nil {
		return nil, fmt.Errorf("failed to find app namespaces: %w", err)
	}
	return recs, nil
}

func (q *sqlAppNamespaces) FindPublicByNames(ctx context.Context, names []string) ([]*model.AppNamespace, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var recs []*model.AppNamespace
	err := q.s.read.From("app_namespaces").
		Where(goqu.C("name").In(names), goqu.C("is_public").Eq(true)).
		ScanStructsContext(ctx, &recs)
	if err != nil {
		return nil, fmt.Errorf("failed to find public app namespaces: %w", err)
	}
	return recs, nil
}

func (q *sqlAppNamespaces) Save(ctx context.Context, an *model.AppNamespace) error {
	if an.ID == 0 {
		id, err := lastInsertID(ctx, q.s.write.Insert("app_namespaces").Rows(goqu.Record{
			"name":      an.Name,
			"app_id":    an.AppID,
			"is_public": an.IsPublic,
		}))
		if err != nil {
			return fmt.Errorf("failed to insert app namespace: %w", err)
		}
		an.ID = id
		return nil
	}
	_, err := q.s.write.Update("app_namespaces").
		Set(goqu.Record{"is_public": an.IsPublic}).
		Where(goqu.C("id").Eq(an.ID)).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update app namespace %d: %w", an.ID, err)
	}
	return nil
}

type sqlAudits struct{ s *SQLiteStore }

// Audit appends an audit row. Fire-and-forget: a failed append is logged
// and never fails the enclosing operation.
func (q *sqlAudits) Audit(ctx context.Context, entityKind string, entityID int64, operation string, operator string) {
	_, err := q.s.write.Insert("audits").Rows(goqu.Record{
		"entity_kind": entityKind,
		"entity_id":   entityID,
		"operation":   operation,
		"operator":    operator,
		"created_at":  now(),
	}).Executor().ExecContext(ctx)
	if err != nil {
		log.Warn().Err(err).
			Str("entity_kind", entityKind).
			Int64("entity_id", entityID).
			Msg("Failed to write audit record")
	}
}
