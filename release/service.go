// Package release implements the release computation engine: turning pending
// item edits into immutable releases, gray branch publishes, three-way
// cascade merges from master to branch, and rollback.
package release

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/burrowhq/burrow/message"
	"github.com/burrowhq/burrow/model"
	"github.com/burrowhq/burrow/store"
	"github.com/burrowhq/burrow/telemetry"
	"github.com/burrowhq/burrow/watch"
)

// Sender appends change messages to the durable log. Implemented by
// message.Sender; nil disables notification (tests).
type Sender interface {
	Send(ctx context.Context, content, channel string) error
}

// PublishRequest carries the caller-supplied parameters of a publish.
type PublishRequest struct {
	AppID         string
	ClusterName   string
	NamespaceName string
	Name          string
	Comment       string
	Operator      string
	IsEmergency   bool
}

// Service is the release engine. Every publish or rollback runs as one
// store transaction: the release row, history row, lock removal and gray
// rule update commit or fail together. Change messages are appended after
// commit in their own transaction; the cache poll loop is the delivery
// backstop when that append fails.
type Service struct {
	store  store.Store
	sender Sender
	keys   *KeyGenerator
}

func NewService(st store.Store, sender Sender, keys *KeyGenerator) *Service {
	if keys == nil {
		keys = NewKeyGenerator()
	}
	return &Service{store: st, sender: sender, keys: keys}
}

// Publish releases the namespace's current items. A branch namespace gets a
// gray release merged over its parent's latest configuration; a master
// namespace gets a plain snapshot plus, when a live branch exists, an
// automatic cascade merge re-release of that branch.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (*model.Release, error) {
	var (
		rel            *model.Release
		messageCluster string
		operation      = model.OpNormalRelease
	)
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		ns, err := s.findNamespace(ctx, tx, req.AppID, req.ClusterName, req.NamespaceName)
		if err != nil {
			return err
		}
		if err := s.checkLock(ctx, tx, ns, req.IsEmergency, req.Operator); err != nil {
			return err
		}
		items, err := namespaceItems(ctx, tx, ns.ID)
		if err != nil {
			return err
		}

		parent, err := s.findParentNamespace(ctx, tx, ns)
		if err != nil {
			return err
		}
		if parent != nil {
			// Branch publish. Clients watch the parent cluster, so the
			// change message carries the parent's cluster name.
			operation = model.OpGrayRelease
			messageCluster = parent.ClusterName
			rel, err = s.publishBranch(ctx, tx, parent, ns, items, req, nil, model.OpGrayRelease)
			return err
		}

		messageCluster = ns.ClusterName
		child, err := s.findChildNamespace(ctx, tx, ns)
		if err != nil {
			return err
		}
		var previous *model.Release
		if child != nil {
			previous, err = tx.Releases().FindLatestActive(ctx, ns.AppID, ns.ClusterName, ns.NamespaceName)
			if err != nil {
				return err
			}
		}

		rel, err = s.masterRelease(ctx, tx, ns, req.Name, req.Comment, items, req.Operator,
			model.OpNormalRelease, operationContext{IsEmergency: req.IsEmergency})
		if err != nil {
			return err
		}

		if child != nil {
			return s.mergeFromMasterAndPublishBranch(ctx, tx, ns, child, items, previous, rel, req.Operator, req.IsEmergency)
		}
		return nil
	})
	if err != nil {
		telemetry.ReleaseFailuresTotal.With(failureReason(err)).Inc()
		return nil, err
	}

	telemetry.ReleasesPublishedTotal.With(operation.String()).Inc()
	s.notify(ctx, req.AppID, messageCluster, req.NamespaceName)
	return rel, nil
}

// GrayDeletionPublish is a branch publish that additionally suppresses the
// given inherited keys after the merge. Fails on non-branch namespaces.
func (s *Service) GrayDeletionPublish(ctx context.Context, req PublishRequest, grayDelKeys []string) (*model.Release, error) {
	var (
		rel           *model.Release
		parentCluster string
	)
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		ns, err := s.findNamespace(ctx, tx, req.AppID, req.ClusterName, req.NamespaceName)
		if err != nil {
			return err
		}
		if err := s.checkLock(ctx, tx, ns, req.IsEmergency, req.Operator); err != nil {
			return err
		}
		items, err := namespaceItems(ctx, tx, ns.ID)
		if err != nil {
			return err
		}
		parent, err := s.findParentNamespace(ctx, tx, ns)
		if err != nil {
			return err
		}
		if parent == nil {
			return fmt.Errorf("%w: %s/%s/%s", ErrParentNamespaceNotFound, ns.AppID, ns.ClusterName, ns.NamespaceName)
		}
		parentCluster = parent.ClusterName
		rel, err = s.publishBranch(ctx, tx, parent, ns, items, req, grayDelKeys, model.OpGrayReleaseDeletion)
		return err
	})
	if err != nil {
		telemetry.ReleaseFailuresTotal.With(failureReason(err)).Inc()
		return nil, err
	}

	telemetry.ReleasesPublishedTotal.With(model.OpGrayReleaseDeletion.String()).Inc()
	s.notify(ctx, req.AppID, parentCluster, req.NamespaceName)
	return rel, nil
}

// MergeBranchChangeSetsAndRelease folds a branch's item change sets back
// into the master namespace and releases the result. The branch itself is
// left to the caller to retire.
func (s *Service) MergeBranchChangeSetsAndRelease(ctx context.Context, req PublishRequest, branchName string, sets ItemChangeSets) (*model.Release, error) {
	var rel *model.Release
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		ns, err := s.findNamespace(ctx, tx, req.AppID, req.ClusterName, req.NamespaceName)
		if err != nil {
			return err
		}
		if err := s.checkLock(ctx, tx, ns, req.IsEmergency, req.Operator); err != nil {
			return err
		}
		if err := applyChangeSets(ctx, tx, ns.ID, sets); err != nil {
			return err
		}

		branchLatest, err := tx.Releases().FindLatestActive(ctx, ns.AppID, branchName, ns.NamespaceName)
		if err != nil {
			return err
		}
		var baseReleaseID int64
		if branchLatest != nil {
			baseReleaseID = branchLatest.ID
		}

		items, err := namespaceItems(ctx, tx, ns.ID)
		if err != nil {
			return err
		}
		rel, err = s.masterRelease(ctx, tx, ns, req.Name, req.Comment, items, req.Operator,
			model.OpGrayReleaseMergeToMaster, operationContext{
				IsEmergency:   req.IsEmergency,
				BaseReleaseID: baseReleaseID,
				SourceBranch:  branchName,
			})
		return err
	})
	if err != nil {
		telemetry.ReleaseFailuresTotal.With(failureReason(err)).Inc()
		return nil, err
	}

	telemetry.ReleasesPublishedTotal.With(model.OpGrayReleaseMergeToMaster.String()).Inc()
	s.notify(ctx, req.AppID, req.ClusterName, req.NamespaceName)
	return rel, nil
}

// Rollback abandons the given release and returns the restored one, the
// second-latest active release. Requires at least two active releases. A
// live branch is recomputed with the abandoned configuration as merge base
// and the restored one as target.
func (s *Service) Rollback(ctx context.Context, releaseID int64, operator string) (*model.Release, error) {
	var target *model.Release
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		rel, err := tx.Releases().FindByID(ctx, releaseID)
		if err != nil {
			return err
		}
		if rel == nil {
			return fmt.Errorf("%w: release %d", ErrReleaseNotFound, releaseID)
		}
		if rel.IsAbandoned {
			return fmt.Errorf("%w: release %d", ErrReleaseAbandoned, releaseID)
		}

		twoLatest, err := tx.Releases().FindNLatestActive(ctx, rel.AppID, rel.ClusterName, rel.NamespaceName, 2)
		if err != nil {
			return err
		}
		if len(twoLatest) < 2 {
			return fmt.Errorf("%w: %s/%s/%s", ErrOnlyOneActiveRelease, rel.AppID, rel.ClusterName, rel.NamespaceName)
		}

		rel.IsAbandoned = true
		rel.LastModifiedBy = operator
		if err := tx.Releases().Save(ctx, rel); err != nil {
			return err
		}
		tx.Audits().Audit(ctx, "release", rel.ID, "rollback", operator)

		if err := s.writeHistory(ctx, tx, rel.AppID, rel.ClusterName, rel.NamespaceName, "",
			twoLatest[1].ID, rel.ID, model.OpRollback, nil, operator); err != nil {
			return err
		}

		ns, err := tx.Namespaces().Find(ctx, rel.AppID, rel.ClusterName, rel.NamespaceName)
		if err != nil {
			return err
		}
		if ns != nil {
			child, err := s.findChildNamespace(ctx, tx, ns)
			if err != nil {
				return err
			}
			if child != nil {
				if err := s.rollbackChildNamespace(ctx, tx, ns, child, twoLatest[0], twoLatest[1], operator); err != nil {
					return err
				}
			}
		}
		target = twoLatest[1]
		return nil
	})
	if err != nil {
		telemetry.ReleaseFailuresTotal.With(failureReason(err)).Inc()
		return nil, err
	}

	telemetry.RollbacksTotal.Inc()
	s.notify(ctx, target.AppID, target.ClusterName, target.NamespaceName)
	return target, nil
}

func (s *Service) findNamespace(ctx context.Context, tx store.Store, appID, clusterName, namespaceName string) (*model.Namespace, error) {
	ns, err := tx.Namespaces().Find(ctx, appID, clusterName, namespaceName)
	if err != nil {
		return nil, err
	}
	if ns == nil {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrNamespaceNotFound, appID, clusterName, namespaceName)
	}
	return ns, nil
}

// checkLock enforces the self-approval rule: whoever created the pending
// edit lock may not publish it. Emergency publishes bypass the check.
func (s *Service) checkLock(ctx context.Context, tx store.Store, ns *model.Namespace, isEmergency bool, operator string) error {
	if isEmergency {
		return nil
	}
	lock, err := tx.Locks().FindLock(ctx, ns.ID)
	if err != nil {
		return err
	}
	if lock != nil && lock.CreatedBy == operator {
		return fmt.Errorf("%w: %s/%s/%s", ErrSelfPublishForbidden, ns.AppID, ns.ClusterName, ns.NamespaceName)
	}
	return nil
}

// namespaceItems projects a namespace's item rows to a key/value map.
// Empty keys mark comment and blank lines; the engine drops them.
func namespaceItems(ctx context.Context, tx store.Store, namespaceID int64) (map[string]string, error) {
	items, err := tx.Items().FindByNamespaceUnordered(ctx, namespaceID)
	if err != nil {
		return nil, err
	}
	configs := make(map[string]string, len(items))
	for _, item := range items {
		if item.Key == "" {
			continue
		}
		configs[item.Key] = item.Value
	}
	return configs, nil
}

// findParentNamespace resolves the parent of a branch namespace: the rule
// row whose branch_name is this namespace's cluster points at the parent
// cluster. Nil when the namespace is not a branch.
func (s *Service) findParentNamespace(ctx context.Context, tx store.Store, ns *model.Namespace) (*model.Namespace, error) {
	rule, err := tx.GrayRules().FindRuleForBranch(ctx, ns.AppID, ns.NamespaceName, ns.ClusterName)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, nil
	}
	parent, err := tx.Namespaces().Find(ctx, ns.AppID, rule.ClusterName, ns.NamespaceName)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("%w: parent %s/%s/%s", ErrNamespaceNotFound, ns.AppID, rule.ClusterName, ns.NamespaceName)
	}
	return parent, nil
}

// findChildNamespace resolves the live branch of a master namespace, nil
// when none exists.
func (s *Service) findChildNamespace(ctx context.Context, tx store.Store, ns *model.Namespace) (*model.Namespace, error) {
	rule, err := tx.GrayRules().FindBranchRule(ctx, ns.AppID, ns.ClusterName, ns.NamespaceName)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, nil
	}
	return tx.Namespaces().Find(ctx, ns.AppID, rule.BranchName, ns.NamespaceName)
}

func (s *Service) masterRelease(ctx context.Context, tx store.Store, ns *model.Namespace, name, comment string,
	configs map[string]string, operator string, op model.ReleaseOperation, opCtx operationContext) (*model.Release, error) {
	previous, err := tx.Releases().FindLatestActive(ctx, ns.AppID, ns.ClusterName, ns.NamespaceName)
	if err != nil {
		return nil, err
	}
	var previousID int64
	if previous != nil {
		previousID = previous.ID
	}

	rel, err := s.createRelease(ctx, tx, ns, name, comment, configs, operator)
	if err != nil {
		return nil, err
	}
	if err := s.writeHistory(ctx, tx, ns.AppID, ns.ClusterName, ns.NamespaceName, "",
		rel.ID, previousID, op, opCtx.encode(), operator); err != nil {
		return nil, err
	}
	return rel, nil
}

// publishBranch computes a branch's gray configuration: the parent's latest
// active configuration overlaid with the branch's own items (branch wins),
// minus any gray deletion keys.
func (s *Service) publishBranch(ctx context.Context, tx store.Store, parent, child *model.Namespace,
	childItems map[string]string, req PublishRequest, grayDelKeys []string, op model.ReleaseOperation) (*model.Release, error) {
	parentLatest, err := tx.Releases().FindLatestActive(ctx, parent.AppID, parent.ClusterName, parent.NamespaceName)
	if err != nil {
		return nil, err
	}
	parentConfig := map[string]string{}
	var baseReleaseID int64
	if parentLatest != nil {
		baseReleaseID = parentLatest.ID
		if parentConfig, err = parentLatest.ConfigMap(); err != nil {
			return nil, err
		}
	}

	configs := mergeConfiguration(parentConfig, childItems)
	for _, key := range grayDelKeys {
		delete(configs, key)
	}
	return s.branchRelease(ctx, tx, parent, child, req.Name, req.Comment, configs, baseReleaseID, req.Operator, op, req.IsEmergency)
}

// branchRelease persists a branch release and repoints the gray rule at it.
// The history row carries the parent's identity with the branch cluster
// name, so the parent's audit trail shows its branch activity.
func (s *Service) branchRelease(ctx context.Context, tx store.Store, parent, child *model.Namespace,
	name, comment string, configs map[string]string, baseReleaseID int64, operator string,
	op model.ReleaseOperation, isEmergency bool) (*model.Release, error) {
	previous, err := tx.Releases().FindLatestActive(ctx, child.AppID, child.ClusterName, child.NamespaceName)
	if err != nil {
		return nil, err
	}
	var previousID int64
	if previous != nil {
		previousID = previous.ID
	}

	rel, err := s.createRelease(ctx, tx, child, name, comment, configs, operator)
	if err != nil {
		return nil, err
	}

	rule, err := tx.GrayRules().UpdateRuleReleaseID(ctx, parent.AppID, parent.ClusterName, parent.NamespaceName,
		child.ClusterName, rel.ID, operator)
	if err != nil {
		return nil, err
	}

	opCtx := operationContext{IsEmergency: isEmergency, BaseReleaseID: baseReleaseID}
	if rule != nil {
		opCtx.Rules = rule.Rules
	}
	if err := s.writeHistory(ctx, tx, parent.AppID, parent.ClusterName, parent.NamespaceName,
		child.ClusterName, rel.ID, previousID, op, opCtx.encode(), operator); err != nil {
		return nil, err
	}
	return rel, nil
}

// mergeFromMasterAndPublishBranch is the cascade merge after a master
// publish: replay the branch's customizations relative to the old master
// configuration on top of the new one, and re-release the branch only when
// the result differs from what the branch currently serves.
func (s *Service) mergeFromMasterAndPublishBranch(ctx context.Context, tx store.Store, master, child *model.Namespace,
	masterNewConfig map[string]string, previousMaster, masterRelease *model.Release, operator string, isEmergency bool) error {
	childLatest, err := tx.Releases().FindLatestActive(ctx, child.AppID, child.ClusterName, child.NamespaceName)
	if err != nil {
		return err
	}
	childConfig := map[string]string{}
	if childLatest != nil {
		if childConfig, err = childLatest.ConfigMap(); err != nil {
			return err
		}
	}
	oldMasterConfig := map[string]string{}
	if previousMaster != nil {
		if oldMasterConfig, err = previousMaster.ConfigMap(); err != nil {
			return err
		}
	}

	toPublish := childConfigToPublish(oldMasterConfig, childConfig, masterNewConfig)
	if configsEqual(toPublish, childConfig) {
		return nil
	}

	_, err = s.branchRelease(ctx, tx, master, child, masterRelease.Name, masterRelease.Comment,
		toPublish, masterRelease.ID, operator, model.OpMasterNormalReleaseMergeToGray, isEmergency)
	return err
}

// rollbackChildNamespace recomputes a branch after its master rolled back:
// same three-way merge as cascade merge, with the abandoned release as
// merge base and the restored release as target.
func (s *Service) rollbackChildNamespace(ctx context.Context, tx store.Store, master, child *model.Namespace,
	abandoned, restored *model.Release, operator string) error {
	childLatest, err := tx.Releases().FindLatestActive(ctx, child.AppID, child.ClusterName, child.NamespaceName)
	if err != nil {
		return err
	}
	childConfig := map[string]string{}
	if childLatest != nil {
		if childConfig, err = childLatest.ConfigMap(); err != nil {
			return err
		}
	}
	abandonedConfig, err := abandoned.ConfigMap()
	if err != nil {
		return err
	}
	restoredConfig, err := restored.ConfigMap()
	if err != nil {
		return err
	}

	toPublish := childConfigToPublish(abandonedConfig, childConfig, restoredConfig)
	if configsEqual(toPublish, childConfig) {
		return nil
	}

	name := time.Now().UTC().Format("20060102150405") + "-master-rollback-merge-to-gray"
	_, err = s.branchRelease(ctx, tx, master, child, name, "", toPublish, restored.ID, operator,
		model.OpMasterRollbackMergeToGray, false)
	return err
}

// createRelease is the shared persistence primitive of both publish paths:
// key allocation, snapshot insert, lock removal, audit.
func (s *Service) createRelease(ctx context.Context, tx store.Store, ns *model.Namespace,
	name, comment string, configs map[string]string, operator string) (*model.Release, error) {
	text, err := model.EncodeConfigMap(configs)
	if err != nil {
		return nil, err
	}
	rel := &model.Release{
		ReleaseKey:     s.keys.Generate(ns.AppID, ns.ClusterName, ns.NamespaceName),
		Name:           name,
		AppID:          ns.AppID,
		ClusterName:    ns.ClusterName,
		NamespaceName:  ns.NamespaceName,
		Configurations: text,
		Comment:        comment,
		CreatedBy:      operator,
		LastModifiedBy: operator,
	}
	if err := tx.Releases().Save(ctx, rel); err != nil {
		return nil, err
	}
	if err := tx.Locks().Unlock(ctx, ns.ID); err != nil {
		return nil, err
	}
	tx.Audits().Audit(ctx, "release", rel.ID, "insert", operator)

	log.Debug().
		Str("app_id", ns.AppID).
		Str("cluster", ns.ClusterName).
		Str("namespace", ns.NamespaceName).
		Int64("release_id", rel.ID).
		Msg("Created release")
	return rel, nil
}

func (s *Service) writeHistory(ctx context.Context, tx store.Store, appID, clusterName, namespaceName, branchClusterName string,
	releaseID, previousReleaseID int64, op model.ReleaseOperation, opCtx []byte, operator string) error {
	h := &model.ReleaseHistory{
		AppID:             appID,
		ClusterName:       clusterName,
		NamespaceName:     namespaceName,
		BranchClusterName: branchClusterName,
		ReleaseID:         releaseID,
		PreviousReleaseID: previousReleaseID,
		Operation:         op,
		OperationContext:  opCtx,
		Operator:          operator,
	}
	return tx.Histories().Save(ctx, h)
}

// notify appends the change message after the release transaction has
// committed. The append runs in its own transaction; on failure the cache
// poll loop delivers the change within one scan interval, so the error is
// logged, not propagated.
func (s *Service) notify(ctx context.Context, appID, clusterName, namespaceName string) {
	if s.sender == nil {
		return
	}
	key := watch.Key(appID, clusterName, namespaceName)
	if err := s.sender.Send(ctx, key, message.TopicReleases); err != nil {
		log.Error().Err(err).Str("watch_key", key).Msg("Failed to send release message")
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNamespaceNotFound), errors.Is(err, ErrReleaseNotFound):
		return "not_found"
	case errors.Is(err, ErrSelfPublishForbidden), errors.Is(err, ErrReleaseAbandoned),
		errors.Is(err, ErrOnlyOneActiveRelease), errors.Is(err, ErrParentNamespaceNotFound):
		return "rejected"
	default:
		return "store"
	}
}
