// Package watch derives the change-message watch keys a configuration
// subscriber must observe, including shared public-namespace fan-out.
package watch

import (
	"context"
	"strings"

	"github.com/burrowhq/burrow/model"
)

const (
	// ClusterNameDefault is the fallback cluster every client watches.
	ClusterNameDefault = "default"
	// NamespaceApplication is the private default namespace of every app.
	NamespaceApplication = "application"
	// NoAppIDPlaceholder marks an anonymous subscriber; it watches nothing.
	NoAppIDPlaceholder = "NoAppIdPlaceholder"

	keySeparator = "+"
)

// Key builds the watch key string for one namespace identity.
func Key(appID, clusterName, namespaceName string) string {
	return appID + keySeparator + clusterName + keySeparator + namespaceName
}

// AppNamespaceFinder resolves namespace ownership and public visibility.
type AppNamespaceFinder interface {
	FindOne(ctx context.Context, appID, name string) (*model.AppNamespace, error)
	FindPublicByName(ctx context.Context, name string) (*model.AppNamespace, error)
	FindByAppIDAndNames(ctx context.Context, appID string, names []string) ([]*model.AppNamespace, error)
	FindPublicByNames(ctx context.Context, names []string) ([]*model.AppNamespace, error)
}

// KeyAssembler computes watched-key sets for subscriptions.
type KeyAssembler struct {
	appNamespaces AppNamespaceFinder
}

func NewKeyAssembler(finder AppNamespaceFinder) *KeyAssembler {
	return &KeyAssembler{appNamespaces: finder}
}

// AssembleAllWatchKeys returns, per requested namespace name, the set of
// watch keys the subscriber must compare against. Beyond the subscriber's
// own keys, namespaces not owned by the requesting app but declared public
// by their owner also contribute the owner's keys (with the requester's
// cluster), so a consumer of a shared namespace sees the owner's
// republishes. The single-default-namespace request skips the ownership
// lookup entirely; it is the overwhelmingly common case and never shared.
func (a *KeyAssembler) AssembleAllWatchKeys(ctx context.Context, appID, clusterName string,
	namespaces []string, dataCenter string) (map[string][]string, error) {
	watched := a.assembleByNamespaces(appID, clusterName, namespaces, dataCenter)

	if len(namespaces) == 1 && namespaces[0] == NamespaceApplication {
		return watched, nil
	}
	if isNoAppID(appID) {
		return watched, nil
	}

	owned, err := a.namespacesBelongingTo(ctx, appID, namespaces)
	if err != nil {
		return nil, err
	}
	var public []string
	for _, ns := range namespaces {
		if !owned[ns] {
			public = append(public, ns)
		}
	}
	if len(public) == 0 {
		return watched, nil
	}

	publicRows, err := a.appNamespaces.FindPublicByNames(ctx, public)
	if err != nil {
		return nil, err
	}
	for _, row := range publicRows {
		if row.AppID == appID {
			continue
		}
		// The owner's keys use the requester's cluster, not the owner's:
		// the subscriber cares about the owner's publishes as seen from
		// its own cluster layering.
		for _, key := range assembleWatchKeys(row.AppID, clusterName, row.Name, dataCenter) {
			watched[row.Name] = appendKey(watched[row.Name], key)
		}
	}
	return watched, nil
}

func (a *KeyAssembler) assembleByNamespaces(appID, clusterName string, namespaces []string, dataCenter string) map[string][]string {
	watched := make(map[string][]string, len(namespaces))
	for _, ns := range namespaces {
		for _, key := range assembleWatchKeys(appID, clusterName, ns, dataCenter) {
			watched[ns] = appendKey(watched[ns], key)
		}
	}
	return watched
}

func (a *KeyAssembler) namespacesBelongingTo(ctx context.Context, appID string, namespaces []string) (map[string]bool, error) {
	rows, err := a.appNamespaces.FindByAppIDAndNames(ctx, appID, namespaces)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(rows))
	for _, row := range rows {
		owned[row.Name] = true
	}
	return owned, nil
}

// assembleWatchKeys yields the layered key set of one namespace: the
// specific cluster when not default, the data-center cluster when distinct,
// and always the default cluster.
func assembleWatchKeys(appID, clusterName, namespace, dataCenter string) []string {
	if isNoAppID(appID) {
		return nil
	}
	keys := make([]string, 0, 3)
	if clusterName != ClusterNameDefault {
		keys = append(keys, Key(appID, clusterName, namespace))
	}
	if dataCenter != "" && dataCenter != clusterName {
		keys = append(keys, Key(appID, dataCenter, namespace))
	}
	return append(keys, Key(appID, ClusterNameDefault, namespace))
}

func isNoAppID(appID string) bool {
	return appID == "" || strings.EqualFold(appID, NoAppIDPlaceholder)
}

func appendKey(keys []string, key string) []string {
	for _, k := range keys {
		if k == key {
			return keys
		}
	}
	return append(keys, key)
}
