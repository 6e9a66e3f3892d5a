// Package model holds the persisted entities shared by the stores, the
// release engine and the change-message pipeline.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Namespace identifies one configuration unit of an application inside a
// cluster. A namespace is a branch (gray) namespace when a GrayReleaseRule
// row links its cluster name as branch_name to a parent cluster.
type Namespace struct {
	ID            int64  `db:"id" json:"id"`
	AppID         string `db:"app_id" json:"appId"`
	ClusterName   string `db:"cluster_name" json:"clusterName"`
	NamespaceName string `db:"namespace_name" json:"namespaceName"`
}

// Item is a single key/value configuration line inside a namespace.
// An empty key marks a comment or blank line owned by the text resolver;
// the release engine skips those when projecting items to a config map.
type Item struct {
	ID          int64  `db:"id" json:"id"`
	NamespaceID int64  `db:"namespace_id" json:"namespaceId"`
	Key         string `db:"key" json:"key"`
	Value       string `db:"value" json:"value"`
	LineNum     int    `db:"line_num" json:"lineNum"`
}

// Release is an immutable configuration snapshot. Configurations is a JSON
// encoded key/value map; once the row is written it never changes. The
// latest active release of a namespace is the highest-id row with
// IsAbandoned false.
type Release struct {
	ID             int64     `db:"id" json:"id"`
	ReleaseKey     string    `db:"release_key" json:"releaseKey"`
	Name           string    `db:"name" json:"name"`
	AppID          string    `db:"app_id" json:"appId"`
	ClusterName    string    `db:"cluster_name" json:"clusterName"`
	NamespaceName  string    `db:"namespace_name" json:"namespaceName"`
	Configurations string    `db:"configurations" json:"configurations"`
	Comment        string    `db:"comment" json:"comment"`
	IsAbandoned    bool      `db:"is_abandoned" json:"isAbandoned"`
	CreatedBy      string    `db:"created_by" json:"createdBy"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	LastModifiedBy string    `db:"last_modified_by" json:"lastModifiedBy"`
}

// ConfigMap decodes the serialized configurations into a key/value map.
func (r *Release) ConfigMap() (map[string]string, error) {
	if r.Configurations == "" {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(r.Configurations), &m); err != nil {
		return nil, fmt.Errorf("failed to decode configurations of release %d: %w", r.ID, err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

// EncodeConfigMap serializes a config map the way Release.Configurations
// stores it. Key order is irrelevant to consumers.
func EncodeConfigMap(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode config map: %w", err)
	}
	return string(raw), nil
}

// ReleaseOperation enumerates the transitions recorded in release history.
type ReleaseOperation int

const (
	OpNormalRelease ReleaseOperation = iota
	OpRollback
	OpGrayRelease
	OpMasterNormalReleaseMergeToGray
	OpMasterRollbackMergeToGray
	OpGrayReleaseMergeToMaster
	OpGrayReleaseDeletion
)

func (o ReleaseOperation) String() string {
	switch o {
	case OpNormalRelease:
		return "normal_release"
	case OpRollback:
		return "rollback"
	case OpGrayRelease:
		return "gray_release"
	case OpMasterNormalReleaseMergeToGray:
		return "master_normal_release_merge_to_gray"
	case OpMasterRollbackMergeToGray:
		return "master_rollback_merge_to_gray"
	case OpGrayReleaseMergeToMaster:
		return "gray_release_merge_to_master"
	case OpGrayReleaseDeletion:
		return "gray_release_deletion"
	default:
		return "unknown"
	}
}

// ReleaseHistory is an append-only edge between two releases of a namespace.
// OperationContext is an opaque msgpack payload written once and never read
// back by the engine; it exists for re-audit.
type ReleaseHistory struct {
	ID                int64            `db:"id" json:"id"`
	AppID             string           `db:"app_id" json:"appId"`
	ClusterName       string           `db:"cluster_name" json:"clusterName"`
	NamespaceName     string           `db:"namespace_name" json:"namespaceName"`
	BranchClusterName string           `db:"branch_cluster_name" json:"branchClusterName"`
	ReleaseID         int64            `db:"release_id" json:"releaseId"`
	PreviousReleaseID int64            `db:"previous_release_id" json:"previousReleaseId"`
	Operation         ReleaseOperation `db:"operation" json:"operation"`
	OperationContext  []byte           `db:"operation_context" json:"-"`
	Operator          string           `db:"operator" json:"operator"`
	CreatedAt         time.Time        `db:"created_at" json:"createdAt"`
}

// GrayReleaseRule links a branch namespace to the release currently serving
// gray traffic. Rules holds the JSON encoded client matching rule items;
// parsing and matching live in the gray package.
type GrayReleaseRule struct {
	ID            int64     `db:"id" json:"id"`
	AppID         string    `db:"app_id" json:"appId"`
	ClusterName   string    `db:"cluster_name" json:"clusterName"`
	NamespaceName string    `db:"namespace_name" json:"namespaceName"`
	BranchName    string    `db:"branch_name" json:"branchName"`
	Rules         string    `db:"rules" json:"rules"`
	ReleaseID     int64     `db:"release_id" json:"releaseId"`
	UpdatedBy     string    `db:"updated_by" json:"updatedBy"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// NamespaceLock marks a namespace as having pending unreleased edits.
// It is advisory: its only reader is the self-approval check on publish.
type NamespaceLock struct {
	NamespaceID int64     `db:"namespace_id" json:"namespaceId"`
	CreatedBy   string    `db:"created_by" json:"createdBy"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// ReleaseMessage is one durable change-notification row. Content is a watch
// key; the current state for a content is the row with the maximum id among
// rows sharing that content, which is what lets the compactor delete older
// duplicates safely.
type ReleaseMessage struct {
	ID        int64     `db:"id" json:"id"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// AppNamespace declares a namespace name owned by an application. Public
// namespaces may be consumed by other applications, which makes their
// owner's watch keys part of the consumer's subscription.
type AppNamespace struct {
	ID       int64  `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	AppID    string `db:"app_id" json:"appId"`
	IsPublic bool   `db:"is_public" json:"isPublic"`
}
