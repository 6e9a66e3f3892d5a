package release

import "errors"

// Failure taxonomy of the engine. Validation and conflict errors abort
// before any write; transport layers map them to user-facing rejections.
var (
	ErrNamespaceNotFound       = errors.New("namespace not found")
	ErrReleaseNotFound         = errors.New("release not found")
	ErrReleaseAbandoned        = errors.New("release is already abandoned")
	ErrSelfPublishForbidden    = errors.New("pending edits may not be published by their own author")
	ErrOnlyOneActiveRelease    = errors.New("can not rollback, only one active release")
	ErrParentNamespaceNotFound = errors.New("parent namespace not found, gray deletion only supported on branch namespaces")
)
