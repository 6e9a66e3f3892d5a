package release

import (
	"context"
	"fmt"

	"github.com/burrowhq/burrow/model"
)

// Read accessors over the release store, exposed to transport layers.

func (s *Service) FindRelease(ctx context.Context, id int64) (*model.Release, error) {
	rel, err := s.store.Releases().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, fmt.Errorf("%w: release %d", ErrReleaseNotFound, id)
	}
	return rel, nil
}

func (s *Service) FindActiveRelease(ctx context.Context, id int64) (*model.Release, error) {
	rel, err := s.store.Releases().FindActiveByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, fmt.Errorf("%w: active release %d", ErrReleaseNotFound, id)
	}
	return rel, nil
}

func (s *Service) FindLatestActiveRelease(ctx context.Context, appID, clusterName, namespaceName string) (*model.Release, error) {
	return s.store.Releases().FindLatestActive(ctx, appID, clusterName, namespaceName)
}

// FindActiveReleases pages active releases, newest first.
func (s *Service) FindActiveReleases(ctx context.Context, appID, clusterName, namespaceName string, page, size int) ([]*model.Release, error) {
	return s.store.Releases().FindActivePage(ctx, appID, clusterName, namespaceName, page*size, size)
}

// FindAllReleases pages all releases including abandoned ones, newest first.
func (s *Service) FindAllReleases(ctx context.Context, appID, clusterName, namespaceName string, page, size int) ([]*model.Release, error) {
	return s.store.Releases().FindAllPage(ctx, appID, clusterName, namespaceName, page*size, size)
}

func (s *Service) FindByReleaseIDs(ctx context.Context, ids []int64) ([]*model.Release, error) {
	return s.store.Releases().FindByIDs(ctx, ids)
}

func (s *Service) FindByReleaseKeys(ctx context.Context, keys []string) ([]*model.Release, error) {
	return s.store.Releases().FindByReleaseKeys(ctx, keys)
}

func (s *Service) FindReleaseHistories(ctx context.Context, appID, clusterName, namespaceName string, page, size int) ([]*model.ReleaseHistory, error) {
	return s.store.Histories().FindPage(ctx, appID, clusterName, namespaceName, page*size, size)
}
