// Package platforms holds the typed registry of platform adapters.
package platforms

import (
	"fmt"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
)

// Adapters names one adapter per supported platform. Every field is required.
type Adapters struct {
	Twitter  repository.IPlatform
	Mastodon repository.IPlatform
	Bluesky  repository.IPlatform
	Nanopub  repository.IPlatform
	Orcid    repository.IPlatform
}

type Registry struct {
	byID map[model.PlatformID]repository.IPlatform
}

// NewRegistry fails when an adapter is missing or registered under the wrong id.
func NewRegistry(a Adapters) (*Registry, error) {
	slots := map[model.PlatformID]repository.IPlatform{
		model.PlatformTwitter:  a.Twitter,
		model.PlatformMastodon: a.Mastodon,
		model.PlatformBluesky:  a.Bluesky,
		model.PlatformNanopub:  a.Nanopub,
		model.PlatformOrcid:    a.Orcid,
	}
	r := &Registry{byID: make(map[model.PlatformID]repository.IPlatform, len(slots))}
	for _, id := range model.AllPlatforms {
		adapter := slots[id]
		if adapter == nil {
			return nil, fmt.Errorf("platform %s: no adapter", id)
		}
		if adapter.ID() != id {
			return nil, fmt.Errorf("platform %s: adapter reports %s", id, adapter.ID())
		}
		r.byID[id] = adapter
	}
	return r, nil
}

func (r *Registry) Get(id model.PlatformID) (repository.IPlatform, error) {
	adapter, ok := r.byID[id]
	if !ok {
		return nil, apperror.NotFound("platform", string(id))
	}
	return adapter, nil
}

// All returns the adapters in AllPlatforms order.
func (r *Registry) All() []repository.IPlatform {
	out := make([]repository.IPlatform, 0, len(r.byID))
	for _, id := range model.AllPlatforms {
		out = append(out, r.byID[id])
	}
	return out
}
