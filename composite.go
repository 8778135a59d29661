package pullconf

import (
	"context"
	"fmt"
)

// ResolvedItem is one concrete leaf configuration version selected for a
// node, in bundle include order.
type ResolvedItem struct {
	ChildID   string
	ChildName string
	VersionID string
	Version   string
	Checksum  string
	Files     []ConfigurationFile
}

// ResolveOptions carries the node's preferences for a resolution pass.
type ResolveOptions struct {
	IncludePrerelease bool
	Channel           string
	// DraftPreview admits draft versions, letting operators inspect a bundle
	// before publishing.
	DraftPreview bool
	// ItemPins overrides per-item pins keyed by child configuration id.
	ItemPins map[string]string
}

// CompositeResolver maps a composite version's ordered items to concrete leaf
// configuration versions, honoring pins and the node's channel.
type CompositeResolver struct {
	configs  ConfigurationRepository
	versions *VersionStore
}

// NewCompositeResolver constructs a resolver over the supplied repositories.
func NewCompositeResolver(configs ConfigurationRepository, versions *VersionStore) *CompositeResolver {
	return &CompositeResolver{configs: configs, versions: versions}
}

// Resolve walks the composite's items sorted by Order (ties broken by
// insertion id) and selects one configuration version per item: the pinned
// version when a pin is present (archived versions are admitted), otherwise
// the latest published version for the node's channel.
//
// Draft composite versions require the preview flag. Archived versions are
// admitted: latest-resolution never selects them, so reaching one here means
// the caller named it explicitly.
func (r *CompositeResolver) Resolve(ctx context.Context, composite CompositeConfigurationVersion, opts ResolveOptions) ([]ResolvedItem, error) {
	if composite.State == StateDraft && !opts.DraftPreview {
		return nil, &ResolutionError{
			Target:  composite.CompositeID,
			Version: composite.Version,
			Err:     fmt.Errorf("composite version is a draft and draft preview was not requested"),
		}
	}

	resolved := make([]ResolvedItem, 0, len(composite.Items))
	for _, item := range orderItems(composite.Items) {
		if item.ChildKind != TargetLeaf {
			return nil, fmt.Errorf("%w: item %d references %s %s", ErrCompositeChild, item.Seq, item.ChildKind, item.ChildID)
		}
		entry, err := r.resolveItem(ctx, item, opts)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, entry)
	}
	return resolved, nil
}

// ResolveLeaf selects the version for a node assigned directly to a leaf
// configuration, treating the node's pin like an item pin.
func (r *CompositeResolver) ResolveLeaf(ctx context.Context, configurationID, pin string, opts ResolveOptions) (ResolvedItem, error) {
	return r.resolveItem(ctx, CompositeItem{ChildID: configurationID, ChildKind: TargetLeaf, PinnedVersion: pin}, opts)
}

func (r *CompositeResolver) resolveItem(ctx context.Context, item CompositeItem, opts ResolveOptions) (ResolvedItem, error) {
	config, err := r.configs.GetConfiguration(ctx, item.ChildID)
	if err != nil {
		return ResolvedItem{}, resolutionError(item.ChildID, "", err)
	}

	pin := item.PinnedVersion
	if override, ok := opts.ItemPins[item.ChildID]; ok && override != "" {
		pin = override
	}

	var selected ConfigurationVersion
	if pin != "" {
		selected, err = r.configs.FindVersion(ctx, item.ChildID, pin)
		if err != nil {
			return ResolvedItem{}, resolutionError(config.Name, pin, err)
		}
		if selected.State == StateDraft && !opts.DraftPreview {
			return ResolvedItem{}, &ResolutionError{
				Target:  config.Name,
				Version: pin,
				Err:     fmt.Errorf("pinned version is a draft and draft preview was not requested"),
			}
		}
	} else {
		selected, err = r.versions.ResolveLatest(ctx, item.ChildID, opts.IncludePrerelease, opts.Channel)
		if err != nil {
			return ResolvedItem{}, resolutionError(config.Name, "", err)
		}
	}

	files := make([]ConfigurationFile, len(selected.Files))
	copy(files, selected.Files)
	return ResolvedItem{
		ChildID:   config.ID,
		ChildName: config.Name,
		VersionID: selected.ID,
		Version:   selected.Version,
		Checksum:  selected.Checksum,
		Files:     files,
	}, nil
}
