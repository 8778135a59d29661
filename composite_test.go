package pullconf

import (
	"context"
	"errors"
	"testing"
)

func newTestResolver(t *testing.T) (*CompositeResolver, *VersionStore, *MemoryRepository) {
	t.Helper()
	store, repo := newTestStore(t)
	return NewCompositeResolver(repo, store), store, repo
}

func publishComposite(t *testing.T, store *VersionStore, repo *MemoryRepository, id string, items []CompositeItem) CompositeConfigurationVersion {
	t.Helper()
	ctx := context.Background()
	if err := repo.CreateComposite(ctx, CompositeConfiguration{ID: id, Name: id}); err != nil {
		t.Fatalf("composite %s: %v", id, err)
	}
	draft, err := store.CreateCompositeVersion(ctx, id, "1.0.0", "", items)
	if err != nil {
		t.Fatalf("composite version: %v", err)
	}
	published, err := store.PublishComposite(ctx, draft.ID)
	if err != nil {
		t.Fatalf("publish composite: %v", err)
	}
	return published
}

func TestResolveWalksItemsInOrder(t *testing.T) {
	resolver, store, repo := newTestResolver(t)
	seedConfiguration(t, repo, "web")
	seedConfiguration(t, repo, "api")
	publishVersion(t, store, "web", "1.2.0", "")
	publishVersion(t, store, "api", "2.0.1", "")

	version := publishComposite(t, store, repo, "edge", []CompositeItem{
		{ChildID: "api", ChildKind: TargetLeaf, Order: 1},
		{ChildID: "web", ChildKind: TargetLeaf, Order: 0},
	})

	items, err := resolver.Resolve(context.Background(), version, ResolveOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ChildName != "web" || items[1].ChildName != "api" {
		t.Fatalf("expected [web api], got [%s %s]", items[0].ChildName, items[1].ChildName)
	}
	if items[0].Version != "1.2.0" || items[1].Version != "2.0.1" {
		t.Fatalf("expected latest versions, got %s %s", items[0].Version, items[1].Version)
	}
}

func TestResolveHonorsItemPins(t *testing.T) {
	resolver, store, repo := newTestResolver(t)
	seedConfiguration(t, repo, "web")
	pinned := publishVersion(t, store, "web", "1.0.0", "")
	publishVersion(t, store, "web", "2.0.0", "")

	version := publishComposite(t, store, repo, "edge", []CompositeItem{
		{ChildID: "web", ChildKind: TargetLeaf, PinnedVersion: "1.0.0", Order: 0},
	})

	items, err := resolver.Resolve(context.Background(), version, ResolveOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if items[0].VersionID != pinned.ID {
		t.Fatalf("expected pinned 1.0.0, got %s", items[0].Version)
	}
}

func TestResolvePinnedArchivedVersionIsAdmitted(t *testing.T) {
	resolver, store, repo := newTestResolver(t)
	seedConfiguration(t, repo, "web")
	ctx := context.Background()

	old := publishVersion(t, store, "web", "1.0.0", "")
	publishVersion(t, store, "web", "2.0.0", "")
	if _, err := store.Archive(ctx, old.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	item, err := resolver.ResolveLeaf(ctx, "web", "1.0.0", ResolveOptions{})
	if err != nil {
		t.Fatalf("resolve pinned archived: %v", err)
	}
	if item.Version != "1.0.0" {
		t.Fatalf("expected archived 1.0.0 through pin, got %s", item.Version)
	}
}

func TestResolvePinnedDraftRequiresPreview(t *testing.T) {
	resolver, store, repo := newTestResolver(t)
	seedConfiguration(t, repo, "web")
	ctx := context.Background()

	if _, err := store.CreateVersion(ctx, "web", "1.0.0", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := resolver.ResolveLeaf(ctx, "web", "1.0.0", ResolveOptions{}); err == nil {
		t.Fatalf("expected draft pin to be rejected without preview")
	} else {
		var resErr *ResolutionError
		if !errors.As(err, &resErr) {
			t.Fatalf("expected ResolutionError, got %T", err)
		}
	}

	item, err := resolver.ResolveLeaf(ctx, "web", "1.0.0", ResolveOptions{DraftPreview: true})
	if err != nil {
		t.Fatalf("resolve with preview: %v", err)
	}
	if item.Version != "1.0.0" {
		t.Fatalf("expected draft 1.0.0 under preview, got %s", item.Version)
	}
}

func TestResolveUnpublishedCompositeRequiresPreview(t *testing.T) {
	resolver, store, repo := newTestResolver(t)
	seedConfiguration(t, repo, "web")
	publishVersion(t, store, "web", "1.0.0", "")
	ctx := context.Background()

	if err := repo.CreateComposite(ctx, CompositeConfiguration{ID: "edge", Name: "edge"}); err != nil {
		t.Fatalf("composite: %v", err)
	}
	draft, err := store.CreateCompositeVersion(ctx, "edge", "1.0.0", "", []CompositeItem{
		{ChildID: "web", ChildKind: TargetLeaf, Order: 0},
	})
	if err != nil {
		t.Fatalf("composite version: %v", err)
	}

	if _, err := resolver.Resolve(ctx, draft, ResolveOptions{}); err == nil {
		t.Fatalf("expected draft composite to be rejected without preview")
	}
	if _, err := resolver.Resolve(ctx, draft, ResolveOptions{DraftPreview: true}); err != nil {
		t.Fatalf("resolve draft composite with preview: %v", err)
	}
}

func TestResolveArchivedCompositeVersionIsAdmitted(t *testing.T) {
	resolver, store, repo := newTestResolver(t)
	seedConfiguration(t, repo, "web")
	publishVersion(t, store, "web", "1.0.0", "")
	ctx := context.Background()

	version := publishComposite(t, store, repo, "stack", []CompositeItem{
		{ChildID: "web", ChildKind: TargetLeaf, Order: 0},
	})
	archived, err := store.ArchiveComposite(ctx, version.ID)
	if err != nil {
		t.Fatalf("archive composite: %v", err)
	}

	items, err := resolver.Resolve(ctx, archived, ResolveOptions{})
	if err != nil {
		t.Fatalf("resolve archived composite: %v", err)
	}
	if len(items) != 1 || items[0].ChildName != "web" {
		t.Fatalf("expected archived composite to resolve its items, got %+v", items)
	}
}

func TestResolveNodeItemPinsOverrideCompositePins(t *testing.T) {
	resolver, store, repo := newTestResolver(t)
	seedConfiguration(t, repo, "web")
	publishVersion(t, store, "web", "1.0.0", "")
	override := publishVersion(t, store, "web", "1.5.0", "")

	version := publishComposite(t, store, repo, "edge", []CompositeItem{
		{ChildID: "web", ChildKind: TargetLeaf, PinnedVersion: "1.0.0", Order: 0},
	})

	items, err := resolver.Resolve(context.Background(), version, ResolveOptions{
		ItemPins: map[string]string{"web": "1.5.0"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if items[0].VersionID != override.ID {
		t.Fatalf("expected node pin 1.5.0 to win, got %s", items[0].Version)
	}
}

func TestResolveUnresolvablePinIsResolutionError(t *testing.T) {
	resolver, store, repo := newTestResolver(t)
	seedConfiguration(t, repo, "web")
	publishVersion(t, store, "web", "1.0.0", "")

	_, err := resolver.ResolveLeaf(context.Background(), "web", "9.9.9", ResolveOptions{})
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if resErr.Target != "web" || resErr.Version != "9.9.9" {
		t.Fatalf("expected error attributed to web@9.9.9, got %+v", resErr)
	}
}
