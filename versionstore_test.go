package pullconf

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*VersionStore, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	next := 0
	store := NewVersionStore(repo, repo,
		WithClock(func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string {
			next++
			return fmt.Sprintf("v-%d", next)
		}),
	)
	return store, repo
}

func seedConfiguration(t *testing.T, repo *MemoryRepository, id string) {
	t.Helper()
	if err := repo.CreateConfiguration(context.Background(), Configuration{ID: id, Name: id}); err != nil {
		t.Fatalf("seed configuration %s: %v", id, err)
	}
}

func publishVersion(t *testing.T, store *VersionStore, configurationID, version, channel string) ConfigurationVersion {
	t.Helper()
	ctx := context.Background()
	draft, err := store.CreateVersion(ctx, configurationID, version, channel)
	if err != nil {
		t.Fatalf("create %s@%s: %v", configurationID, version, err)
	}
	if _, err := store.PutFile(ctx, draft.ID, "app.conf", []byte("content for "+version)); err != nil {
		t.Fatalf("put file: %v", err)
	}
	published, err := store.Publish(ctx, draft.ID)
	if err != nil {
		t.Fatalf("publish %s@%s: %v", configurationID, version, err)
	}
	return published
}

func TestCreateVersionRejectsInvalidSemver(t *testing.T) {
	store, repo := newTestStore(t)
	seedConfiguration(t, repo, "web")

	for _, bad := range []string{"1.2", "v1.2.3", "abc", "1.2.3.4", "1.2.3-"} {
		if _, err := store.CreateVersion(context.Background(), "web", bad, ""); !errors.Is(err, ErrInvalidSemver) {
			t.Fatalf("version %q: expected ErrInvalidSemver, got %v", bad, err)
		}
	}
}

func TestCreateVersionRejectsDuplicates(t *testing.T) {
	store, repo := newTestStore(t)
	seedConfiguration(t, repo, "web")
	ctx := context.Background()

	if _, err := store.CreateVersion(ctx, "web", "1.0.0", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateVersion(ctx, "web", "1.0.0", ""); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestPutFileOnlyEditsDrafts(t *testing.T) {
	store, repo := newTestStore(t)
	seedConfiguration(t, repo, "web")
	ctx := context.Background()

	published := publishVersion(t, store, "web", "1.0.0", "")
	if _, err := store.PutFile(ctx, published.ID, "extra.conf", []byte("nope")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestPutFileReplacesByName(t *testing.T) {
	store, repo := newTestStore(t)
	seedConfiguration(t, repo, "web")
	ctx := context.Background()

	draft, err := store.CreateVersion(ctx, "web", "1.0.0", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.PutFile(ctx, draft.ID, "app.conf", []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	updated, err := store.PutFile(ctx, draft.ID, "app.conf", []byte("two"))
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(updated.Files) != 1 {
		t.Fatalf("expected 1 file after replace, got %d", len(updated.Files))
	}
	if string(updated.Files[0].Content) != "two" {
		t.Fatalf("expected replaced content, got %s", updated.Files[0].Content)
	}
}

func TestPublishFreezesChecksumAndLifecycle(t *testing.T) {
	store, repo := newTestStore(t)
	seedConfiguration(t, repo, "web")
	ctx := context.Background()

	published := publishVersion(t, store, "web", "1.0.0", "")
	if published.State != StatePublished {
		t.Fatalf("expected published state, got %s", published.State)
	}
	if published.Checksum == "" {
		t.Fatalf("expected checksum to be frozen at publish")
	}
	if published.PublishedAt.IsZero() {
		t.Fatalf("expected publish timestamp")
	}

	if _, err := store.Publish(ctx, published.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("publishing twice: expected ErrInvalidTransition, got %v", err)
	}
}

func TestArchiveRequiresPublished(t *testing.T) {
	store, repo := newTestStore(t)
	seedConfiguration(t, repo, "web")
	ctx := context.Background()

	draft, err := store.CreateVersion(ctx, "web", "1.0.0", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Archive(ctx, draft.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("archiving a draft: expected ErrInvalidTransition, got %v", err)
	}

	published := publishVersion(t, store, "web", "1.1.0", "")
	archived, err := store.Archive(ctx, published.ID)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archived.State != StateArchived {
		t.Fatalf("expected archived state, got %s", archived.State)
	}
	if _, err := store.Archive(ctx, published.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("archiving twice: expected ErrInvalidTransition, got %v", err)
	}
}

func TestVersionChecksumDependsOnContentNotOrder(t *testing.T) {
	a := versionChecksum([]ConfigurationFile{
		{Name: "a.conf", Checksum: contentSHA256([]byte("alpha"))},
		{Name: "b.conf", Checksum: contentSHA256([]byte("beta"))},
	})
	b := versionChecksum([]ConfigurationFile{
		{Name: "b.conf", Checksum: contentSHA256([]byte("beta"))},
		{Name: "a.conf", Checksum: contentSHA256([]byte("alpha"))},
	})
	if a != b {
		t.Fatalf("file order should not affect checksum: %s vs %s", a, b)
	}

	c := versionChecksum([]ConfigurationFile{
		{Name: "a.conf", Checksum: contentSHA256([]byte("changed"))},
		{Name: "b.conf", Checksum: contentSHA256([]byte("beta"))},
	})
	if a == c {
		t.Fatalf("content change should change checksum")
	}
}

func TestResolveLatestChannelAndPrerelease(t *testing.T) {
	store, repo := newTestStore(t)
	seedConfiguration(t, repo, "web")
	ctx := context.Background()

	publishVersion(t, store, "web", "1.0.0", "")
	publishVersion(t, store, "web", "1.2.0", "")
	publishVersion(t, store, "web", "2.0.0-beta", "beta")

	// Default channel: prerelease and channel-labeled versions are excluded.
	latest, err := store.ResolveLatest(ctx, "web", false, "")
	if err != nil {
		t.Fatalf("resolve default: %v", err)
	}
	if latest.Version != "1.2.0" {
		t.Fatalf("expected 1.2.0, got %s", latest.Version)
	}

	// Beta channel without prerelease opt-in still lands on the stable version.
	latest, err = store.ResolveLatest(ctx, "web", false, "beta")
	if err != nil {
		t.Fatalf("resolve beta stable: %v", err)
	}
	if latest.Version != "1.2.0" {
		t.Fatalf("expected 1.2.0 on beta without prerelease, got %s", latest.Version)
	}

	// Beta channel plus prerelease opt-in selects the prerelease build.
	latest, err = store.ResolveLatest(ctx, "web", true, "beta")
	if err != nil {
		t.Fatalf("resolve beta prerelease: %v", err)
	}
	if latest.Version != "2.0.0-beta" {
		t.Fatalf("expected 2.0.0-beta, got %s", latest.Version)
	}
}

func TestResolveLatestSkipsArchivedAndDrafts(t *testing.T) {
	store, repo := newTestStore(t)
	seedConfiguration(t, repo, "web")
	ctx := context.Background()

	oldest := publishVersion(t, store, "web", "1.0.0", "")
	newest := publishVersion(t, store, "web", "2.0.0", "")
	if _, err := store.CreateVersion(ctx, "web", "3.0.0", ""); err != nil {
		t.Fatalf("create draft: %v", err)
	}

	latest, err := store.ResolveLatest(ctx, "web", false, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if latest.ID != newest.ID {
		t.Fatalf("expected %s, got %s", newest.Version, latest.Version)
	}

	if _, err := store.Archive(ctx, newest.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	latest, err = store.ResolveLatest(ctx, "web", false, "")
	if err != nil {
		t.Fatalf("resolve after archive: %v", err)
	}
	if latest.ID != oldest.ID {
		t.Fatalf("expected fallback to %s, got %s", oldest.Version, latest.Version)
	}
}

func TestResolveLatestNoCandidates(t *testing.T) {
	store, repo := newTestStore(t)
	seedConfiguration(t, repo, "web")

	_, err := store.ResolveLatest(context.Background(), "web", false, "")
	if !errors.Is(err, ErrNoMatchingVersion) {
		t.Fatalf("expected ErrNoMatchingVersion, got %v", err)
	}
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ResolutionError wrapper, got %T", err)
	}
}

func TestCreateCompositeVersionRejectsCompositeChildren(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	if err := repo.CreateComposite(ctx, CompositeConfiguration{ID: "edge", Name: "edge"}); err != nil {
		t.Fatalf("composite: %v", err)
	}

	_, err := store.CreateCompositeVersion(ctx, "edge", "1.0.0", "", []CompositeItem{
		{ChildID: "other-composite", ChildKind: TargetComposite},
	})
	if !errors.Is(err, ErrCompositeChild) {
		t.Fatalf("expected ErrCompositeChild, got %v", err)
	}
}

func TestCreateCompositeVersionValidatesPins(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	if err := repo.CreateComposite(ctx, CompositeConfiguration{ID: "edge", Name: "edge"}); err != nil {
		t.Fatalf("composite: %v", err)
	}

	_, err := store.CreateCompositeVersion(ctx, "edge", "1.0.0", "", []CompositeItem{
		{ChildID: "web", ChildKind: TargetLeaf, PinnedVersion: "not-semver"},
	})
	if !errors.Is(err, ErrInvalidSemver) {
		t.Fatalf("expected ErrInvalidSemver for pin, got %v", err)
	}
}

func TestCompositeChecksumChangesWithOrder(t *testing.T) {
	items := []CompositeItem{
		{Seq: 0, ChildID: "web", Order: 0},
		{Seq: 1, ChildID: "api", Order: 1},
	}
	swapped := []CompositeItem{
		{Seq: 0, ChildID: "web", Order: 1},
		{Seq: 1, ChildID: "api", Order: 0},
	}

	if compositeChecksum(items) == compositeChecksum(swapped) {
		t.Fatalf("reordering items should change the composite checksum")
	}
}

func TestOrderItemsBreaksTiesByInsertion(t *testing.T) {
	ordered := orderItems([]CompositeItem{
		{Seq: 0, ChildID: "late", Order: 1},
		{Seq: 1, ChildID: "first", Order: 0},
		{Seq: 2, ChildID: "second", Order: 0},
	})

	want := []string{"first", "second", "late"}
	for i, item := range ordered {
		if item.ChildID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], item.ChildID)
		}
	}
}
