package pullconf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	goversion "github.com/hashicorp/go-version"
)

// Version strings are stored as validated semver text. go-version accepts
// looser inputs ("1.2"), so a strict shape check runs first.
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(?:-[0-9A-Za-z][0-9A-Za-z.-]*)?$`)

func parseSemver(raw string) (*goversion.Version, error) {
	if !semverPattern.MatchString(raw) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSemver, raw)
	}
	parsed, err := goversion.NewSemver(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSemver, raw, err)
	}
	return parsed, nil
}

// VersionStoreOption configures a VersionStore.
type VersionStoreOption func(*VersionStore)

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) VersionStoreOption {
	return func(s *VersionStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator overrides version id generation, mainly for tests.
func WithIDGenerator(generate func() string) VersionStoreOption {
	return func(s *VersionStore) {
		if generate != nil {
			s.newID = generate
		}
	}
}

// VersionStore owns the draft -> published -> archived lifecycle and semver
// ordering for leaf and composite configuration versions. Publish and Archive
// go through the repository's optimistic-concurrency update, so two racing
// transitions cannot both win.
type VersionStore struct {
	configs    ConfigurationRepository
	composites CompositeRepository
	clock      func() time.Time
	newID      func() string
}

// NewVersionStore constructs a store over the supplied repositories.
func NewVersionStore(configs ConfigurationRepository, composites CompositeRepository, opts ...VersionStoreOption) *VersionStore {
	s := &VersionStore{
		configs:    configs,
		composites: composites,
		clock:      time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CreateVersion registers a new draft version for a configuration. The
// version string must parse as strict semver and must not collide with an
// existing version of the same configuration.
func (s *VersionStore) CreateVersion(ctx context.Context, configurationID, versionString, channel string) (ConfigurationVersion, error) {
	if _, err := parseSemver(versionString); err != nil {
		return ConfigurationVersion{}, err
	}
	if _, err := s.configs.GetConfiguration(ctx, configurationID); err != nil {
		return ConfigurationVersion{}, resolutionError(configurationID, "", err)
	}
	if _, err := s.configs.FindVersion(ctx, configurationID, versionString); err == nil {
		return ConfigurationVersion{}, fmt.Errorf("%w: %s for configuration %s", ErrVersionConflict, versionString, configurationID)
	}

	created := ConfigurationVersion{
		ID:              s.newID(),
		ConfigurationID: configurationID,
		Version:         versionString,
		Channel:         channel,
		State:           StateDraft,
		CreatedAt:       s.clock(),
	}
	if _, err := s.configs.CreateVersion(ctx, created); err != nil {
		return ConfigurationVersion{}, err
	}
	return created, nil
}

// PutFile adds or replaces a file on a draft version. Published and archived
// content is immutable.
func (s *VersionStore) PutFile(ctx context.Context, versionID, name string, content []byte) (ConfigurationVersion, error) {
	stored, meta, err := s.configs.GetVersion(ctx, versionID)
	if err != nil {
		return ConfigurationVersion{}, err
	}
	if stored.State != StateDraft {
		return ConfigurationVersion{}, fmt.Errorf("%w: cannot edit %s version %s", ErrInvalidTransition, stored.State, versionID)
	}

	file := ConfigurationFile{
		Name:     name,
		Content:  append([]byte(nil), content...),
		Checksum: contentSHA256(content),
	}
	replaced := false
	for i := range stored.Files {
		if stored.Files[i].Name == name {
			stored.Files[i] = file
			replaced = true
			break
		}
	}
	if !replaced {
		stored.Files = append(stored.Files, file)
	}

	if _, err := s.configs.UpdateVersion(ctx, stored, meta); err != nil {
		return ConfigurationVersion{}, err
	}
	return stored, nil
}

// Publish transitions a draft to published, freezing its content and
// computing the version checksum from the sorted per-file checksums.
func (s *VersionStore) Publish(ctx context.Context, versionID string) (ConfigurationVersion, error) {
	stored, meta, err := s.configs.GetVersion(ctx, versionID)
	if err != nil {
		return ConfigurationVersion{}, err
	}
	if stored.State != StateDraft {
		return ConfigurationVersion{}, fmt.Errorf("%w: publish requires draft, version %s is %s", ErrInvalidTransition, versionID, stored.State)
	}

	stored.State = StatePublished
	stored.PublishedAt = s.clock()
	stored.Checksum = versionChecksum(stored.Files)
	if _, err := s.configs.UpdateVersion(ctx, stored, meta); err != nil {
		return ConfigurationVersion{}, err
	}
	return stored, nil
}

// Archive excludes a published version from latest-resolution. The version
// remains resolvable through an explicit pin.
func (s *VersionStore) Archive(ctx context.Context, versionID string) (ConfigurationVersion, error) {
	stored, meta, err := s.configs.GetVersion(ctx, versionID)
	if err != nil {
		return ConfigurationVersion{}, err
	}
	if stored.State != StatePublished {
		return ConfigurationVersion{}, fmt.Errorf("%w: archive requires published, version %s is %s", ErrInvalidTransition, versionID, stored.State)
	}

	stored.State = StateArchived
	if _, err := s.configs.UpdateVersion(ctx, stored, meta); err != nil {
		return ConfigurationVersion{}, err
	}
	return stored, nil
}

// ResolveLatest returns the highest published, non-archived semver for a
// configuration. Versions carrying a channel label are admitted only when the
// request names that channel; prereleases are excluded unless
// includePrerelease is set. Semver total ordering makes ties impossible.
func (s *VersionStore) ResolveLatest(ctx context.Context, configurationID string, includePrerelease bool, channel string) (ConfigurationVersion, error) {
	versions, err := s.configs.ListVersions(ctx, configurationID)
	if err != nil {
		return ConfigurationVersion{}, err
	}
	best, ok, err := pickLatest(versions, includePrerelease, channel)
	if err != nil {
		return ConfigurationVersion{}, err
	}
	if !ok {
		return ConfigurationVersion{}, resolutionError(configurationID, "", fmt.Errorf("%w (channel=%q, prerelease=%v)", ErrNoMatchingVersion, channel, includePrerelease))
	}
	return best, nil
}

func pickLatest(versions []ConfigurationVersion, includePrerelease bool, channel string) (ConfigurationVersion, bool, error) {
	var best ConfigurationVersion
	var bestParsed *goversion.Version
	for _, candidate := range versions {
		if candidate.State != StatePublished {
			continue
		}
		if candidate.Channel != "" && candidate.Channel != channel {
			continue
		}
		parsed, err := parseSemver(candidate.Version)
		if err != nil {
			return ConfigurationVersion{}, false, err
		}
		if parsed.Prerelease() != "" && !includePrerelease {
			continue
		}
		if bestParsed == nil || parsed.GreaterThan(bestParsed) {
			best = candidate
			bestParsed = parsed
		}
	}
	return best, bestParsed != nil, nil
}

// CreateCompositeVersion registers a new draft composite version with its
// ordered item list. Items referencing another composite are rejected here so
// resolution never needs cycle detection.
func (s *VersionStore) CreateCompositeVersion(ctx context.Context, compositeID, versionString, channel string, items []CompositeItem) (CompositeConfigurationVersion, error) {
	if _, err := parseSemver(versionString); err != nil {
		return CompositeConfigurationVersion{}, err
	}
	if _, err := s.composites.GetComposite(ctx, compositeID); err != nil {
		return CompositeConfigurationVersion{}, resolutionError(compositeID, "", err)
	}
	if _, err := s.composites.FindCompositeVersion(ctx, compositeID, versionString); err == nil {
		return CompositeConfigurationVersion{}, fmt.Errorf("%w: %s for composite %s", ErrVersionConflict, versionString, compositeID)
	}

	normalized := make([]CompositeItem, len(items))
	for i, item := range items {
		if item.ChildKind == "" {
			item.ChildKind = TargetLeaf
		}
		if item.ChildKind != TargetLeaf {
			return CompositeConfigurationVersion{}, fmt.Errorf("%w: item %d references %s %s", ErrCompositeChild, i, item.ChildKind, item.ChildID)
		}
		if item.PinnedVersion != "" {
			if _, err := parseSemver(item.PinnedVersion); err != nil {
				return CompositeConfigurationVersion{}, err
			}
		}
		item.Seq = i
		normalized[i] = item
	}

	created := CompositeConfigurationVersion{
		ID:          s.newID(),
		CompositeID: compositeID,
		Version:     versionString,
		Channel:     channel,
		State:       StateDraft,
		Items:       normalized,
		CreatedAt:   s.clock(),
	}
	if _, err := s.composites.CreateCompositeVersion(ctx, created); err != nil {
		return CompositeConfigurationVersion{}, err
	}
	return created, nil
}

// PublishComposite freezes a draft composite version. Its checksum covers the
// ordered item list, so reordering items yields a different checksum.
func (s *VersionStore) PublishComposite(ctx context.Context, versionID string) (CompositeConfigurationVersion, error) {
	stored, meta, err := s.composites.GetCompositeVersion(ctx, versionID)
	if err != nil {
		return CompositeConfigurationVersion{}, err
	}
	if stored.State != StateDraft {
		return CompositeConfigurationVersion{}, fmt.Errorf("%w: publish requires draft, version %s is %s", ErrInvalidTransition, versionID, stored.State)
	}

	stored.State = StatePublished
	stored.PublishedAt = s.clock()
	stored.Checksum = compositeChecksum(stored.Items)
	if _, err := s.composites.UpdateCompositeVersion(ctx, stored, meta); err != nil {
		return CompositeConfigurationVersion{}, err
	}
	return stored, nil
}

// ArchiveComposite excludes a published composite version from
// latest-resolution.
func (s *VersionStore) ArchiveComposite(ctx context.Context, versionID string) (CompositeConfigurationVersion, error) {
	stored, meta, err := s.composites.GetCompositeVersion(ctx, versionID)
	if err != nil {
		return CompositeConfigurationVersion{}, err
	}
	if stored.State != StatePublished {
		return CompositeConfigurationVersion{}, fmt.Errorf("%w: archive requires published, version %s is %s", ErrInvalidTransition, versionID, stored.State)
	}

	stored.State = StateArchived
	if _, err := s.composites.UpdateCompositeVersion(ctx, stored, meta); err != nil {
		return CompositeConfigurationVersion{}, err
	}
	return stored, nil
}

// ResolveLatestComposite mirrors ResolveLatest for composite versions.
func (s *VersionStore) ResolveLatestComposite(ctx context.Context, compositeID string, includePrerelease bool, channel string) (CompositeConfigurationVersion, error) {
	versions, err := s.composites.ListCompositeVersions(ctx, compositeID)
	if err != nil {
		return CompositeConfigurationVersion{}, err
	}

	var best CompositeConfigurationVersion
	var bestParsed *goversion.Version
	for _, candidate := range versions {
		if candidate.State != StatePublished {
			continue
		}
		if candidate.Channel != "" && candidate.Channel != channel {
			continue
		}
		parsed, err := parseSemver(candidate.Version)
		if err != nil {
			return CompositeConfigurationVersion{}, err
		}
		if parsed.Prerelease() != "" && !includePrerelease {
			continue
		}
		if bestParsed == nil || parsed.GreaterThan(bestParsed) {
			best = candidate
			bestParsed = parsed
		}
	}
	if bestParsed == nil {
		return CompositeConfigurationVersion{}, resolutionError(compositeID, "", fmt.Errorf("%w (channel=%q, prerelease=%v)", ErrNoMatchingVersion, channel, includePrerelease))
	}
	return best, nil
}

// contentSHA256 returns the lowercase hex SHA-256 of content.
func contentSHA256(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// versionChecksum freezes a version's content as the hash of its sorted
// per-file checksums.
func versionChecksum(files []ConfigurationFile) string {
	lines := make([]string, 0, len(files))
	for _, file := range files {
		lines = append(lines, file.Name+":"+file.Checksum)
	}
	sort.Strings(lines)
	return contentSHA256([]byte(strings.Join(lines, "\n")))
}

// compositeChecksum covers the ordered item list of a composite version.
func compositeChecksum(items []CompositeItem) string {
	ordered := orderItems(items)
	var b strings.Builder
	for _, item := range ordered {
		fmt.Fprintf(&b, "%d:%s:%s\n", item.Order, item.ChildID, item.PinnedVersion)
	}
	return contentSHA256([]byte(b.String()))
}

// orderItems sorts composite items by Order, breaking ties by insertion id.
func orderItems(items []CompositeItem) []CompositeItem {
	ordered := append([]CompositeItem(nil), items...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Order == ordered[j].Order {
			return ordered[i].Seq < ordered[j].Seq
		}
		return ordered[i].Order < ordered[j].Order
	})
	return ordered
}
