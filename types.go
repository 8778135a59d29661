package pullconf

import (
	"context"
	"time"
)

// LifecycleState tracks where a configuration version sits in its
// draft -> published -> archived lifecycle.
type LifecycleState string

const (
	// StateDraft marks a version whose content may still be edited.
	StateDraft LifecycleState = "draft"
	// StatePublished marks a version whose content and checksum are frozen.
	StatePublished LifecycleState = "published"
	// StateArchived marks a version excluded from latest-resolution but still
	// reachable through an explicit pin.
	StateArchived LifecycleState = "archived"
)

// TargetKind distinguishes leaf configurations from composites wherever a
// reference could point at either.
type TargetKind string

const (
	// TargetLeaf references a plain Configuration.
	TargetLeaf TargetKind = "configuration"
	// TargetComposite references a CompositeConfiguration.
	TargetComposite TargetKind = "composite"
)

// Configuration is a named leaf document that nodes can be assigned to.
type Configuration struct {
	ID   string
	Name string
}

// ConfigurationFile is one stored file belonging to a configuration version.
// Checksum is the lowercase hex SHA-256 of Content.
type ConfigurationFile struct {
	Name     string
	Content  []byte
	Checksum string
}

// ConfigurationVersion is one semver-identified revision of a configuration.
// Files and Checksum are frozen once State reaches StatePublished.
type ConfigurationVersion struct {
	ID              string
	ConfigurationID string
	Version         string
	Channel         string
	State           LifecycleState
	Files           []ConfigurationFile
	Checksum        string
	CreatedAt       time.Time
	PublishedAt     time.Time
}

// CompositeConfiguration is a named ordered composition of leaf
// configurations.
type CompositeConfiguration struct {
	ID   string
	Name string
}

// CompositeItem references one child configuration inside a composite
// version. Seq is the insertion id used to break Order ties. ChildKind is a
// tagged variant so composite-of-composite is rejected at validation time
// instead of requiring cycle detection during resolution.
type CompositeItem struct {
	Seq           int
	ChildID       string
	ChildKind     TargetKind
	PinnedVersion string
	Order         int
}

// CompositeConfigurationVersion is one semver-identified revision of a
// composite, owning its ordered item list.
type CompositeConfigurationVersion struct {
	ID          string
	CompositeID string
	Version     string
	Channel     string
	State       LifecycleState
	Items       []CompositeItem
	Checksum    string
	CreatedAt   time.Time
	PublishedAt time.Time
}

// Scope is a named override tier. Precedence is a dense 0..N-1 rank where
// ascending means lower priority: during a merge the highest-precedence scope
// wins. Rule optionally holds an activation expression evaluated against node
// attributes; nodes matching the rule gain the scope without a static
// assignment.
type Scope struct {
	ID         string
	Name       string
	Label      string
	Precedence int
	Rule       string
	Metadata   map[string]any
}

// clone returns a copy of s with Metadata detached from the original.
func (s Scope) clone() Scope {
	out := s
	out.Metadata = copyMetadata(s.Metadata)
	return out
}

func (s Scope) isZero() bool {
	return s.ID == "" && s.Name == "" && s.Label == "" && s.Precedence == 0 && s.Rule == "" && len(s.Metadata) == 0
}

// ParameterState tracks the lifecycle of a parameter file revision.
type ParameterState string

const (
	// ParameterDraft marks content still being edited.
	ParameterDraft ParameterState = "draft"
	// ParameterActive marks the single revision consulted during merges for
	// its (scope, configuration) pair.
	ParameterActive ParameterState = "active"
	// ParameterArchived marks a superseded revision.
	ParameterArchived ParameterState = "archived"
)

// ParameterFormat identifies how ParameterFile content is encoded.
type ParameterFormat string

const (
	// FormatJSON content decodes with encoding/json.
	FormatJSON ParameterFormat = "json"
	// FormatYAML content decodes with gopkg.in/yaml.v3.
	FormatYAML ParameterFormat = "yaml"
)

// ParameterFile holds parameter content for one (scope, configuration) pair.
// At most one revision per pair may be ParameterActive.
type ParameterFile struct {
	ID              string
	ScopeID         string
	ConfigurationID string
	Revision        int
	Format          ParameterFormat
	Content         []byte
	State           ParameterState
	UpdatedAt       time.Time
}

// Node is a managed machine pulling configuration from the server. ScopeIDs
// are its statically assigned override tiers; Attributes feed scope
// activation rules. TargetID/TargetKind name the configuration (leaf or
// composite) the node deploys, optionally pinned to an exact version or
// subscribed to a prerelease channel.
type Node struct {
	ID                string
	Name              string
	ScopeIDs          []string
	Attributes        map[string]any
	TargetKind        TargetKind
	TargetID          string
	PinnedVersion     string
	Channel           string
	IncludePrerelease bool
	// ItemPins overrides composite item pins per child configuration id.
	ItemPins map[string]string
}

// Meta is storage-owned metadata used for optimistic concurrency control.
// Mutating repository calls must reject writes whose ETag no longer matches
// the stored record.
type Meta struct {
	ETag      string
	UpdatedAt time.Time
}

// ConfigurationRepository persists leaf configurations and their versions.
type ConfigurationRepository interface {
	GetConfiguration(ctx context.Context, id string) (Configuration, error)
	GetConfigurationByName(ctx context.Context, name string) (Configuration, error)
	CreateConfiguration(ctx context.Context, cfg Configuration) error
	ListVersions(ctx context.Context, configurationID string) ([]ConfigurationVersion, error)
	GetVersion(ctx context.Context, versionID string) (ConfigurationVersion, Meta, error)
	FindVersion(ctx context.Context, configurationID, version string) (ConfigurationVersion, error)
	CreateVersion(ctx context.Context, version ConfigurationVersion) (Meta, error)
	// UpdateVersion replaces the stored record when meta.ETag matches,
	// returning the successor Meta. ErrConcurrentUpdate otherwise.
	UpdateVersion(ctx context.Context, version ConfigurationVersion, meta Meta) (Meta, error)
}

// CompositeRepository persists composite configurations and their versions.
type CompositeRepository interface {
	GetComposite(ctx context.Context, id string) (CompositeConfiguration, error)
	GetCompositeByName(ctx context.Context, name string) (CompositeConfiguration, error)
	CreateComposite(ctx context.Context, composite CompositeConfiguration) error
	ListCompositeVersions(ctx context.Context, compositeID string) ([]CompositeConfigurationVersion, error)
	GetCompositeVersion(ctx context.Context, versionID string) (CompositeConfigurationVersion, Meta, error)
	FindCompositeVersion(ctx context.Context, compositeID, version string) (CompositeConfigurationVersion, error)
	CreateCompositeVersion(ctx context.Context, version CompositeConfigurationVersion) (Meta, error)
	UpdateCompositeVersion(ctx context.Context, version CompositeConfigurationVersion, meta Meta) (Meta, error)
}

// ScopeRepository persists the global scope set. ReplaceScopes writes the
// whole ordered set in one transaction so readers never observe duplicate or
// missing precedence values mid-reorder.
type ScopeRepository interface {
	ListScopes(ctx context.Context) ([]Scope, error)
	GetScopeByName(ctx context.Context, name string) (Scope, error)
	CreateScope(ctx context.Context, scope Scope) error
	ReplaceScopes(ctx context.Context, scopes []Scope) error
}

// ParameterRepository persists parameter file revisions. ActivateParameterFile
// atomically flips the target revision to ParameterActive and archives any
// previously active revision for the same (scope, configuration) pair.
type ParameterRepository interface {
	ActiveParameterFile(ctx context.Context, scopeID, configurationID string) (ParameterFile, bool, error)
	GetParameterFile(ctx context.Context, fileID string) (ParameterFile, error)
	ListParameterFiles(ctx context.Context, scopeID, configurationID string) ([]ParameterFile, error)
	CreateParameterFile(ctx context.Context, file ParameterFile) (Meta, error)
	ActivateParameterFile(ctx context.Context, fileID string) error
}

// NodeRepository persists node assignments.
type NodeRepository interface {
	GetNode(ctx context.Context, id string) (Node, error)
	SaveNode(ctx context.Context, node Node) error
}

// Repository is the full persistence contract the engine consumes. Callers
// supply an implementation backed by their database; MemoryRepository is the
// in-memory reference used by tests and examples.
type Repository interface {
	ConfigurationRepository
	CompositeRepository
	ScopeRepository
	ParameterRepository
	NodeRepository
}

func copyMetadata(origin map[string]any) map[string]any {
	if len(origin) == 0 {
		return nil
	}
	out := make(map[string]any, len(origin))
	for key, value := range origin {
		out[key] = value
	}
	return out
}
