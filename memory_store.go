package pullconf

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository implementation intended for
// tests and examples. Every read returns a detached copy and every write
// rotates the record's ETag, so optimistic-concurrency behavior matches what a
// database-backed implementation would exhibit.
type MemoryRepository struct {
	mu sync.RWMutex

	configurations    map[string]Configuration
	versions          map[string]memoryRecord[ConfigurationVersion]
	composites        map[string]CompositeConfiguration
	compositeVersions map[string]memoryRecord[CompositeConfigurationVersion]
	scopes            []Scope
	parameters        map[string]memoryRecord[ParameterFile]
	nodes             map[string]Node

	clock func() time.Time
}

type memoryRecord[T any] struct {
	snapshot T
	meta     Meta
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		configurations:    map[string]Configuration{},
		versions:          map[string]memoryRecord[ConfigurationVersion]{},
		composites:        map[string]CompositeConfiguration{},
		compositeVersions: map[string]memoryRecord[CompositeConfigurationVersion]{},
		parameters:        map[string]memoryRecord[ParameterFile]{},
		nodes:             map[string]Node{},
		clock:             time.Now,
	}
}

func (r *MemoryRepository) nextMeta() Meta {
	return Meta{ETag: uuid.NewString(), UpdatedAt: r.clock()}
}

// GetConfiguration looks a configuration up by id.
func (r *MemoryRepository) GetConfiguration(_ context.Context, id string) (Configuration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configurations[id]
	if !ok {
		return Configuration{}, fmt.Errorf("%w: configuration %s", ErrNotFound, id)
	}
	return cfg, nil
}

// GetConfigurationByName looks a configuration up by its unique name.
func (r *MemoryRepository) GetConfigurationByName(_ context.Context, name string) (Configuration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cfg := range r.configurations {
		if cfg.Name == name {
			return cfg, nil
		}
	}
	return Configuration{}, fmt.Errorf("%w: configuration named %s", ErrNotFound, name)
}

// CreateConfiguration registers a configuration. Names must be unique.
func (r *MemoryRepository) CreateConfiguration(_ context.Context, cfg Configuration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.configurations[cfg.ID]; exists {
		return fmt.Errorf("pullconf: configuration %s already exists", cfg.ID)
	}
	for _, existing := range r.configurations {
		if existing.Name == cfg.Name {
			return fmt.Errorf("pullconf: configuration named %s already exists", cfg.Name)
		}
	}
	r.configurations[cfg.ID] = cfg
	return nil
}

// ListVersions returns every stored version of a configuration, oldest first.
func (r *MemoryRepository) ListVersions(_ context.Context, configurationID string) ([]ConfigurationVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ConfigurationVersion
	for _, record := range r.versions {
		if record.snapshot.ConfigurationID == configurationID {
			out = append(out, cloneConfigurationVersion(record.snapshot))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Version < out[j].Version
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetVersion returns a version snapshot with its concurrency metadata.
func (r *MemoryRepository) GetVersion(_ context.Context, versionID string) (ConfigurationVersion, Meta, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.versions[versionID]
	if !ok {
		return ConfigurationVersion{}, Meta{}, fmt.Errorf("%w: version %s", ErrNotFound, versionID)
	}
	return cloneConfigurationVersion(record.snapshot), record.meta, nil
}

// FindVersion looks a version up by its configuration and version string.
func (r *MemoryRepository) FindVersion(_ context.Context, configurationID, version string) (ConfigurationVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, record := range r.versions {
		if record.snapshot.ConfigurationID == configurationID && record.snapshot.Version == version {
			return cloneConfigurationVersion(record.snapshot), nil
		}
	}
	return ConfigurationVersion{}, fmt.Errorf("%w: version %s of configuration %s", ErrNotFound, version, configurationID)
}

// CreateVersion stores a new version record. The (configuration, version)
// pair is enforced unique under the store lock, so racing creators cannot
// both slip past a caller-side existence check.
func (r *MemoryRepository) CreateVersion(_ context.Context, version ConfigurationVersion) (Meta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.versions[version.ID]; exists {
		return Meta{}, fmt.Errorf("pullconf: version %s already exists", version.ID)
	}
	for _, record := range r.versions {
		if record.snapshot.ConfigurationID == version.ConfigurationID && record.snapshot.Version == version.Version {
			return Meta{}, fmt.Errorf("%w: %s for configuration %s", ErrVersionConflict, version.Version, version.ConfigurationID)
		}
	}
	meta := r.nextMeta()
	r.versions[version.ID] = memoryRecord[ConfigurationVersion]{
		snapshot: cloneConfigurationVersion(version),
		meta:     meta,
	}
	return meta, nil
}

// UpdateVersion replaces a stored version when meta.ETag still matches.
func (r *MemoryRepository) UpdateVersion(_ context.Context, version ConfigurationVersion, meta Meta) (Meta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.versions[version.ID]
	if !ok {
		return Meta{}, fmt.Errorf("%w: version %s", ErrNotFound, version.ID)
	}
	if record.meta.ETag != meta.ETag {
		return Meta{}, fmt.Errorf("%w: version %s", ErrConcurrentUpdate, version.ID)
	}
	next := r.nextMeta()
	r.versions[version.ID] = memoryRecord[ConfigurationVersion]{
		snapshot: cloneConfigurationVersion(version),
		meta:     next,
	}
	return next, nil
}

// GetComposite looks a composite up by id.
func (r *MemoryRepository) GetComposite(_ context.Context, id string) (CompositeConfiguration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	composite, ok := r.composites[id]
	if !ok {
		return CompositeConfiguration{}, fmt.Errorf("%w: composite %s", ErrNotFound, id)
	}
	return composite, nil
}

// GetCompositeByName looks a composite up by its unique name.
func (r *MemoryRepository) GetCompositeByName(_ context.Context, name string) (CompositeConfiguration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, composite := range r.composites {
		if composite.Name == name {
			return composite, nil
		}
	}
	return CompositeConfiguration{}, fmt.Errorf("%w: composite named %s", ErrNotFound, name)
}

// CreateComposite registers a composite. Names must be unique.
func (r *MemoryRepository) CreateComposite(_ context.Context, composite CompositeConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.composites[composite.ID]; exists {
		return fmt.Errorf("pullconf: composite %s already exists", composite.ID)
	}
	for _, existing := range r.composites {
		if existing.Name == composite.Name {
			return fmt.Errorf("pullconf: composite named %s already exists", composite.Name)
		}
	}
	r.composites[composite.ID] = composite
	return nil
}

// ListCompositeVersions returns every stored version of a composite, oldest
// first.
func (r *MemoryRepository) ListCompositeVersions(_ context.Context, compositeID string) ([]CompositeConfigurationVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []CompositeConfigurationVersion
	for _, record := range r.compositeVersions {
		if record.snapshot.CompositeID == compositeID {
			out = append(out, cloneCompositeVersion(record.snapshot))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Version < out[j].Version
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetCompositeVersion returns a composite version snapshot with its
// concurrency metadata.
func (r *MemoryRepository) GetCompositeVersion(_ context.Context, versionID string) (CompositeConfigurationVersion, Meta, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.compositeVersions[versionID]
	if !ok {
		return CompositeConfigurationVersion{}, Meta{}, fmt.Errorf("%w: composite version %s", ErrNotFound, versionID)
	}
	return cloneCompositeVersion(record.snapshot), record.meta, nil
}

// FindCompositeVersion looks a composite version up by its composite and
// version string.
func (r *MemoryRepository) FindCompositeVersion(_ context.Context, compositeID, version string) (CompositeConfigurationVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, record := range r.compositeVersions {
		if record.snapshot.CompositeID == compositeID && record.snapshot.Version == version {
			return cloneCompositeVersion(record.snapshot), nil
		}
	}
	return CompositeConfigurationVersion{}, fmt.Errorf("%w: version %s of composite %s", ErrNotFound, version, compositeID)
}

// CreateCompositeVersion stores a new composite version record, enforcing
// (composite, version) uniqueness under the store lock.
func (r *MemoryRepository) CreateCompositeVersion(_ context.Context, version CompositeConfigurationVersion) (Meta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.compositeVersions[version.ID]; exists {
		return Meta{}, fmt.Errorf("pullconf: composite version %s already exists", version.ID)
	}
	for _, record := range r.compositeVersions {
		if record.snapshot.CompositeID == version.CompositeID && record.snapshot.Version == version.Version {
			return Meta{}, fmt.Errorf("%w: %s for composite %s", ErrVersionConflict, version.Version, version.CompositeID)
		}
	}
	meta := r.nextMeta()
	r.compositeVersions[version.ID] = memoryRecord[CompositeConfigurationVersion]{
		snapshot: cloneCompositeVersion(version),
		meta:     meta,
	}
	return meta, nil
}

// UpdateCompositeVersion replaces a stored composite version when meta.ETag
// still matches.
func (r *MemoryRepository) UpdateCompositeVersion(_ context.Context, version CompositeConfigurationVersion, meta Meta) (Meta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.compositeVersions[version.ID]
	if !ok {
		return Meta{}, fmt.Errorf("%w: composite version %s", ErrNotFound, version.ID)
	}
	if record.meta.ETag != meta.ETag {
		return Meta{}, fmt.Errorf("%w: composite version %s", ErrConcurrentUpdate, version.ID)
	}
	next := r.nextMeta()
	r.compositeVersions[version.ID] = memoryRecord[CompositeConfigurationVersion]{
		snapshot: cloneCompositeVersion(version),
		meta:     next,
	}
	return next, nil
}

// ListScopes returns the scope set ascending by precedence.
func (r *MemoryRepository) ListScopes(_ context.Context) ([]Scope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Scope, 0, len(r.scopes))
	for _, scope := range r.scopes {
		out = append(out, scope.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Precedence < out[j].Precedence })
	return out, nil
}

// GetScopeByName looks a scope up by its unique name.
func (r *MemoryRepository) GetScopeByName(_ context.Context, name string) (Scope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, scope := range r.scopes {
		if scope.Name == name {
			return scope.clone(), nil
		}
	}
	return Scope{}, fmt.Errorf("%w: scope named %s", ErrNotFound, name)
}

// CreateScope appends a scope to the set.
func (r *MemoryRepository) CreateScope(_ context.Context, scope Scope) error {
	if scope.Name == "" {
		return ErrScopeNameRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.scopes {
		if existing.Name == scope.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateScopeName, scope.Name)
		}
	}
	r.scopes = append(r.scopes, scope.clone())
	return nil
}

// ReplaceScopes swaps the entire scope set in one step, so readers never
// observe a half-applied reorder.
func (r *MemoryRepository) ReplaceScopes(_ context.Context, scopes []Scope) error {
	replacement := make([]Scope, 0, len(scopes))
	for _, scope := range scopes {
		replacement = append(replacement, scope.clone())
	}
	r.mu.Lock()
	r.scopes = replacement
	r.mu.Unlock()
	return nil
}

// ActiveParameterFile returns the single active revision for a
// (scope, configuration) pair, reporting absence without error.
func (r *MemoryRepository) ActiveParameterFile(_ context.Context, scopeID, configurationID string) (ParameterFile, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, record := range r.parameters {
		file := record.snapshot
		if file.ScopeID == scopeID && file.ConfigurationID == configurationID && file.State == ParameterActive {
			return cloneParameterFile(file), true, nil
		}
	}
	return ParameterFile{}, false, nil
}

// GetParameterFile looks a parameter file revision up by id.
func (r *MemoryRepository) GetParameterFile(_ context.Context, fileID string) (ParameterFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.parameters[fileID]
	if !ok {
		return ParameterFile{}, fmt.Errorf("%w: parameter file %s", ErrNotFound, fileID)
	}
	return cloneParameterFile(record.snapshot), nil
}

// ListParameterFiles returns every revision for a (scope, configuration)
// pair, oldest revision first.
func (r *MemoryRepository) ListParameterFiles(_ context.Context, scopeID, configurationID string) ([]ParameterFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ParameterFile
	for _, record := range r.parameters {
		file := record.snapshot
		if file.ScopeID == scopeID && file.ConfigurationID == configurationID {
			out = append(out, cloneParameterFile(file))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Revision < out[j].Revision })
	return out, nil
}

// CreateParameterFile stores a new revision. Missing ids and revision numbers
// are assigned automatically.
func (r *MemoryRepository) CreateParameterFile(_ context.Context, file ParameterFile) (Meta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if _, exists := r.parameters[file.ID]; exists {
		return Meta{}, fmt.Errorf("pullconf: parameter file %s already exists", file.ID)
	}
	if file.Revision == 0 {
		for _, record := range r.parameters {
			existing := record.snapshot
			if existing.ScopeID == file.ScopeID && existing.ConfigurationID == file.ConfigurationID && existing.Revision >= file.Revision {
				file.Revision = existing.Revision + 1
			}
		}
		if file.Revision == 0 {
			file.Revision = 1
		}
	}
	if file.State == "" {
		file.State = ParameterDraft
	}
	meta := r.nextMeta()
	file.UpdatedAt = meta.UpdatedAt
	r.parameters[file.ID] = memoryRecord[ParameterFile]{
		snapshot: cloneParameterFile(file),
		meta:     meta,
	}
	return meta, nil
}

// ActivateParameterFile flips a revision to active and archives any previously
// active revision for the same (scope, configuration) pair, in one step.
func (r *MemoryRepository) ActivateParameterFile(_ context.Context, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.parameters[fileID]
	if !ok {
		return fmt.Errorf("%w: parameter file %s", ErrNotFound, fileID)
	}
	target := record.snapshot
	now := r.clock()

	for id, other := range r.parameters {
		file := other.snapshot
		if id == fileID || file.ScopeID != target.ScopeID || file.ConfigurationID != target.ConfigurationID {
			continue
		}
		if file.State == ParameterActive {
			file.State = ParameterArchived
			file.UpdatedAt = now
			r.parameters[id] = memoryRecord[ParameterFile]{
				snapshot: file,
				meta:     Meta{ETag: uuid.NewString(), UpdatedAt: now},
			}
		}
	}

	target.State = ParameterActive
	target.UpdatedAt = now
	r.parameters[fileID] = memoryRecord[ParameterFile]{
		snapshot: target,
		meta:     Meta{ETag: uuid.NewString(), UpdatedAt: now},
	}
	return nil
}

// GetNode looks a node up by id.
func (r *MemoryRepository) GetNode(_ context.Context, id string) (Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	return cloneNode(node), nil
}

// SaveNode stores or replaces a node record.
func (r *MemoryRepository) SaveNode(_ context.Context, node Node) error {
	r.mu.Lock()
	r.nodes[node.ID] = cloneNode(node)
	r.mu.Unlock()
	return nil
}

func cloneConfigurationVersion(version ConfigurationVersion) ConfigurationVersion {
	out := version
	out.Files = make([]ConfigurationFile, len(version.Files))
	for i, file := range version.Files {
		out.Files[i] = ConfigurationFile{
			Name:     file.Name,
			Content:  append([]byte(nil), file.Content...),
			Checksum: file.Checksum,
		}
	}
	return out
}

func cloneCompositeVersion(version CompositeConfigurationVersion) CompositeConfigurationVersion {
	out := version
	out.Items = append([]CompositeItem(nil), version.Items...)
	return out
}

func cloneParameterFile(file ParameterFile) ParameterFile {
	out := file
	out.Content = append([]byte(nil), file.Content...)
	return out
}

func cloneNode(node Node) Node {
	out := node
	out.ScopeIDs = append([]string(nil), node.ScopeIDs...)
	out.Attributes = copyMetadata(node.Attributes)
	out.ItemPins = nil
	if len(node.ItemPins) > 0 {
		out.ItemPins = make(map[string]string, len(node.ItemPins))
		for key, value := range node.ItemPins {
			out.ItemPins[key] = value
		}
	}
	return out
}
