package pullconf

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/goliatone/go-pullconf/internal/paramdoc"
	"github.com/goliatone/go-pullconf/pkg/activity"
)

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	evaluator    Evaluator
	programCache ProgramCache
	functions    *FunctionRegistry
	logger       EvaluatorLogger
	hooks        activity.Hooks
	activity     activity.Config
	decoder      *paramdoc.Decoder
	clock        func() time.Time
}

// WithEvaluator selects the rule engine used for scope activation rules.
// The expr engine is the default; NewCELEvaluator and NewJSEvaluator are the
// alternatives.
func WithEvaluator(e Evaluator) EngineOption {
	return func(cfg *engineConfig) {
		cfg.evaluator = e
	}
}

// WithProgramCache registers a compiled-rule cache on the engine.
func WithProgramCache(cache ProgramCache) EngineOption {
	return func(cfg *engineConfig) {
		cfg.programCache = cache
	}
}

// WithFunctionRegistry exposes custom functions to scope activation rules.
func WithFunctionRegistry(registry *FunctionRegistry) EngineOption {
	return func(cfg *engineConfig) {
		if registry == nil {
			return
		}
		cfg.functions = registry.Clone()
	}
}

// WithEvaluatorLogger attaches a rule evaluation observer.
func WithEvaluatorLogger(logger EvaluatorLogger) EngineOption {
	return func(cfg *engineConfig) {
		if logger == nil {
			cfg.logger = noopEvaluatorLogger{}
			return
		}
		cfg.logger = logger
	}
}

// WithActivityHooks attaches audit hooks notified on publish, archive,
// reorder and parameter activation. Nil entries are dropped.
func WithActivityHooks(hooks activity.Hooks) EngineOption {
	return func(cfg *engineConfig) {
		for _, hook := range hooks {
			if hook != nil {
				cfg.hooks = append(cfg.hooks, hook)
			}
		}
	}
}

// WithActivityConfig overrides audit emission defaults.
func WithActivityConfig(config activity.Config) EngineOption {
	return func(cfg *engineConfig) {
		cfg.activity = config
	}
}

// WithParameterDecoder replaces the default parameter payload decoder.
func WithParameterDecoder(decoder *paramdoc.Decoder) EngineOption {
	return func(cfg *engineConfig) {
		if decoder != nil {
			cfg.decoder = decoder
		}
	}
}

// WithEngineClock overrides the engine time source, mainly for tests.
func WithEngineClock(clock func() time.Time) EngineOption {
	return func(cfg *engineConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Engine is the façade the pull-distribution server calls into. All state
// lives behind the Repository; every operation is request-scoped, so any
// number of resolutions for different nodes run in parallel.
type Engine struct {
	repo      Repository
	versions  *VersionStore
	resolver  *CompositeResolver
	assembler *BundleAssembler
	evaluator Evaluator
	logger    EvaluatorLogger
	decoder   *paramdoc.Decoder
	emitter   *activity.Emitter
	clock     func() time.Time
}

// NewEngine wires the engine over a repository implementation.
func NewEngine(repo Repository, opts ...EngineOption) *Engine {
	cfg := engineConfig{
		activity: activity.Config{Enabled: true},
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	evaluator := cfg.evaluator
	if evaluator == nil {
		var exprOpts []ExprEvaluatorOption
		if cfg.programCache != nil {
			exprOpts = append(exprOpts, ExprWithProgramCache(cfg.programCache))
		}
		if cfg.functions != nil {
			exprOpts = append(exprOpts, ExprWithFunctionRegistry(cfg.functions))
		}
		evaluator = NewExprEvaluator(exprOpts...)
	}

	logger := cfg.logger
	if logger == nil {
		logger = noopEvaluatorLogger{}
	}

	decoder := cfg.decoder
	if decoder == nil {
		decoder = paramdoc.New(paramdoc.WithUseNumber())
	}

	versions := NewVersionStore(repo, repo, WithClock(cfg.clock))
	return &Engine{
		repo:      repo,
		versions:  versions,
		resolver:  NewCompositeResolver(repo, versions),
		assembler: NewBundleAssembler(),
		evaluator: evaluator,
		logger:    logger,
		decoder:   decoder,
		emitter:   activity.NewEmitter(cfg.hooks, cfg.activity),
		clock:     cfg.clock,
	}
}

// Versions exposes the lifecycle store for version administration.
func (e *Engine) Versions() *VersionStore {
	return e.versions
}

// ResolveConfigurationForNode maps a node to its concrete target version(s):
// one resolved item for a leaf assignment, the ordered children for a
// composite.
func (e *Engine) ResolveConfigurationForNode(ctx context.Context, nodeID string) (Resolution, error) {
	return e.resolveNode(ctx, nodeID, false)
}

// PreviewConfigurationForNode resolves like ResolveConfigurationForNode but
// admits draft versions, letting operators inspect a bundle before
// publishing.
func (e *Engine) PreviewConfigurationForNode(ctx context.Context, nodeID string) (Resolution, error) {
	return e.resolveNode(ctx, nodeID, true)
}

func (e *Engine) resolveNode(ctx context.Context, nodeID string, draftPreview bool) (Resolution, error) {
	node, err := e.repo.GetNode(ctx, nodeID)
	if err != nil {
		return Resolution{}, err
	}
	if node.TargetID == "" {
		return Resolution{}, &ResolutionError{Target: nodeID, Err: ErrNoAssignedTarget}
	}

	opts := ResolveOptions{
		IncludePrerelease: node.IncludePrerelease,
		Channel:           node.Channel,
		DraftPreview:      draftPreview,
		ItemPins:          node.ItemPins,
	}

	if node.TargetKind == TargetComposite {
		composite, err := e.repo.GetComposite(ctx, node.TargetID)
		if err != nil {
			return Resolution{}, resolutionError(node.TargetID, "", err)
		}

		var version CompositeConfigurationVersion
		if node.PinnedVersion != "" {
			version, err = e.repo.FindCompositeVersion(ctx, composite.ID, node.PinnedVersion)
			if err != nil {
				return Resolution{}, resolutionError(composite.Name, node.PinnedVersion, err)
			}
		} else {
			version, err = e.versions.ResolveLatestComposite(ctx, composite.ID, node.IncludePrerelease, node.Channel)
			if err != nil {
				return Resolution{}, resolutionError(composite.Name, "", err)
			}
		}

		items, err := e.resolver.Resolve(ctx, version, opts)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{
			NodeID:     node.ID,
			Kind:       TargetComposite,
			TargetID:   composite.ID,
			TargetName: composite.Name,
			VersionID:  version.ID,
			Version:    version.Version,
			Items:      items,
		}, nil
	}

	item, err := e.resolver.ResolveLeaf(ctx, node.TargetID, node.PinnedVersion, opts)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		NodeID:     node.ID,
		Kind:       TargetLeaf,
		TargetID:   item.ChildID,
		TargetName: item.ChildName,
		VersionID:  item.VersionID,
		Version:    item.Version,
		Items:      []ResolvedItem{item},
	}, nil
}

// MergeParameters merges the active parameter files contributing to a
// (node, configuration) pair into one document plus per-key provenance.
func (e *Engine) MergeParameters(ctx context.Context, nodeID, configurationID string) (MergeResult, error) {
	node, err := e.repo.GetNode(ctx, nodeID)
	if err != nil {
		return MergeResult{}, err
	}
	return e.mergeParameters(ctx, node, configurationID)
}

func (e *Engine) mergeParameters(ctx context.Context, node Node, configurationID string) (MergeResult, error) {
	scopes, err := e.effectiveScopes(ctx, node)
	if err != nil {
		return MergeResult{}, err
	}

	layers := make([]ScopeDocument, 0, len(scopes))
	for _, scope := range scopes {
		file, ok, err := e.repo.ActiveParameterFile(ctx, scope.ID, configurationID)
		if err != nil {
			return MergeResult{}, err
		}
		if !ok {
			// Absence is not an error; the scope simply contributes nothing.
			continue
		}
		document, err := e.decoder.Decode(
			paramdoc.Context{Scope: scope.Name, Configuration: configurationID},
			string(file.Format),
			file.Content,
		)
		if err != nil {
			return MergeResult{}, &ParseError{Scope: scope.Name, Configuration: configurationID, Err: err}
		}
		layers = append(layers, ScopeDocument{
			Scope:    scope,
			FileID:   file.ID,
			Document: flattenDocument(document),
		})
	}

	return MergeScopeDocuments(layers...), nil
}

// effectiveScopes computes a node's contributing scopes: static assignment
// intersected with the global set, plus rule-activated scopes, ascending by
// precedence.
func (e *Engine) effectiveScopes(ctx context.Context, node Node) ([]Scope, error) {
	stored, err := e.repo.ListScopes(ctx)
	if err != nil {
		return nil, err
	}
	set, err := NewScopeSet(stored...)
	if err != nil {
		return nil, err
	}
	return set.EffectiveFor(node, func(scope Scope) (bool, error) {
		return evaluateScopeRule(e.evaluator, e.logger, scope, node)
	})
}

// ComputeChecksum returns the canonical bundle digest for a node without
// building the archive. It is stable across calls absent mutation and
// changes whenever any contributing file, parameter, or item order changes.
func (e *Engine) ComputeChecksum(ctx context.Context, nodeID string) (string, error) {
	_, entries, err := e.bundleEntries(ctx, nodeID)
	if err != nil {
		return "", err
	}
	return e.assembler.Checksum(entries), nil
}

// BuildBundle streams the node's deployment archive into w as a zip. The
// archive's canonical checksum always equals ComputeChecksum for the same
// repository state.
func (e *Engine) BuildBundle(ctx context.Context, nodeID string, w io.Writer) error {
	_, entries, err := e.bundleEntries(ctx, nodeID)
	if err != nil {
		return err
	}
	return e.assembler.WriteArchive(ctx, w, entries)
}

func (e *Engine) bundleEntries(ctx context.Context, nodeID string) (Resolution, []BundleEntry, error) {
	res, err := e.resolveNode(ctx, nodeID, false)
	if err != nil {
		return Resolution{}, nil, err
	}
	node, err := e.repo.GetNode(ctx, nodeID)
	if err != nil {
		return Resolution{}, nil, err
	}

	parameters := make(map[string]MergeResult, len(res.Items))
	for _, item := range res.Items {
		merged, err := e.mergeParameters(ctx, node, item.ChildID)
		if err != nil {
			return Resolution{}, nil, err
		}
		parameters[item.ChildID] = merged
	}

	entries, err := e.assembler.Entries(res, parameters)
	if err != nil {
		return Resolution{}, nil, err
	}
	return res, entries, nil
}

// Publish freezes a draft configuration version and emits the audit event.
// The lifecycle transition is already persisted if event delivery fails.
func (e *Engine) Publish(ctx context.Context, actor, versionID string) (ConfigurationVersion, error) {
	published, err := e.versions.Publish(ctx, versionID)
	if err != nil {
		return ConfigurationVersion{}, err
	}
	err = e.emitter.Emit(ctx, activity.BuildConfigurationPublishedEvent(activity.EventInput{
		ActorID:  actor,
		ObjectID: published.ID,
		Version:  published.Version,
		Checksum: published.Checksum,
	}))
	return published, err
}

// Archive retires a published configuration version and emits the audit
// event.
func (e *Engine) Archive(ctx context.Context, actor, versionID string) (ConfigurationVersion, error) {
	archived, err := e.versions.Archive(ctx, versionID)
	if err != nil {
		return ConfigurationVersion{}, err
	}
	err = e.emitter.Emit(ctx, activity.BuildConfigurationArchivedEvent(activity.EventInput{
		ActorID:  actor,
		ObjectID: archived.ID,
		Version:  archived.Version,
	}))
	return archived, err
}

// PublishComposite freezes a draft composite version and emits the audit
// event.
func (e *Engine) PublishComposite(ctx context.Context, actor, versionID string) (CompositeConfigurationVersion, error) {
	published, err := e.versions.PublishComposite(ctx, versionID)
	if err != nil {
		return CompositeConfigurationVersion{}, err
	}
	err = e.emitter.Emit(ctx, activity.BuildCompositePublishedEvent(activity.EventInput{
		ActorID:  actor,
		ObjectID: published.ID,
		Version:  published.Version,
		Checksum: published.Checksum,
	}))
	return published, err
}

// ArchiveComposite retires a published composite version and emits the audit
// event.
func (e *Engine) ArchiveComposite(ctx context.Context, actor, versionID string) (CompositeConfigurationVersion, error) {
	archived, err := e.versions.ArchiveComposite(ctx, versionID)
	if err != nil {
		return CompositeConfigurationVersion{}, err
	}
	err = e.emitter.Emit(ctx, activity.BuildCompositeArchivedEvent(activity.EventInput{
		ActorID:  actor,
		ObjectID: archived.ID,
		Version:  archived.Version,
	}))
	return archived, err
}

// ReorderScopes rewrites scope precedence as dense indices 0..N-1 following
// the supplied name order, in one repository transaction. Names must be an
// exact permutation of the current set.
func (e *Engine) ReorderScopes(ctx context.Context, actor string, names ...string) ([]Scope, error) {
	stored, err := e.repo.ListScopes(ctx)
	if err != nil {
		return nil, err
	}
	set, err := NewScopeSet(stored...)
	if err != nil {
		return nil, err
	}
	reordered, err := set.Reorder(names...)
	if err != nil {
		return nil, err
	}
	scopes := reordered.Scopes()
	if err := e.repo.ReplaceScopes(ctx, scopes); err != nil {
		return nil, err
	}
	err = e.emitter.Emit(ctx, activity.BuildScopeReorderedEvent(activity.EventInput{
		ActorID: actor,
		Order:   append([]string{}, names...),
	}))
	return scopes, err
}

// ActivateParameterFile makes a revision the active one for its
// (scope, configuration) pair, archiving any previous active revision in the
// same transaction, and emits the audit event. The activation is already
// persisted when event enrichment or delivery fails; those errors are
// returned joined.
func (e *Engine) ActivateParameterFile(ctx context.Context, actor, fileID string) error {
	file, err := e.repo.GetParameterFile(ctx, fileID)
	if err != nil {
		return err
	}
	if err := e.repo.ActivateParameterFile(ctx, fileID); err != nil {
		return err
	}

	scopeName := file.ScopeID
	scopePrecedence := 0
	stored, scopesErr := e.repo.ListScopes(ctx)
	if scopesErr == nil {
		for _, scope := range stored {
			if scope.ID == file.ScopeID {
				scopeName = scope.Name
				scopePrecedence = scope.Precedence
				break
			}
		}
	}
	emitErr := e.emitter.Emit(ctx, activity.BuildParametersActivatedEvent(activity.EventInput{
		ActorID:  actor,
		ObjectID: file.ID,
		Scope: activity.ScopeContext{
			Name:       scopeName,
			Precedence: scopePrecedence,
			FileID:     file.ID,
		},
		Metadata: map[string]any{"configuration_id": file.ConfigurationID},
	}))
	return errors.Join(scopesErr, emitErr)
}
