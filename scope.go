package pullconf

import (
	"fmt"
	"sort"
)

// ScopeOption configures metadata on Scope creation.
type ScopeOption func(*scopeConfig)

type scopeConfig struct {
	label    string
	rule     string
	metadata map[string]any
}

// WithScopeLabel sets a human-friendly label on the scope.
func WithScopeLabel(label string) ScopeOption {
	return func(cfg *scopeConfig) {
		cfg.label = label
	}
}

// WithScopeRule attaches an activation expression to the scope. Nodes whose
// attributes satisfy the rule gain the scope without a static assignment.
func WithScopeRule(rule string) ScopeOption {
	return func(cfg *scopeConfig) {
		cfg.rule = rule
	}
}

// WithScopeMetadata attaches arbitrary metadata to the scope. The map is
// copied so the resulting Scope remains immutable even if the caller mutates
// their reference.
func WithScopeMetadata(metadata map[string]any) ScopeOption {
	return func(cfg *scopeConfig) {
		if len(metadata) == 0 {
			return
		}
		cfg.metadata = copyMetadata(metadata)
	}
}

// NewScope builds a Scope with the supplied configuration. Precedence
// validation is deferred to ScopeSet construction so callers can assemble
// scopes before deciding the global order.
func NewScope(name string, precedence int, opts ...ScopeOption) Scope {
	cfg := scopeConfig{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	return Scope{
		ID:         name,
		Name:       name,
		Label:      cfg.label,
		Precedence: precedence,
		Rule:       cfg.rule,
		Metadata:   copyMetadata(cfg.metadata),
	}
}

// ScopeSet is the immutable, globally ordered set of override tiers.
// Precedence values form the dense sequence 0..N-1, ascending meaning lower
// priority.
type ScopeSet struct {
	ordered []Scope
}

// NewScopeSet validates and sorts the supplied scopes ascending by
// precedence. Names must be unique and non-empty; precedence values must be
// exactly 0..N-1 with no duplicates or gaps.
func NewScopeSet(scopes ...Scope) (*ScopeSet, error) {
	if len(scopes) == 0 {
		return &ScopeSet{}, nil
	}

	seenNames := make(map[string]struct{}, len(scopes))
	copied := make([]Scope, len(scopes))
	for i, scope := range scopes {
		scope := scope.clone()
		if scope.Name == "" {
			return nil, ErrScopeNameRequired
		}
		if _, ok := seenNames[scope.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateScopeName, scope.Name)
		}
		seenNames[scope.Name] = struct{}{}
		copied[i] = scope
	}

	sort.Slice(copied, func(i, j int) bool {
		if copied[i].Precedence == copied[j].Precedence {
			return copied[i].Name < copied[j].Name
		}
		return copied[i].Precedence < copied[j].Precedence
	})

	for i := range copied {
		if i > 0 && copied[i].Precedence == copied[i-1].Precedence {
			return nil, fmt.Errorf("%w: %d", ErrDuplicatePrecedence, copied[i].Precedence)
		}
		if copied[i].Precedence != i {
			return nil, fmt.Errorf("%w: got %d at position %d", ErrSparsePrecedence, copied[i].Precedence, i)
		}
	}

	return &ScopeSet{ordered: copied}, nil
}

// Scopes returns a detached copy of the set, ascending by precedence.
func (s *ScopeSet) Scopes() []Scope {
	if s == nil || len(s.ordered) == 0 {
		return nil
	}
	out := make([]Scope, len(s.ordered))
	for i := range s.ordered {
		out[i] = s.ordered[i].clone()
	}
	return out
}

// Len returns the number of scopes in the set.
func (s *ScopeSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ordered)
}

// ByName looks a scope up by name.
func (s *ScopeSet) ByName(name string) (Scope, bool) {
	if s == nil {
		return Scope{}, false
	}
	for _, scope := range s.ordered {
		if scope.Name == name {
			return scope.clone(), true
		}
	}
	return Scope{}, false
}

// Reorder rewrites precedence as dense indices 0..N-1 following the supplied
// name order. The operation is all-or-nothing: names must be an exact
// permutation of the current set, otherwise the set is left untouched.
func (s *ScopeSet) Reorder(names ...string) (*ScopeSet, error) {
	if s == nil || len(names) != len(s.ordered) {
		return nil, fmt.Errorf("pullconf: reorder requires all %d scope names", s.Len())
	}

	byName := make(map[string]Scope, len(s.ordered))
	for _, scope := range s.ordered {
		byName[scope.Name] = scope
	}

	reordered := make([]Scope, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for position, name := range names {
		scope, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("pullconf: reorder: unknown scope %q", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateScopeName, name)
		}
		seen[name] = struct{}{}
		scope = scope.clone()
		scope.Precedence = position
		reordered = append(reordered, scope)
	}

	return &ScopeSet{ordered: reordered}, nil
}

// ScopeMatcher reports whether a scope's activation rule admits a node.
// Implementations are supplied by the engine's rule evaluator.
type ScopeMatcher func(scope Scope) (bool, error)

// EffectiveFor computes the scopes contributing to a node's merges: the
// node's assigned scopes intersected with the set, plus any rule-carrying
// scope whose matcher admits the node. The result is ascending by precedence.
// An assigned scope missing from the set contributes nothing.
func (s *ScopeSet) EffectiveFor(node Node, matches ScopeMatcher) ([]Scope, error) {
	if s == nil || len(s.ordered) == 0 {
		return nil, nil
	}

	assigned := make(map[string]struct{}, len(node.ScopeIDs))
	for _, id := range node.ScopeIDs {
		assigned[id] = struct{}{}
	}

	effective := make([]Scope, 0, len(node.ScopeIDs))
	for _, scope := range s.ordered {
		if _, ok := assigned[scope.ID]; ok {
			effective = append(effective, scope.clone())
			continue
		}
		if scope.Rule == "" || matches == nil {
			continue
		}
		ok, err := matches(scope.clone())
		if err != nil {
			return nil, err
		}
		if ok {
			effective = append(effective, scope.clone())
		}
	}
	return effective, nil
}

// Recommended precedence ranks for the common four-tier hierarchy. Higher
// ranks win during merges.
const (
	ScopePrecedenceGlobal      = 0
	ScopePrecedenceEnvironment = 1
	ScopePrecedenceGroup       = 2
	ScopePrecedenceNode        = 3
)

// DefaultHierarchy assembles the canonical global -> environment -> group ->
// node scope set used by most deployments.
func DefaultHierarchy() (*ScopeSet, error) {
	return NewScopeSet(
		NewScope("global", ScopePrecedenceGlobal, WithScopeLabel("Global")),
		NewScope("environment", ScopePrecedenceEnvironment, WithScopeLabel("Environment")),
		NewScope("group", ScopePrecedenceGroup, WithScopeLabel("Group")),
		NewScope("node", ScopePrecedenceNode, WithScopeLabel("Node")),
	)
}
