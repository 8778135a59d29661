package pullconf

import (
	"errors"
	"testing"
)

func TestNewScopeSetSortsAscending(t *testing.T) {
	set, err := NewScopeSet(
		NewScope("node", 2),
		NewScope("global", 0),
		NewScope("environment", 1),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	scopes := set.Scopes()
	if len(scopes) != 3 {
		t.Fatalf("expected 3 scopes, got %d", len(scopes))
	}
	for i, want := range []string{"global", "environment", "node"} {
		if scopes[i].Name != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, scopes[i].Name)
		}
		if scopes[i].Precedence != i {
			t.Fatalf("position %d: expected precedence %d, got %d", i, i, scopes[i].Precedence)
		}
	}
}

func TestNewScopeSetRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name   string
		scopes []Scope
		want   error
	}{
		{
			name:   "missing name",
			scopes: []Scope{NewScope("", 0)},
			want:   ErrScopeNameRequired,
		},
		{
			name:   "duplicate name",
			scopes: []Scope{NewScope("global", 0), NewScope("global", 1)},
			want:   ErrDuplicateScopeName,
		},
		{
			name:   "duplicate precedence",
			scopes: []Scope{NewScope("a", 0), NewScope("b", 0)},
			want:   ErrDuplicatePrecedence,
		},
		{
			name:   "sparse precedence",
			scopes: []Scope{NewScope("a", 0), NewScope("b", 2)},
			want:   ErrSparsePrecedence,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewScopeSet(tc.scopes...); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestReorderRewritesPrecedenceDensely(t *testing.T) {
	set, err := DefaultHierarchy()
	if err != nil {
		t.Fatalf("hierarchy: %v", err)
	}

	reordered, err := set.Reorder("global", "group", "environment", "node")
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}

	scopes := reordered.Scopes()
	for i, want := range []string{"global", "group", "environment", "node"} {
		if scopes[i].Name != want || scopes[i].Precedence != i {
			t.Fatalf("position %d: expected %s@%d, got %s@%d", i, want, i, scopes[i].Name, scopes[i].Precedence)
		}
	}
}

func TestReorderIsAllOrNothing(t *testing.T) {
	set, err := DefaultHierarchy()
	if err != nil {
		t.Fatalf("hierarchy: %v", err)
	}

	if _, err := set.Reorder("global", "environment", "group"); err == nil {
		t.Fatalf("expected error for incomplete name list")
	}
	if _, err := set.Reorder("global", "environment", "group", "unknown"); err == nil {
		t.Fatalf("expected error for unknown scope name")
	}
	if _, err := set.Reorder("global", "environment", "group", "group"); !errors.Is(err, ErrDuplicateScopeName) {
		t.Fatalf("expected duplicate name error, got %v", err)
	}

	// The original set is untouched after failed reorders.
	scopes := set.Scopes()
	for i, want := range []string{"global", "environment", "group", "node"} {
		if scopes[i].Name != want || scopes[i].Precedence != i {
			t.Fatalf("original mutated: position %d is %s@%d", i, scopes[i].Name, scopes[i].Precedence)
		}
	}
}

func TestEffectiveForIntersectsAssignedScopes(t *testing.T) {
	set, err := NewScopeSet(
		NewScope("global", 0),
		NewScope("environment", 1),
		NewScope("node", 2),
	)
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	node := Node{ID: "n1", ScopeIDs: []string{"node", "global", "stale"}}
	effective, err := set.EffectiveFor(node, nil)
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	if len(effective) != 2 {
		t.Fatalf("expected 2 effective scopes, got %d", len(effective))
	}
	if effective[0].Name != "global" || effective[1].Name != "node" {
		t.Fatalf("expected ascending [global node], got [%s %s]", effective[0].Name, effective[1].Name)
	}
}

func TestEffectiveForActivatesRuleScopes(t *testing.T) {
	set, err := NewScopeSet(
		NewScope("global", 0),
		NewScope("production", 1, WithScopeRule(`env == "production"`)),
	)
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	node := Node{ID: "n1", ScopeIDs: []string{"global"}}
	effective, err := set.EffectiveFor(node, func(scope Scope) (bool, error) {
		return scope.Name == "production", nil
	})
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	if len(effective) != 2 || effective[1].Name != "production" {
		t.Fatalf("expected rule-activated production scope, got %+v", effective)
	}
}

func TestEffectiveForPropagatesMatcherErrors(t *testing.T) {
	set, err := NewScopeSet(NewScope("ruled", 0, WithScopeRule("boom")))
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	wantErr := errors.New("matcher failed")
	if _, err := set.EffectiveFor(Node{ID: "n1"}, func(Scope) (bool, error) {
		return false, wantErr
	}); !errors.Is(err, wantErr) {
		t.Fatalf("expected matcher error, got %v", err)
	}
}

func TestScopeCloneDetachesMetadata(t *testing.T) {
	metadata := map[string]any{"team": "platform"}
	scope := NewScope("group", 0, WithScopeMetadata(metadata))
	metadata["team"] = "mutated"

	if scope.Metadata["team"] != "platform" {
		t.Fatalf("scope metadata aliased caller map: %v", scope.Metadata)
	}
}
