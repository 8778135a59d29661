package pullconf

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSemver indicates a version string that does not parse as
	// MAJOR.MINOR.PATCH[-prerelease].
	ErrInvalidSemver = errors.New("pullconf: invalid semver")
	// ErrVersionConflict indicates the version string already exists for the
	// configuration.
	ErrVersionConflict = errors.New("pullconf: version already exists")
	// ErrInvalidTransition indicates a lifecycle move the state machine does
	// not allow (publishing a published version, archiving a draft, editing
	// published content).
	ErrInvalidTransition = errors.New("pullconf: invalid lifecycle transition")
	// ErrScopeNameRequired indicates a scope without a name.
	ErrScopeNameRequired = errors.New("pullconf: scope name must be provided")
	// ErrDuplicateScopeName indicates two scopes sharing a name.
	ErrDuplicateScopeName = errors.New("pullconf: scope names must be unique")
	// ErrDuplicatePrecedence indicates two scopes sharing a precedence rank.
	ErrDuplicatePrecedence = errors.New("pullconf: scope precedence must be unique")
	// ErrSparsePrecedence indicates precedence values that are not the dense
	// sequence 0..N-1.
	ErrSparsePrecedence = errors.New("pullconf: scope precedence must be dense")
	// ErrCompositeChild indicates a composite item referencing another
	// composite; only leaf configurations may be composed.
	ErrCompositeChild = errors.New("pullconf: composite items must reference leaf configurations")
	// ErrNoAssignedTarget indicates a node with no target configuration.
	ErrNoAssignedTarget = errors.New("pullconf: node has no assigned target")
	// ErrNoMatchingVersion indicates no published version satisfies the
	// channel and prerelease filters.
	ErrNoMatchingVersion = errors.New("pullconf: no published version matches")
	// ErrNotFound is the base lookup failure returned by repositories.
	ErrNotFound = errors.New("pullconf: not found")
	// ErrConcurrentUpdate indicates an optimistic-concurrency conflict: the
	// record changed since the caller read it.
	ErrConcurrentUpdate = errors.New("pullconf: concurrent update")
)

// ResolutionError reports a failure to map a target reference to a concrete
// version: an unresolvable pin, a missing published version, or a node
// without an assigned target. A missing active parameter file for a scope is
// explicitly not a resolution error.
type ResolutionError struct {
	Target  string
	Version string
	Err     error
}

func (e *ResolutionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Version != "" {
		return fmt.Sprintf("pullconf: resolve %s@%s: %v", e.Target, e.Version, e.Err)
	}
	return fmt.Sprintf("pullconf: resolve %s: %v", e.Target, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func resolutionError(target, version string, err error) error {
	if err == nil {
		return nil
	}
	var resErr *ResolutionError
	if errors.As(err, &resErr) {
		return err
	}
	return &ResolutionError{Target: target, Version: version, Err: err}
}

// ParseError reports unparsable parameter content. It is attributed to the
// offending (scope, configuration) pair and is fatal only for the merge that
// touched it.
type ParseError struct {
	Scope         string
	Configuration string
	Err           error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("pullconf: parse parameters scope=%s configuration=%s: %v", e.Scope, e.Configuration, e.Err)
}

func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IntegrityError reports a stored checksum that no longer matches recomputed
// content. It is surfaced verbatim and never silently repaired.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("pullconf: integrity mismatch for %s: stored %s, recomputed %s", e.Path, e.Expected, e.Actual)
}
