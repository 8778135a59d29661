// Package pullconf implements the configuration and parameter resolution
// engine of a pull-distribution server. Given a managed node it decides which
// configuration version(s) apply, merges scoped parameter overrides into a
// single document with per-key provenance, and assembles a deterministic,
// checksum-verifiable deployment bundle.
//
// Responsibilities:
//   - VersionStore owns the draft -> published -> archived lifecycle and
//     semantic-version ordering for leaf and composite configurations.
//   - ScopeSet keeps the precedence-ranked override tiers dense and ordered,
//     and computes the effective scopes for a node (static assignment plus
//     optional activation rules).
//   - Merge folds active parameter files over ascending precedence into a
//     MergeResult carrying the winning value and override trail for each key.
//   - CompositeResolver turns an ordered composite version into concrete leaf
//     configuration versions (pinned or latest).
//   - BundleAssembler renders the deployable archive and the canonical
//     SHA-256 checksum used for drift detection.
//
// Persistence stays behind the Repository contract; authentication, routing
// and transport mapping are the caller's responsibility. The engine never
// logs and never swallows failures: every error is a typed result.
package pullconf
