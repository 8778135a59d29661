package pullconf

import (
	"encoding/json"
	"sort"
)

// ScopeDocument pairs a scope with the flattened parameter document its
// active parameter file contributed. FileID records which revision supplied
// the content for audit and cache-keying purposes.
type ScopeDocument struct {
	Scope    Scope
	FileID   string
	Document map[string]any
}

// Override records one value a stronger scope displaced, most recent first.
type Override struct {
	Scope string `json:"scope"`
	Value any    `json:"value"`
}

// KeyProvenance is the audit trail for a single merged key: the scope whose
// value won, that scope's precedence, and the values it overrode.
type KeyProvenance struct {
	Scope        string     `json:"scope"`
	Precedence   int        `json:"precedence"`
	Value        any        `json:"value"`
	OverriddenBy []Override `json:"overridden_by,omitempty"`
}

// MergeResult is the merged parameter document plus per-key provenance.
// Identical inputs always serialize to identical bytes, which the bundle
// checksum depends on.
type MergeResult struct {
	Document   map[string]any           `json:"document"`
	Provenance map[string]KeyProvenance `json:"provenance"`
}

// MergeScopeDocuments folds the supplied layers, which must already be
// ordered ascending by precedence, into a single document. The fold threads
// (document, provenance) as its accumulator and never touches shared state,
// so merges for different nodes run fully in parallel.
//
// Per key: a later (stronger) scope overwrites the current value and the
// displaced (scope, value) pair is prepended to the key's override list; a
// fresh key is inserted with an empty list.
func MergeScopeDocuments(layers ...ScopeDocument) MergeResult {
	result := MergeResult{
		Document:   map[string]any{},
		Provenance: map[string]KeyProvenance{},
	}

	for _, layer := range layers {
		keys := make([]string, 0, len(layer.Document))
		for key := range layer.Document {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			value := layer.Document[key]
			entry, exists := result.Provenance[key]
			if exists {
				entry.OverriddenBy = append([]Override{{Scope: entry.Scope, Value: entry.Value}}, entry.OverriddenBy...)
			}
			entry.Scope = layer.Scope.Name
			entry.Precedence = layer.Scope.Precedence
			entry.Value = value
			result.Document[key] = value
			result.Provenance[key] = entry
		}
	}

	return result
}

// ToJSON serializes the merge result for transport or embedding. Map keys are
// emitted in sorted order, so equal results produce equal bytes.
func (r MergeResult) ToJSON() ([]byte, error) {
	type alias MergeResult
	return json.Marshal(alias(r))
}

// MergeResultFromJSON deserializes a payload previously produced by ToJSON.
func MergeResultFromJSON(payload []byte) (MergeResult, error) {
	type alias MergeResult
	var result alias
	if err := json.Unmarshal(payload, &result); err != nil {
		return MergeResult{}, err
	}
	return MergeResult(result), nil
}

// DocumentJSON serializes only the merged document, the form embedded into
// bundles as parameters.json.
func (r MergeResult) DocumentJSON() ([]byte, error) {
	if r.Document == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Document)
}
