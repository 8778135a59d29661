package pullconf

import (
	"sort"
	"strings"
)

// flattenDocument walks a decoded parameter payload and produces the flat
// dotted-path map the merge fold operates on. Nested maps contribute one key
// per leaf; slices and scalars are whole values, so a higher-precedence scope
// replaces them outright instead of deep-merging (replacement semantics).
func flattenDocument(payload map[string]any) map[string]any {
	out := map[string]any{}
	flattenInto(out, payload, "")
	return out
}

func flattenInto(out map[string]any, value any, prefix string) {
	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 {
			if prefix != "" {
				out[prefix] = map[string]any{}
			}
			return
		}
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			flattenInto(out, typed[key], joinPath(prefix, key))
		}
	default:
		if prefix == "" {
			return
		}
		out[prefix] = typed
	}
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return strings.Join([]string{prefix, segment}, ".")
}
