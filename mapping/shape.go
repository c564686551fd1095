package mapping

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ShapeHash fingerprints a payload's structural shape: field names, nesting,
// and value kinds. Two payloads with the same keys and types hash identically
// regardless of their values, so a data source's repeated record shape maps
// to the same TypeMapping without scanning all mappings.
func ShapeHash(payload map[string]any) string {
	paths := make([]string, 0, len(payload))
	collectShape("", payload, &paths)
	sort.Strings(paths)

	sum := sha256.Sum256([]byte(strings.Join(paths, "\n")))
	return hex.EncodeToString(sum[:])
}

// collectShape walks the payload depth-first, emitting "path:kind" entries.
// Array elements contribute through the "[]" path segment using the first
// element as the representative shape; a heterogeneous array is still one
// shape from the mapping's point of view.
func collectShape(prefix string, value any, paths *[]string) {
	switch v := value.(type) {
	case map[string]any:
		if prefix != "" {
			*paths = append(*paths, prefix+":object")
		}
		for key, child := range v {
			childPath := key
			if prefix != "" {
				childPath = prefix + "." + key
			}
			collectShape(childPath, child, paths)
		}
	case []any:
		*paths = append(*paths, prefix+":array")
		if len(v) > 0 {
			collectShape(prefix+".[]", v[0], paths)
		}
	default:
		*paths = append(*paths, prefix+":"+valueKind(value))
	}
}

func valueKind(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, float32, int, int64, int32:
		return "number"
	default:
		return fmt.Sprintf("%T", value)
	}
}
