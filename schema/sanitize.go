package schema

import (
	"strconv"
	"strings"
)

// SanitizeName rewrites an ontology name into a valid schema identifier
// matching [_A-Za-z][_A-Za-z0-9]*. The rewrite is deterministic: the same
// input always yields the same output across schema generations. Invalid
// characters become underscores; a leading digit gets an underscore prefix;
// an empty or fully-invalid name becomes "_".
func SanitizeName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name) + 1)

	for i, r := range name {
		valid := r == '_' ||
			(r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9')

		if i == 0 && r >= '0' && r <= '9' {
			sb.WriteByte('_')
		}
		if valid {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}

	if sb.Len() == 0 {
		return "_"
	}
	return sb.String()
}

// nameRegistry sanitizes names within one scope while preserving uniqueness:
// two distinct inputs whose sanitized forms collide get deterministic numeric
// suffixes in registration order. Callers register in a deterministic order
// (the ontology store's sorted reads), so suffixes are stable too.
type nameRegistry struct {
	taken map[string]string
}

func newNameRegistry() *nameRegistry {
	return &nameRegistry{taken: map[string]string{}}
}

// register sanitizes name and reserves the result within the registry's
// scope. Registering the same raw name twice returns the same identifier.
func (r *nameRegistry) register(name string) string {
	base := SanitizeName(name)

	candidate := base
	for suffix := 2; ; suffix++ {
		owner, used := r.taken[candidate]
		if !used {
			r.taken[candidate] = name
			return candidate
		}
		if owner == name {
			return candidate
		}
		candidate = base + "_" + strconv.Itoa(suffix)
	}
}
