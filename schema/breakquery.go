package schema

import (
	"strings"

	"github.com/c360/metagraph/graph/repository"
)

// breakQuery splits a filter string into its operator and value. The grammar
// is "<op> <value>" where op is one of the recognized filter operators; when
// the first whitespace-delimited token is not an operator the whole string is
// the value and the operator defaults to eq.
func breakQuery(filter string) (op, value string) {
	trimmed := strings.TrimSpace(filter)

	first, rest, found := strings.Cut(trimmed, " ")
	if found && repository.ValidOperator(first) {
		return first, strings.TrimSpace(rest)
	}
	return repository.OpEq, trimmed
}
