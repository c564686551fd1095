package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/metagraph/errors"
	"github.com/c360/metagraph/graph"
	"github.com/c360/metagraph/ontology"
)

// Operator names accepted by the filter grammar
const (
	OpEq   = "eq"
	OpNeq  = "neq"
	OpLike = "like"
	OpIn   = "in"
	OpLess = "<"
	OpMore = ">"
)

// ValidOperator reports whether op is one of the recognized filter operators
func ValidOperator(op string) bool {
	switch op {
	case OpEq, OpNeq, OpLike, OpIn, OpLess, OpMore:
		return true
	}
	return false
}

// MaxResults is the hard cap on rows any node query may return
const MaxResults = 10000

// ListOptions bounds a node query's result window
type ListOptions struct {
	Limit  int
	Offset int
}

// NodeQuery accumulates predicates and compiles them into one parameterized
// SELECT. The zero limit defaults to MaxResults; limits above the cap are
// clamped. Builders record the first error and make every later call a no-op,
// so call sites chain without per-call checks.
type NodeQuery struct {
	repo   *Repository
	wheres []string
	args   []any
	err    error
}

// ContainerID scopes the query to one container
func (q *NodeQuery) ContainerID(id string) *NodeQuery {
	return q.where("container_id", OpEq, id)
}

// MetatypeID constrains nodes to one metatype
func (q *NodeQuery) MetatypeID(id string) *NodeQuery {
	return q.where("metatype_id", OpEq, id)
}

// DataSourceID applies an operator predicate on the node's data source
func (q *NodeQuery) DataSourceID(op string, value any) *NodeQuery {
	return q.where("data_source_id", op, value)
}

// OriginalDataID applies an operator predicate on the node's external id
func (q *NodeQuery) OriginalDataID(op string, value any) *NodeQuery {
	return q.where("original_data_id", op, value)
}

// ImportDataID applies an operator predicate on the node's import id
func (q *NodeQuery) ImportDataID(op string, value any) *NodeQuery {
	return q.where("import_data_id", op, value)
}

// ID applies an operator predicate on the node id itself
func (q *NodeQuery) ID(op string, value any) *NodeQuery {
	return q.where("id", op, value)
}

// IDIn constrains the query to an explicit id set. An empty set compiles to
// a predicate no row can satisfy: a relationship filter that matched zero
// edges must return zero nodes, never fall open to an unfiltered query.
func (q *NodeQuery) IDIn(ids []string) *NodeQuery {
	if q.err != nil {
		return q
	}
	if len(ids) == 0 {
		q.wheres = append(q.wheres, "1 = 0")
		return q
	}
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		q.args = append(q.args, id)
		placeholders[i] = "$" + strconv.Itoa(len(q.args))
	}
	q.wheres = append(q.wheres, "id IN ("+strings.Join(placeholders, ", ")+")")
	return q
}

// Property applies an operator predicate on one property value, with
// comparison semantics chosen by the key's declared data type: numbers
// compare numerically, everything else compares as text.
func (q *NodeQuery) Property(name, op string, value any, dataType ontology.DataType) *NodeQuery {
	if q.err != nil {
		return q
	}
	if !ValidOperator(op) {
		q.err = errors.WrapValidation(errors.ErrInvalidFilter,
			"GraphRepository", "Property", fmt.Sprintf("unknown operator %q", op))
		return q
	}

	numeric := dataType == ontology.DataTypeNumber
	if op == OpIn {
		values := splitInValues(value)
		if len(values) == 0 {
			q.wheres = append(q.wheres, "1 = 0")
			return q
		}
		q.args = append(q.args, name)
		expr := q.repo.dialect.PropertyExpr(len(q.args))
		placeholders := make([]string, len(values))
		for i, v := range values {
			q.args = append(q.args, fmt.Sprint(v))
			placeholders[i] = "$" + strconv.Itoa(len(q.args))
		}
		q.wheres = append(q.wheres, expr+" IN ("+strings.Join(placeholders, ", ")+")")
		return q
	}

	q.args = append(q.args, name)
	var expr string
	if numeric {
		expr = q.repo.dialect.NumericPropertyExpr(len(q.args))
	} else {
		expr = q.repo.dialect.PropertyExpr(len(q.args))
	}

	if numeric {
		f, err := toFloat(value)
		if err != nil {
			q.err = errors.WrapValidation(err, "GraphRepository", "Property",
				fmt.Sprintf("numeric filter on %q", name))
			return q
		}
		q.args = append(q.args, f)
	} else {
		q.args = append(q.args, fmt.Sprint(value))
	}

	q.wheres = append(q.wheres, expr+" "+sqlOperator(op)+" $"+strconv.Itoa(len(q.args)))
	return q
}

// where adds a predicate on a plain column
func (q *NodeQuery) where(column, op string, value any) *NodeQuery {
	if q.err != nil {
		return q
	}
	if !ValidOperator(op) {
		q.err = errors.WrapValidation(errors.ErrInvalidFilter,
			"GraphRepository", "where", fmt.Sprintf("unknown operator %q", op))
		return q
	}

	if op == OpIn {
		values := splitInValues(value)
		if len(values) == 0 {
			q.wheres = append(q.wheres, "1 = 0")
			return q
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			q.args = append(q.args, v)
			placeholders[i] = "$" + strconv.Itoa(len(q.args))
		}
		q.wheres = append(q.wheres, column+" IN ("+strings.Join(placeholders, ", ")+")")
		return q
	}

	q.args = append(q.args, value)
	q.wheres = append(q.wheres, column+" "+sqlOperator(op)+" $"+strconv.Itoa(len(q.args)))
	return q
}

// buildSelect compiles the accumulated predicates into SQL text and args
func (q *NodeQuery) buildSelect(opts ListOptions) (string, []any) {
	limit := opts.Limit
	if limit <= 0 || limit > MaxResults {
		limit = MaxResults
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, container_id, metatype_id, metatype_name, graph_id,
		properties, original_data_id, data_source_id, import_data_id,
		data_type_mapping_id, metadata, archived, created_at, modified_at
		FROM nodes WHERE deleted_at IS NULL AND archived = FALSE`)
	for _, w := range q.wheres {
		sb.WriteString(" AND ")
		sb.WriteString(w)
	}
	// Stable ordering: identical queries over an unchanged graph return
	// identical row order.
	sb.WriteString(" ORDER BY created_at, id")
	sb.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	return sb.String(), q.args
}

// List executes the query and fully materializes the result set
func (q *NodeQuery) List(ctx context.Context, opts ListOptions) ([]*graph.Node, error) {
	if q.err != nil {
		return nil, q.err
	}

	query, args := q.buildSelect(opts)
	rows, err := q.repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "GraphRepository", "List", "node read")
	}
	defer func() { _ = rows.Close() }()

	var nodes []*graph.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, errors.Wrap(err, "GraphRepository", "List", "node scan")
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "GraphRepository", "List", "node iteration")
	}

	return nodes, nil
}

func scanNode(rows *sql.Rows) (*graph.Node, error) {
	node := &graph.Node{}
	var props string
	var graphID, originalID, sourceID, importID, mappingID, meta sql.NullString
	if err := rows.Scan(&node.ID, &node.ContainerID, &node.MetatypeID,
		&node.MetatypeName, &graphID, &props, &originalID, &sourceID,
		&importID, &mappingID, &meta, &node.Archived,
		&node.CreatedAt, &node.ModifiedAt); err != nil {
		return nil, err
	}

	node.GraphID = graphID.String
	node.OriginalDataID = originalID.String
	node.DataSourceID = sourceID.String
	node.ImportDataID = importID.String
	node.DataTypeMappingID = mappingID.String

	parsed, err := graph.ParseProperties(props)
	if err != nil {
		return nil, err
	}
	node.Properties = parsed

	if meta.Valid && meta.String != "" {
		parsedMeta, err := graph.ParseProperties(meta.String)
		if err != nil {
			return nil, err
		}
		node.Metadata = parsedMeta
	}

	return node, nil
}

// sqlOperator maps a filter grammar operator to its SQL form
func sqlOperator(op string) string {
	switch op {
	case OpEq:
		return "="
	case OpNeq:
		return "<>"
	case OpLike:
		return "LIKE"
	case OpLess:
		return "<"
	case OpMore:
		return ">"
	default:
		return "="
	}
}

// splitInValues normalizes the value of an `in` filter to a flat list.
// Strings split on commas; slices pass through.
func splitInValues(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case string:
		parts := strings.Split(v, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	default:
		return []any{v}
	}
}

// buildInQuery appends an IN clause with one placeholder per value
func buildInQuery(prefix string, args []any, values []string) (string, []any) {
	placeholders := make([]string, len(values))
	for i, v := range values {
		args = append(args, v)
		placeholders[i] = "$" + strconv.Itoa(len(args))
	}
	return prefix + "(" + strings.Join(placeholders, ", ") + ")", args
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("value %v is not numeric", value)
	}
}
