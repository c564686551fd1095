package schema

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/metagraph/graph"
	"github.com/c360/metagraph/graph/repository"
	"github.com/c360/metagraph/ontology"
)

// Predicate is one compiled (operator, value) filter
type Predicate struct {
	Op    string
	Value any
}

// PropertyPredicate filters on one node property with comparison semantics
// chosen by the key's declared data type
type PropertyPredicate struct {
	Name     string
	Op       string
	Value    any
	DataType ontology.DataType
}

// NodeFilter is the compiled form of one field invocation. ConstrainIDs set
// with an empty IDs slice means a relationship filter matched zero edges; the
// query must then return zero rows, never fall open.
type NodeFilter struct {
	ContainerID    string
	MetatypeID     string
	IDs            []string
	ConstrainIDs   bool
	DataSourceID   *Predicate
	OriginalDataID *Predicate
	ImportDataID   *Predicate
	Properties     []PropertyPredicate
	Limit          int
	Offset         int
}

// GraphReader executes compiled filters against the warehouse graph
type GraphReader interface {
	ListNodes(ctx context.Context, filter NodeFilter) ([]*graph.Node, error)
	FindByRelationship(ctx context.Context, containerID, originName, relationshipName, destinationName string) ([]*graph.Edge, error)
}

// Resolver translates generated-schema field invocations into graph queries
// and reshapes the rows into schema-declared output. Field failures degrade
// to empty results so sibling fields keep resolving.
type Resolver struct {
	graph   GraphReader
	logger  *slog.Logger
	metrics *Metrics
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithResolverMetrics records resolution metrics
func WithResolverMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a resolver over the given graph reader
func NewResolver(reader GraphReader, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		graph:  reader,
		logger: logger.With("component", "schema-resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve executes one top-level field invocation. Arguments arrive already
// evaluated from the query document; the result is the ordered row set
// reshaped per the schema, or empty when anything fails.
func (r *Resolver) Resolve(ctx context.Context, s *Schema, fieldName string, args map[string]any) []map[string]any {
	started := time.Now()

	binding, ok := s.binding(fieldName)
	if !ok {
		r.metrics.recordResolutionError()
		r.logger.Warn("resolve of unknown field", "field", fieldName, "container_id", s.ContainerID)
		return []map[string]any{}
	}

	filter, ok := r.compile(ctx, s, binding, fieldName, args)
	if !ok {
		r.metrics.recordResolutionError()
		return []map[string]any{}
	}

	nodes, err := r.graph.ListNodes(ctx, filter)
	if err != nil {
		r.metrics.recordResolutionError()
		r.logger.Error("node query failed",
			"field", fieldName,
			"container_id", s.ContainerID,
			"error", err)
		return []map[string]any{}
	}

	rows := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		rows = append(rows, reshapeNode(binding, node))
	}

	r.metrics.recordResolution(time.Since(started), len(rows))
	return rows
}

// compile translates the argument map into a NodeFilter. A false return
// means the field already failed and must resolve empty.
func (r *Resolver) compile(ctx context.Context, s *Schema, binding *fieldBinding, fieldName string, args map[string]any) (NodeFilter, bool) {
	filter := NodeFilter{
		ContainerID: s.ContainerID,
		MetatypeID:  binding.metatype.ID,
		Limit:       DefaultLimit,
	}
	page := 1

	for name, value := range args {
		switch name {
		case recordArg:
			record, ok := value.(map[string]any)
			if !ok {
				continue
			}
			if v, ok := stringValue(record["data_source_id"]); ok {
				filter.DataSourceID = compilePredicate(v)
			}
			if v, ok := stringValue(record["original_id"]); ok {
				filter.OriginalDataID = compilePredicate(v)
			}
			if v, ok := stringValue(record["import_id"]); ok {
				filter.ImportDataID = compilePredicate(v)
			}
			if n, ok := intValue(record["limit"]); ok && n > 0 {
				filter.Limit = n
			}
			if n, ok := intValue(record["page"]); ok && n > 0 {
				page = n
			}

		case relationshipArg:
			ids, ok := r.resolveRelationshipIDs(ctx, s, binding, fieldName, value)
			if !ok {
				return NodeFilter{}, false
			}
			filter.IDs = ids
			filter.ConstrainIDs = true

		default:
			kb, ok := binding.keys[name]
			if !ok {
				r.logger.Warn("filter on unknown key", "field", fieldName, "argument", name)
				continue
			}
			raw, ok := stringValue(value)
			if !ok {
				continue
			}
			op, operand := breakQuery(raw)
			filter.Properties = append(filter.Properties, PropertyPredicate{
				Name:     kb.property,
				Op:       op,
				Value:    operand,
				DataType: kb.dataType,
			})
		}
	}

	filter.Offset = (page - 1) * filter.Limit
	return filter, true
}

// resolveRelationshipIDs runs the edge queries behind a _relationship filter
// and returns the node ids reachable through the selected traversals. The
// bool result is false when an edge query failed.
func (r *Resolver) resolveRelationshipIDs(ctx context.Context, s *Schema, binding *fieldBinding, fieldName string, value any) ([]string, bool) {
	selection, ok := value.(map[string]any)
	if !ok {
		return []string{}, true
	}

	ids := []string{}
	seen := map[string]struct{}{}

	for relName, destValue := range selection {
		rel, ok := binding.relationships[relName]
		if !ok {
			continue
		}
		destinations, ok := destValue.(map[string]any)
		if !ok {
			continue
		}

		for destName, flag := range destinations {
			if selected, ok := flag.(bool); !ok || !selected {
				continue
			}
			target, ok := rel.destinations[destName]
			if !ok {
				continue
			}

			edges, err := r.graph.FindByRelationship(ctx, s.ContainerID,
				target.originName, target.relationshipName, target.destinationName)
			if err != nil {
				r.logger.Error("relationship query failed",
					"field", fieldName,
					"relationship", target.relationshipName,
					"error", err)
				return nil, false
			}

			for _, edge := range edges {
				id := edge.OriginNodeID
				if target.reverse {
					id = edge.DestinationNodeID
				}
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
	}

	return ids, true
}

// compilePredicate parses one "<op> <value>" filter string
func compilePredicate(raw string) *Predicate {
	op, value := breakQuery(raw)
	return &Predicate{Op: op, Value: value}
}

// reshapeNode flattens a node into schema-declared output: sanitized key
// names over the raw properties, provenance under the reserved _record field.
func reshapeNode(binding *fieldBinding, node *graph.Node) map[string]any {
	row := map[string]any{
		recordArg: map[string]any{
			"id":             node.ID,
			"data_source_id": node.DataSourceID,
			"original_id":    node.OriginalDataID,
			"import_id":      node.ImportDataID,
			"metatype_id":    node.MetatypeID,
			"metatype_name":  node.MetatypeName,
			"created_at":     node.CreatedAt.UTC().Format(time.RFC3339),
			"modified_at":    node.ModifiedAt.UTC().Format(time.RFC3339),
			"metadata":       map[string]any(node.Metadata),
		},
	}
	for name, kb := range binding.keys {
		if value, ok := node.Properties[kb.property]; ok {
			row[name] = value
		}
	}
	return row
}

func stringValue(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// RepositoryReader adapts the graph repository's query builder to the
// resolver's GraphReader interface.
type RepositoryReader struct {
	repo *repository.Repository
}

// NewRepositoryReader wraps a graph repository
func NewRepositoryReader(repo *repository.Repository) *RepositoryReader {
	return &RepositoryReader{repo: repo}
}

// ListNodes compiles a NodeFilter onto the repository's builder and runs it
func (r *RepositoryReader) ListNodes(ctx context.Context, filter NodeFilter) ([]*graph.Node, error) {
	q := r.repo.Nodes().
		ContainerID(filter.ContainerID).
		MetatypeID(filter.MetatypeID)

	if filter.ConstrainIDs {
		q = q.IDIn(filter.IDs)
	}
	if p := filter.DataSourceID; p != nil {
		q = q.DataSourceID(p.Op, p.Value)
	}
	if p := filter.OriginalDataID; p != nil {
		q = q.OriginalDataID(p.Op, p.Value)
	}
	if p := filter.ImportDataID; p != nil {
		q = q.ImportDataID(p.Op, p.Value)
	}
	for _, p := range filter.Properties {
		q = q.Property(p.Name, p.Op, p.Value, p.DataType)
	}

	return q.List(ctx, repository.ListOptions{Limit: filter.Limit, Offset: filter.Offset})
}

// FindByRelationship passes through to the repository
func (r *RepositoryReader) FindByRelationship(ctx context.Context, containerID, originName, relationshipName, destinationName string) ([]*graph.Edge, error) {
	return r.repo.FindByRelationship(ctx, containerID, originName, relationshipName, destinationName)
}

var _ GraphReader = (*RepositoryReader)(nil)
