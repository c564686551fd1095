// Package repository builds and executes parameterized queries against the
// warehouse graph tables. All user-supplied filter input flows through query
// parameters; SQL text only ever contains column names and operators chosen
// from fixed sets.
package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/metagraph/errors"
	"github.com/c360/metagraph/graph"
	"github.com/c360/metagraph/store"
)

// Repository provides graph persistence over the warehouse database
type Repository struct {
	db      *sql.DB
	dialect store.Dialect
	logger  *slog.Logger
}

// New creates a graph repository
func New(db *sql.DB, dialect store.Dialect, logger *slog.Logger) *Repository {
	return &Repository{
		db:      db,
		dialect: dialect,
		logger:  logger.With("component", "graph-repository"),
	}
}

// Nodes starts a node query builder
func (r *Repository) Nodes() *NodeQuery {
	return &NodeQuery{repo: r}
}

// UpsertNode inserts a node, or updates it in place when a node with the same
// (original_data_id, data_source_id) external identity already exists. Nodes
// without an external identity are always inserted.
func (r *Repository) UpsertNode(ctx context.Context, node *graph.Node) (*graph.Node, error) {
	if err := node.Validate(); err != nil {
		return nil, errors.WrapValidation(err, "GraphRepository", "UpsertNode", "node validation")
	}

	now := time.Now().UTC()
	if node.ID == "" {
		node.ID = uuid.NewString()
		node.CreatedAt = now
	}
	node.ModifiedAt = now

	props, err := node.Properties.JSON()
	if err != nil {
		return nil, errors.WrapValidation(err, "GraphRepository", "UpsertNode", "properties encoding")
	}
	meta, err := node.Metadata.JSON()
	if err != nil {
		return nil, errors.WrapValidation(err, "GraphRepository", "UpsertNode", "metadata encoding")
	}

	query := `INSERT INTO nodes
		(id, container_id, metatype_id, metatype_name, graph_id, properties,
		 original_data_id, data_source_id, import_data_id, data_type_mapping_id,
		 metadata, archived, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	if node.OriginalDataID != "" && node.DataSourceID != "" {
		query += `
		ON CONFLICT (original_data_id, data_source_id)
		WHERE original_data_id IS NOT NULL AND data_source_id IS NOT NULL
		DO UPDATE SET
			metatype_id = excluded.metatype_id,
			metatype_name = excluded.metatype_name,
			properties = excluded.properties,
			import_data_id = excluded.import_data_id,
			data_type_mapping_id = excluded.data_type_mapping_id,
			metadata = excluded.metadata,
			modified_at = excluded.modified_at`
	}

	_, err = r.db.ExecContext(ctx, query,
		node.ID, node.ContainerID, node.MetatypeID, node.MetatypeName,
		nullable(node.GraphID), props,
		nullable(node.OriginalDataID), nullable(node.DataSourceID),
		nullable(node.ImportDataID), nullable(node.DataTypeMappingID),
		meta, node.Archived, node.CreatedAt, node.ModifiedAt)
	if err != nil {
		return nil, errors.Wrap(err, "GraphRepository", "UpsertNode", "node write")
	}

	return node, nil
}

// ArchiveNode soft-deletes a node. Archived nodes are excluded from queries
// but remain recoverable; contrast with DeleteNode.
func (r *Repository) ArchiveNode(ctx context.Context, containerID, nodeID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE nodes SET archived = TRUE, modified_at = $1
		 WHERE id = $2 AND container_id = $3 AND deleted_at IS NULL`,
		time.Now().UTC(), nodeID, containerID)
	if err != nil {
		return errors.Wrap(err, "GraphRepository", "ArchiveNode", "archive update")
	}
	return requireRowAffected(result, "GraphRepository", "ArchiveNode")
}

// DeleteNode permanently deletes a node. The row is tombstoned and never
// returned again, distinct from the recoverable archived state.
func (r *Repository) DeleteNode(ctx context.Context, containerID, nodeID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE nodes SET deleted_at = $1
		 WHERE id = $2 AND container_id = $3 AND deleted_at IS NULL`,
		time.Now().UTC(), nodeID, containerID)
	if err != nil {
		return errors.Wrap(err, "GraphRepository", "DeleteNode", "delete update")
	}
	return requireRowAffected(result, "GraphRepository", "DeleteNode")
}

// CreateEdge persists a relationship instance between two nodes
func (r *Repository) CreateEdge(ctx context.Context, edge *graph.Edge) (*graph.Edge, error) {
	if err := edge.Validate(); err != nil {
		return nil, errors.WrapValidation(err, "GraphRepository", "CreateEdge", "edge validation")
	}

	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now().UTC()
	}

	props, err := edge.Properties.JSON()
	if err != nil {
		return nil, errors.WrapValidation(err, "GraphRepository", "CreateEdge", "properties encoding")
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO edges
			(id, container_id, relationship_pair_id, origin_node_id,
			 destination_node_id, properties, data_source_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		edge.ID, edge.ContainerID, edge.RelationshipPairID,
		edge.OriginNodeID, edge.DestinationNodeID, props,
		nullable(edge.DataSourceID), edge.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "GraphRepository", "CreateEdge", "edge write")
	}

	return edge, nil
}

// FindByRelationship returns every edge whose relationship pair matches the
// (origin metatype, relationship, destination metatype) name triple.
func (r *Repository) FindByRelationship(ctx context.Context, containerID, originName, relationshipName, destinationName string) ([]*graph.Edge, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.id, e.container_id, e.relationship_pair_id,
		        e.origin_node_id, e.destination_node_id, e.properties,
		        e.data_source_id, e.created_at
		 FROM edges e
		 JOIN metatype_relationship_pairs p ON p.id = e.relationship_pair_id
		 JOIN metatypes o ON o.id = p.origin_metatype_id
		 JOIN metatype_relationships rel ON rel.id = p.relationship_id
		 JOIN metatypes d ON d.id = p.destination_metatype_id
		 WHERE e.container_id = $1 AND o.name = $2 AND rel.name = $3
		   AND d.name = $4 AND e.deleted_at IS NULL`,
		containerID, originName, relationshipName, destinationName)
	if err != nil {
		return nil, errors.Wrap(err, "GraphRepository", "FindByRelationship", "edge read")
	}
	defer func() { _ = rows.Close() }()

	var edges []*graph.Edge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, errors.Wrap(err, "GraphRepository", "FindByRelationship", "edge scan")
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "GraphRepository", "FindByRelationship", "edge iteration")
	}

	return edges, nil
}

// EdgesForNodes returns all edges originating from the given node ids,
// grouped by origin node.
func (r *Repository) EdgesForNodes(ctx context.Context, containerID string, nodeIDs []string) (map[string][]*graph.Edge, error) {
	byOrigin := make(map[string][]*graph.Edge)
	if len(nodeIDs) == 0 {
		return byOrigin, nil
	}

	query, args := buildInQuery(
		`SELECT id, container_id, relationship_pair_id, origin_node_id,
		        destination_node_id, properties, data_source_id, created_at
		 FROM edges
		 WHERE container_id = $1 AND deleted_at IS NULL AND origin_node_id IN `,
		[]any{containerID}, nodeIDs)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "GraphRepository", "EdgesForNodes", "edge read")
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, errors.Wrap(err, "GraphRepository", "EdgesForNodes", "edge scan")
		}
		byOrigin[edge.OriginNodeID] = append(byOrigin[edge.OriginNodeID], edge)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "GraphRepository", "EdgesForNodes", "edge iteration")
	}

	return byOrigin, nil
}

func scanEdge(rows *sql.Rows) (*graph.Edge, error) {
	edge := &graph.Edge{}
	var props string
	var dataSourceID sql.NullString
	if err := rows.Scan(&edge.ID, &edge.ContainerID, &edge.RelationshipPairID,
		&edge.OriginNodeID, &edge.DestinationNodeID, &props,
		&dataSourceID, &edge.CreatedAt); err != nil {
		return nil, err
	}
	edge.DataSourceID = dataSourceID.String

	parsed, err := graph.ParseProperties(props)
	if err != nil {
		return nil, err
	}
	edge.Properties = parsed
	return edge, nil
}

func requireRowAffected(result sql.Result, component, method string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, component, method, "rows affected")
	}
	if affected == 0 {
		return errors.WrapNotFound(errors.ErrContainerMismatch, component, method, "node lookup")
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
