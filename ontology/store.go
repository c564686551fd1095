package ontology

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/c360/metagraph/errors"
)

// Store provides read access to a container's ontology. Implementations must
// satisfy the two-bulk-read contract: one read for metatypes (with keys when
// requested), one read for relationship pairs, regardless of ontology size.
type Store interface {
	// ListMetatypes returns every metatype in the container. When withKeys is
	// true each metatype carries its ordered key set.
	ListMetatypes(ctx context.Context, containerID string, withKeys bool) ([]*Metatype, error)

	// ListRelationshipPairs returns every relationship pair in the container.
	ListRelationshipPairs(ctx context.Context, containerID string) ([]*MetatypeRelationshipPair, error)
}

// SQLStore reads the ontology from the warehouse database
type SQLStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLStore creates an ontology store over the given database handle
func NewSQLStore(db *sql.DB, logger *slog.Logger) *SQLStore {
	return &SQLStore{
		db:     db,
		logger: logger.With("component", "ontology-store"),
	}
}

// ListMetatypes returns all metatypes for a container with exactly one bulk
// read, plus one bulk key read when withKeys is set. Never one-query-per-
// metatype: schema generation calls this on every ontology change.
func (s *SQLStore) ListMetatypes(ctx context.Context, containerID string, withKeys bool) ([]*Metatype, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, container_id, name, description, created_at, modified_at
		 FROM metatypes
		 WHERE container_id = $1 AND deleted_at IS NULL
		 ORDER BY name`, containerID)
	if err != nil {
		return nil, errors.Wrap(err, "OntologyStore", "ListMetatypes", "metatype read")
	}
	defer func() { _ = rows.Close() }()

	var metatypes []*Metatype
	byID := make(map[string]*Metatype)
	for rows.Next() {
		m := &Metatype{}
		if err := rows.Scan(&m.ID, &m.ContainerID, &m.Name, &m.Description,
			&m.CreatedAt, &m.ModifiedAt); err != nil {
			return nil, errors.Wrap(err, "OntologyStore", "ListMetatypes", "metatype scan")
		}
		metatypes = append(metatypes, m)
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "OntologyStore", "ListMetatypes", "metatype iteration")
	}

	if !withKeys || len(metatypes) == 0 {
		return metatypes, nil
	}

	if err := s.attachKeys(ctx, containerID, byID); err != nil {
		return nil, err
	}
	return metatypes, nil
}

// attachKeys loads every key in the container in one read and attaches them
// to their owning metatypes in declaration order.
func (s *SQLStore) attachKeys(ctx context.Context, containerID string, byID map[string]*Metatype) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT k.id, k.metatype_id, k.name, k.property_name, k.description,
		        k.data_type, k.required, k.options
		 FROM metatype_keys k
		 JOIN metatypes m ON m.id = k.metatype_id
		 WHERE m.container_id = $1 AND k.deleted_at IS NULL
		 ORDER BY k.metatype_id, k.ordinal`, containerID)
	if err != nil {
		return errors.Wrap(err, "OntologyStore", "ListMetatypes", "key read")
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var k MetatypeKey
		var dataType string
		var options sql.NullString
		if err := rows.Scan(&k.ID, &k.MetatypeID, &k.Name, &k.PropertyName,
			&k.Description, &dataType, &k.Required, &options); err != nil {
			return errors.Wrap(err, "OntologyStore", "ListMetatypes", "key scan")
		}
		k.DataType = DataType(dataType)

		if options.Valid && options.String != "" {
			if err := json.Unmarshal([]byte(options.String), &k.Options); err != nil {
				// A malformed options column should not hide the whole
				// ontology; log and leave the enum without options.
				s.logger.Warn("metatype key options unreadable",
					"key_id", k.ID, "error", err)
			}
		}

		if m, ok := byID[k.MetatypeID]; ok {
			m.Keys = append(m.Keys, k)
		}
	}
	return errors.Wrap(rows.Err(), "OntologyStore", "ListMetatypes", "key iteration")
}

// ListRelationshipPairs returns all relationship pairs for a container in one
// bulk read, with origin/relationship/destination names denormalized.
func (s *SQLStore) ListRelationshipPairs(ctx context.Context, containerID string) ([]*MetatypeRelationshipPair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.container_id, p.relationship_id,
		        p.origin_metatype_id, p.destination_metatype_id,
		        o.name, r.name, d.name, p.created_at
		 FROM metatype_relationship_pairs p
		 JOIN metatypes o ON o.id = p.origin_metatype_id
		 JOIN metatypes d ON d.id = p.destination_metatype_id
		 JOIN metatype_relationships r ON r.id = p.relationship_id
		 WHERE p.container_id = $1 AND p.deleted_at IS NULL
		 ORDER BY o.name, r.name, d.name`, containerID)
	if err != nil {
		return nil, errors.Wrap(err, "OntologyStore", "ListRelationshipPairs", "pair read")
	}
	defer func() { _ = rows.Close() }()

	var pairs []*MetatypeRelationshipPair
	for rows.Next() {
		p := &MetatypeRelationshipPair{}
		if err := rows.Scan(&p.ID, &p.ContainerID, &p.RelationshipID,
			&p.OriginMetatypeID, &p.DestinationMetatypeID,
			&p.OriginMetatypeName, &p.RelationshipName, &p.DestinationMetatypeName,
			&p.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "OntologyStore", "ListRelationshipPairs", "pair scan")
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "OntologyStore", "ListRelationshipPairs", "pair iteration")
	}

	return pairs, nil
}

var _ Store = (*SQLStore)(nil)
