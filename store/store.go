// Package store opens and migrates the warehouse database. Both an embedded
// sqlite database and postgres are supported behind database/sql; everything
// above this package speaks portable SQL with $N placeholders plus the small
// Dialect surface for JSON property extraction.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // embedded sqlite driver

	"github.com/c360/metagraph/errors"
)

// Dialect identifies the SQL flavor of the open database
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Valid reports whether the dialect is supported
func (d Dialect) Valid() bool {
	return d == DialectSQLite || d == DialectPostgres
}

// PropertyExpr returns the SQL expression extracting a node property value
// from the JSON properties column. The property name is passed as the query
// parameter at position argPos, never interpolated.
func (d Dialect) PropertyExpr(argPos int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("(properties::jsonb ->> $%d)", argPos)
	}
	return fmt.Sprintf("json_extract(properties, '$.' || $%d)", argPos)
}

// NumericPropertyExpr returns the SQL expression extracting a node property
// as a number for numeric comparison semantics.
func (d Dialect) NumericPropertyExpr(argPos int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("((properties::jsonb ->> $%d)::double precision)", argPos)
	}
	return fmt.Sprintf("CAST(json_extract(properties, '$.' || $%d) AS REAL)", argPos)
}

// Open opens the warehouse database for the given driver and DSN
func Open(driver, dsn string) (*sql.DB, Dialect, error) {
	var dialect Dialect
	var driverName string

	switch driver {
	case "sqlite":
		dialect = DialectSQLite
		driverName = "sqlite"
	case "postgres":
		dialect = DialectPostgres
		driverName = "postgres"
	default:
		return nil, "", errors.WrapValidation(
			fmt.Errorf("unsupported database driver %q", driver),
			"Store", "Open", "driver selection")
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, "", errors.Wrap(err, "Store", "Open", "open database")
	}

	if dialect == DialectSQLite {
		// modernc sqlite serializes writes; a small pool avoids lock churn
		db.SetMaxOpenConns(4)
	}

	return db, dialect, nil
}

// Migrate creates the warehouse tables if they do not exist. Statements are
// written in the portable subset both dialects accept.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "Store", "Migrate", "apply migration")
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS containers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS metatypes (
		id TEXT PRIMARY KEY,
		container_id TEXT NOT NULL REFERENCES containers(id),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		modified_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS metatype_keys (
		id TEXT PRIMARY KEY,
		metatype_id TEXT NOT NULL REFERENCES metatypes(id),
		name TEXT NOT NULL,
		property_name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		data_type TEXT NOT NULL,
		required BOOLEAN NOT NULL DEFAULT FALSE,
		options TEXT,
		ordinal INTEGER NOT NULL DEFAULT 0,
		deleted_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS metatype_relationships (
		id TEXT PRIMARY KEY,
		container_id TEXT NOT NULL REFERENCES containers(id),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		deleted_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS metatype_relationship_pairs (
		id TEXT PRIMARY KEY,
		container_id TEXT NOT NULL REFERENCES containers(id),
		relationship_id TEXT NOT NULL REFERENCES metatype_relationships(id),
		origin_metatype_id TEXT NOT NULL REFERENCES metatypes(id),
		destination_metatype_id TEXT NOT NULL REFERENCES metatypes(id),
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		container_id TEXT NOT NULL REFERENCES containers(id),
		metatype_id TEXT NOT NULL REFERENCES metatypes(id),
		metatype_name TEXT NOT NULL,
		graph_id TEXT,
		properties TEXT NOT NULL DEFAULT '{}',
		original_data_id TEXT,
		data_source_id TEXT,
		import_data_id TEXT,
		data_type_mapping_id TEXT,
		metadata TEXT,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		modified_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS nodes_external_identity_idx
		ON nodes (original_data_id, data_source_id)
		WHERE original_data_id IS NOT NULL AND data_source_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS edges (
		id TEXT PRIMARY KEY,
		container_id TEXT NOT NULL REFERENCES containers(id),
		relationship_pair_id TEXT NOT NULL REFERENCES metatype_relationship_pairs(id),
		origin_node_id TEXT NOT NULL REFERENCES nodes(id),
		destination_node_id TEXT NOT NULL REFERENCES nodes(id),
		properties TEXT NOT NULL DEFAULT '{}',
		data_source_id TEXT,
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS type_mappings (
		id TEXT PRIMARY KEY,
		container_id TEXT NOT NULL REFERENCES containers(id),
		data_source_id TEXT NOT NULL,
		shape_hash TEXT NOT NULL,
		sample_payload TEXT,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		modified_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS type_mappings_shape_idx
		ON type_mappings (data_source_id, shape_hash)`,
	`CREATE TABLE IF NOT EXISTS type_transformations (
		id TEXT PRIMARY KEY,
		type_mapping_id TEXT NOT NULL REFERENCES type_mappings(id),
		metatype_id TEXT,
		metatype_name TEXT,
		relationship_pair_id TEXT,
		relationship_pair_name TEXT,
		conditions TEXT,
		keys TEXT NOT NULL DEFAULT '[]',
		root_array TEXT,
		origin_id_key TEXT,
		destination_id_key TEXT,
		unique_identifier_key TEXT,
		created_at TIMESTAMP NOT NULL,
		modified_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS changelists (
		id TEXT PRIMARY KEY,
		container_id TEXT NOT NULL REFERENCES containers(id),
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		base_ontology_version TEXT NOT NULL DEFAULT '',
		applied_at TIMESTAMP,
		created_by TEXT NOT NULL DEFAULT '',
		payload TEXT,
		created_at TIMESTAMP NOT NULL,
		modified_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS changelist_approvals (
		id TEXT PRIMARY KEY,
		changelist_id TEXT NOT NULL REFERENCES changelists(id),
		approved_by TEXT NOT NULL,
		approved_at TIMESTAMP NOT NULL
	)`,
}
