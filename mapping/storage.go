package mapping

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/c360/metagraph/errors"
)

// Storage is the persistence boundary for mappings and their transformations.
// Multi-statement writes go through a Tx so a failed transformation write
// never leaves a half-saved mapping behind.
type Storage interface {
	// FindByID loads a mapping with its full transformation set
	FindByID(ctx context.Context, id string) (*TypeMapping, error)

	// FindByShape loads the mapping for a (data source, shape hash) pair with
	// its full transformation set
	FindByShape(ctx context.Context, dataSourceID, shapeHash string) (*TypeMapping, error)

	// Delete removes a mapping and its transformations
	Delete(ctx context.Context, id string) error

	// Begin opens a transaction for mapping and transformation writes
	Begin(ctx context.Context) (Tx, error)
}

// Tx groups mapping and transformation writes into one atomic unit
type Tx interface {
	CreateMapping(ctx context.Context, m *TypeMapping) error
	UpdateMapping(ctx context.Context, m *TypeMapping) error
	CreateTransformations(ctx context.Context, ts []*TypeTransformation) error
	UpdateTransformations(ctx context.Context, ts []*TypeTransformation) error
	DeleteTransformations(ctx context.Context, ids []string) error
	Commit() error
	Rollback() error
}

// SQLStorage persists mappings in the warehouse database
type SQLStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLStorage creates mapping storage over the given database handle
func NewSQLStorage(db *sql.DB, logger *slog.Logger) *SQLStorage {
	return &SQLStorage{
		db:     db,
		logger: logger.With("component", "mapping-storage"),
	}
}

const mappingColumns = `id, container_id, data_source_id, shape_hash, sample_payload,
	active, created_at, modified_at`

// FindByID loads one mapping and all of its transformations
func (s *SQLStorage) FindByID(ctx context.Context, id string) (*TypeMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mappingColumns+` FROM type_mappings WHERE id = $1`, id)
	return s.loadMapping(ctx, row)
}

// FindByShape loads the mapping matching a (data source, shape hash) pair
func (s *SQLStorage) FindByShape(ctx context.Context, dataSourceID, shapeHash string) (*TypeMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mappingColumns+` FROM type_mappings
		 WHERE data_source_id = $1 AND shape_hash = $2`, dataSourceID, shapeHash)
	return s.loadMapping(ctx, row)
}

func (s *SQLStorage) loadMapping(ctx context.Context, row *sql.Row) (*TypeMapping, error) {
	m := &TypeMapping{}
	var sample sql.NullString
	err := row.Scan(&m.ID, &m.ContainerID, &m.DataSourceID, &m.ShapeHash,
		&sample, &m.Active, &m.CreatedAt, &m.ModifiedAt)
	if err == sql.ErrNoRows {
		return nil, errors.WrapNotFound(errors.ErrMappingNotFound, "MappingStorage", "loadMapping", "mapping lookup")
	}
	if err != nil {
		return nil, errors.Wrap(err, "MappingStorage", "loadMapping", "mapping scan")
	}
	if sample.Valid {
		m.SamplePayload = json.RawMessage(sample.String)
	}

	if err := s.loadTransformations(ctx, m); err != nil {
		return nil, err
	}
	m.FullyLoaded = true
	return m, nil
}

func (s *SQLStorage) loadTransformations(ctx context.Context, m *TypeMapping) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type_mapping_id, metatype_id, metatype_name,
		        relationship_pair_id, relationship_pair_name, conditions, keys,
		        root_array, origin_id_key, destination_id_key,
		        unique_identifier_key, created_at, modified_at
		 FROM type_transformations
		 WHERE type_mapping_id = $1
		 ORDER BY created_at, id`, m.ID)
	if err != nil {
		return errors.Wrap(err, "MappingStorage", "loadTransformations", "transformation read")
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		tr := &TypeTransformation{}
		var metatypeID, metatypeName, pairID, pairName sql.NullString
		var conditions, keys sql.NullString
		var rootArray, originKey, destKey, uniqueKey sql.NullString
		if err := rows.Scan(&tr.ID, &tr.TypeMappingID, &metatypeID, &metatypeName,
			&pairID, &pairName, &conditions, &keys,
			&rootArray, &originKey, &destKey, &uniqueKey,
			&tr.CreatedAt, &tr.ModifiedAt); err != nil {
			return errors.Wrap(err, "MappingStorage", "loadTransformations", "transformation scan")
		}

		tr.MetatypeID = metatypeID.String
		tr.MetatypeName = metatypeName.String
		tr.RelationshipPairID = pairID.String
		tr.RelationshipPairName = pairName.String
		tr.RootArray = rootArray.String
		tr.OriginIDKey = originKey.String
		tr.DestinationIDKey = destKey.String
		tr.UniqueIdentifierKey = uniqueKey.String

		if conditions.Valid && conditions.String != "" {
			if err := json.Unmarshal([]byte(conditions.String), &tr.Conditions); err != nil {
				return errors.Wrap(err, "MappingStorage", "loadTransformations", "conditions decode")
			}
		}
		if keys.Valid && keys.String != "" {
			if err := json.Unmarshal([]byte(keys.String), &tr.Keys); err != nil {
				return errors.Wrap(err, "MappingStorage", "loadTransformations", "keys decode")
			}
		}

		m.Transformations = append(m.Transformations, tr)
	}
	return errors.Wrap(rows.Err(), "MappingStorage", "loadTransformations", "transformation iteration")
}

// Delete removes a mapping and its owned transformations
func (s *SQLStorage) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransaction(err, "MappingStorage", "Delete", "transaction begin")
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM type_transformations WHERE type_mapping_id = $1`, id); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "MappingStorage", "Delete", "transformation delete")
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM type_mappings WHERE id = $1`, id); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "MappingStorage", "Delete", "mapping delete")
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapTransaction(err, "MappingStorage", "Delete", "transaction commit")
	}
	return nil
}

// Begin opens a mapping write transaction
func (s *SQLStorage) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.WrapTransaction(err, "MappingStorage", "Begin", "transaction begin")
	}
	return &sqlTx{tx: tx}, nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) CreateMapping(ctx context.Context, m *TypeMapping) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO type_mappings
			(id, container_id, data_source_id, shape_hash, sample_payload,
			 active, created_at, modified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ContainerID, m.DataSourceID, m.ShapeHash,
		string(m.SamplePayload), m.Active, m.CreatedAt, m.ModifiedAt)
	if err != nil {
		if errors.IsConflict(err) {
			return errors.WrapConflict(errors.ErrDuplicateShape, "MappingStorage", "CreateMapping", "mapping insert")
		}
		return errors.Wrap(err, "MappingStorage", "CreateMapping", "mapping insert")
	}
	return nil
}

func (t *sqlTx) UpdateMapping(ctx context.Context, m *TypeMapping) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE type_mappings
		 SET sample_payload = $1, active = $2, modified_at = $3
		 WHERE id = $4`,
		string(m.SamplePayload), m.Active, m.ModifiedAt, m.ID)
	if err != nil {
		return errors.Wrap(err, "MappingStorage", "UpdateMapping", "mapping update")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "MappingStorage", "UpdateMapping", "rows affected")
	}
	if affected == 0 {
		return errors.WrapNotFound(errors.ErrMappingNotFound, "MappingStorage", "UpdateMapping", "mapping lookup")
	}
	return nil
}

func (t *sqlTx) CreateTransformations(ctx context.Context, ts []*TypeTransformation) error {
	for _, tr := range ts {
		conditions, keys, err := encodeTransformation(tr)
		if err != nil {
			return err
		}
		_, err = t.tx.ExecContext(ctx,
			`INSERT INTO type_transformations
				(id, type_mapping_id, metatype_id, metatype_name,
				 relationship_pair_id, relationship_pair_name, conditions, keys,
				 root_array, origin_id_key, destination_id_key,
				 unique_identifier_key, created_at, modified_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			tr.ID, tr.TypeMappingID,
			nullable(tr.MetatypeID), nullable(tr.MetatypeName),
			nullable(tr.RelationshipPairID), nullable(tr.RelationshipPairName),
			conditions, keys,
			nullable(tr.RootArray), nullable(tr.OriginIDKey),
			nullable(tr.DestinationIDKey), nullable(tr.UniqueIdentifierKey),
			tr.CreatedAt, tr.ModifiedAt)
		if err != nil {
			return errors.Wrap(err, "MappingStorage", "CreateTransformations", "transformation insert")
		}
	}
	return nil
}

func (t *sqlTx) UpdateTransformations(ctx context.Context, ts []*TypeTransformation) error {
	for _, tr := range ts {
		conditions, keys, err := encodeTransformation(tr)
		if err != nil {
			return err
		}
		_, err = t.tx.ExecContext(ctx,
			`UPDATE type_transformations
			 SET metatype_id = $1, metatype_name = $2,
			     relationship_pair_id = $3, relationship_pair_name = $4,
			     conditions = $5, keys = $6, root_array = $7,
			     origin_id_key = $8, destination_id_key = $9,
			     unique_identifier_key = $10, modified_at = $11
			 WHERE id = $12 AND type_mapping_id = $13`,
			nullable(tr.MetatypeID), nullable(tr.MetatypeName),
			nullable(tr.RelationshipPairID), nullable(tr.RelationshipPairName),
			conditions, keys, nullable(tr.RootArray),
			nullable(tr.OriginIDKey), nullable(tr.DestinationIDKey),
			nullable(tr.UniqueIdentifierKey), tr.ModifiedAt,
			tr.ID, tr.TypeMappingID)
		if err != nil {
			return errors.Wrap(err, "MappingStorage", "UpdateTransformations", "transformation update")
		}
	}
	return nil
}

func (t *sqlTx) DeleteTransformations(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := t.tx.ExecContext(ctx,
			`DELETE FROM type_transformations WHERE id = $1`, id); err != nil {
			return errors.Wrap(err, "MappingStorage", "DeleteTransformations", "transformation delete")
		}
	}
	return nil
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return errors.WrapTransaction(err, "MappingStorage", "Commit", "transaction commit")
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		return errors.WrapTransaction(err, "MappingStorage", "Rollback", "transaction rollback")
	}
	return nil
}

func encodeTransformation(tr *TypeTransformation) (conditions, keys string, err error) {
	condBytes, err := json.Marshal(tr.Conditions)
	if err != nil {
		return "", "", errors.WrapValidation(err, "MappingStorage", "encodeTransformation", "conditions encode")
	}
	keyBytes, err := json.Marshal(tr.Keys)
	if err != nil {
		return "", "", errors.WrapValidation(err, "MappingStorage", "encodeTransformation", "keys encode")
	}
	return string(condBytes), string(keyBytes), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Storage = (*SQLStorage)(nil)
