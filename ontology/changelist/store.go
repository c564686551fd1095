package changelist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/metagraph/errors"
	"github.com/c360/metagraph/events"
	"github.com/c360/metagraph/ontology"
)

// Store persists changelists and their approvals
type Store struct {
	db        *sql.DB
	ont       ontology.Store
	publisher *events.Publisher
	logger    *slog.Logger
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithPublisher announces applied changelists as ontology-change events so
// gateways drop their cached schemas
func WithPublisher(p *events.Publisher) StoreOption {
	return func(s *Store) { s.publisher = p }
}

// NewStore creates changelist storage. The ontology store supplies the
// snapshot a changelist is populated from.
func NewStore(db *sql.DB, ont ontology.Store, logger *slog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		db:     db,
		ont:    ont,
		logger: logger.With("component", "changelist-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Populate creates a pending changelist whose payload snapshots the
// container's ontology. baseVersion labels the ontology version the edits
// are built against; empty means the current version. The payload never
// changes after this; edits accumulate inside it through the review tooling
// and only status and approvals mutate on the record itself.
func (s *Store) Populate(ctx context.Context, containerID, name, baseVersion, createdBy string) (*Record, error) {
	metatypes, err := s.ont.ListMetatypes(ctx, containerID, true)
	if err != nil {
		return nil, errors.Wrap(err, "ChangelistStore", "Populate", "metatype snapshot")
	}
	pairs, err := s.ont.ListRelationshipPairs(ctx, containerID)
	if err != nil {
		return nil, errors.Wrap(err, "ChangelistStore", "Populate", "relationship pair snapshot")
	}

	payload, err := json.Marshal(&Snapshot{Metatypes: metatypes, RelationshipPairs: pairs})
	if err != nil {
		return nil, errors.Wrap(err, "ChangelistStore", "Populate", "snapshot encode")
	}

	record := newRecord(containerID, name, baseVersion, createdBy, payload)
	if err := record.Validate(); err != nil {
		return nil, errors.WrapValidation(err, "ChangelistStore", "Populate", "record validation")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO changelists
			(id, container_id, name, status, base_ontology_version,
			 created_by, payload, created_at, modified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID, record.ContainerID, record.Name, string(record.Status),
		record.BaseOntologyVersion, record.CreatedBy, string(payload),
		record.CreatedAt, record.ModifiedAt)
	if err != nil {
		return nil, errors.Wrap(err, "ChangelistStore", "Populate", "changelist insert")
	}

	s.logger.Info("changelist populated",
		"changelist_id", record.ID,
		"container_id", containerID,
		"base_version", record.BaseOntologyVersion,
		"metatypes", len(metatypes),
		"relationship_pairs", len(pairs))
	return record, nil
}

// newRecord assembles a pending changelist record around a snapshot payload
func newRecord(containerID, name, baseVersion, createdBy string, payload json.RawMessage) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:                  uuid.NewString(),
		ContainerID:         containerID,
		Name:                name,
		Status:              StatusPending,
		BaseOntologyVersion: baseVersion,
		Payload:             payload,
		CreatedBy:           createdBy,
		CreatedAt:           now,
		ModifiedAt:          now,
	}
}

// FindByID loads one changelist including its payload. This is the only read
// that loads the payload column.
func (s *Store) FindByID(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, container_id, name, status, base_ontology_version,
		        applied_at, created_by, payload, created_at, modified_at
		 FROM changelists WHERE id = $1`, id)

	record := &Record{}
	var status string
	var appliedAt sql.NullTime
	var payload sql.NullString
	err := row.Scan(&record.ID, &record.ContainerID, &record.Name, &status,
		&record.BaseOntologyVersion, &appliedAt, &record.CreatedBy,
		&payload, &record.CreatedAt, &record.ModifiedAt)
	if err == sql.ErrNoRows {
		return nil, errors.WrapNotFound(errors.ErrChangelistNotFound, "ChangelistStore", "FindByID", "changelist lookup")
	}
	if err != nil {
		return nil, errors.Wrap(err, "ChangelistStore", "FindByID", "changelist scan")
	}

	record.Status = Status(status)
	if appliedAt.Valid {
		record.AppliedAt = &appliedAt.Time
	}
	if payload.Valid {
		record.Payload = json.RawMessage(payload.String)
	}
	return record, nil
}

// List returns a container's changelists as lightweight projections: the
// payload column is deliberately excluded and stays nil on every record.
func (s *Store) List(ctx context.Context, containerID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, container_id, name, status, base_ontology_version,
		        applied_at, created_by, created_at, modified_at
		 FROM changelists
		 WHERE container_id = $1
		 ORDER BY created_at DESC, id`, containerID)
	if err != nil {
		return nil, errors.Wrap(err, "ChangelistStore", "List", "changelist read")
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		record := &Record{}
		var status string
		var appliedAt sql.NullTime
		if err := rows.Scan(&record.ID, &record.ContainerID, &record.Name,
			&status, &record.BaseOntologyVersion, &appliedAt,
			&record.CreatedBy, &record.CreatedAt, &record.ModifiedAt); err != nil {
			return nil, errors.Wrap(err, "ChangelistStore", "List", "changelist scan")
		}
		record.Status = Status(status)
		if appliedAt.Valid {
			record.AppliedAt = &appliedAt.Time
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "ChangelistStore", "List", "changelist iteration")
	}
	return records, nil
}

// Count returns the number of changelists in a container
func (s *Store) Count(ctx context.Context, containerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(id) FROM changelists WHERE container_id = $1`,
		containerID).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "ChangelistStore", "Count", "changelist count")
	}
	return count, nil
}

// SetStatus atomically moves a changelist to a new status. The transition is
// enforced in the UPDATE itself: the row only changes when its current status
// still allows the move, so two racing transitions cannot both win.
func (s *Store) SetStatus(ctx context.Context, id string, to Status) error {
	if !to.Valid() {
		return errors.WrapValidation(errors.ErrInvalidStatusChange,
			"ChangelistStore", "SetStatus", fmt.Sprintf("unknown status %q", to))
	}

	current, containerID, err := s.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(current, to) {
		return errors.WrapValidation(errors.ErrInvalidStatusChange,
			"ChangelistStore", "SetStatus",
			fmt.Sprintf("transition %s to %s", current, to))
	}

	if err := s.setStatusFrom(ctx, id, current, to); err != nil {
		return err
	}
	if to == StatusApplied {
		s.publisher.OntologyChanged(containerID)
	}
	return nil
}

func (s *Store) setStatusFrom(ctx context.Context, id string, from, to Status) error {
	query := `UPDATE changelists SET status = $1, modified_at = $2 WHERE id = $3 AND status = $4`
	args := []any{string(to), time.Now().UTC(), id, string(from)}
	if to == StatusApplied {
		query = `UPDATE changelists SET status = $1, modified_at = $2, applied_at = $2
		         WHERE id = $3 AND status = $4`
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "ChangelistStore", "SetStatus", "status update")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "ChangelistStore", "SetStatus", "rows affected")
	}
	if affected == 0 {
		return errors.WrapConflict(errors.ErrInvalidStatusChange,
			"ChangelistStore", "SetStatus", "concurrent status change")
	}
	return nil
}

func (s *Store) currentStatus(ctx context.Context, id string) (Status, string, error) {
	var status, containerID string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, container_id FROM changelists WHERE id = $1`, id).Scan(&status, &containerID)
	if err == sql.ErrNoRows {
		return "", "", errors.WrapNotFound(errors.ErrChangelistNotFound, "ChangelistStore", "currentStatus", "changelist lookup")
	}
	if err != nil {
		return "", "", errors.Wrap(err, "ChangelistStore", "currentStatus", "status read")
	}
	return Status(status), containerID, nil
}

// Approve records exactly one approval event and moves the changelist to
// approved, atomically.
func (s *Store) Approve(ctx context.Context, id, approverID string) (*Approval, error) {
	current, _, err := s.currentStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current, StatusApproved) {
		return nil, errors.WrapValidation(errors.ErrInvalidStatusChange,
			"ChangelistStore", "Approve",
			fmt.Sprintf("transition %s to %s", current, StatusApproved))
	}

	approval := &Approval{
		ID:           uuid.NewString(),
		ChangelistID: id,
		ApprovedBy:   approverID,
		ApprovedAt:   time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.WrapTransaction(err, "ChangelistStore", "Approve", "transaction begin")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO changelist_approvals (id, changelist_id, approved_by, approved_at)
		 VALUES ($1, $2, $3, $4)`,
		approval.ID, approval.ChangelistID, approval.ApprovedBy, approval.ApprovedAt); err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, "ChangelistStore", "Approve", "approval insert")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE changelists SET status = $1, modified_at = $2
		 WHERE id = $3 AND status = $4`,
		string(StatusApproved), approval.ApprovedAt, id, string(current)); err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, "ChangelistStore", "Approve", "status update")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.WrapTransaction(err, "ChangelistStore", "Approve", "transaction commit")
	}
	return approval, nil
}

// RevokeApproval hard-deletes every approval for the changelist and resets
// its status to rejected, atomically.
func (s *Store) RevokeApproval(ctx context.Context, id string) error {
	current, _, err := s.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(current, StatusRejected) {
		return errors.WrapValidation(errors.ErrInvalidStatusChange,
			"ChangelistStore", "RevokeApproval",
			fmt.Sprintf("transition %s to %s", current, StatusRejected))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransaction(err, "ChangelistStore", "RevokeApproval", "transaction begin")
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM changelist_approvals WHERE changelist_id = $1`, id); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "ChangelistStore", "RevokeApproval", "approval delete")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE changelists SET status = $1, modified_at = $2
		 WHERE id = $3 AND status = $4`,
		string(StatusRejected), time.Now().UTC(), id, string(current)); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "ChangelistStore", "RevokeApproval", "status update")
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapTransaction(err, "ChangelistStore", "RevokeApproval", "transaction commit")
	}
	return nil
}

// ListApprovals returns a changelist's approval events
func (s *Store) ListApprovals(ctx context.Context, id string) ([]*Approval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, changelist_id, approved_by, approved_at
		 FROM changelist_approvals
		 WHERE changelist_id = $1
		 ORDER BY approved_at, id`, id)
	if err != nil {
		return nil, errors.Wrap(err, "ChangelistStore", "ListApprovals", "approval read")
	}
	defer func() { _ = rows.Close() }()

	var approvals []*Approval
	for rows.Next() {
		a := &Approval{}
		if err := rows.Scan(&a.ID, &a.ChangelistID, &a.ApprovedBy, &a.ApprovedAt); err != nil {
			return nil, errors.Wrap(err, "ChangelistStore", "ListApprovals", "approval scan")
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "ChangelistStore", "ListApprovals", "approval iteration")
	}
	return approvals, nil
}
