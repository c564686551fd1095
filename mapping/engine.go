package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/metagraph/errors"
	"github.com/c360/metagraph/events"
	"github.com/c360/metagraph/graph"
	"github.com/c360/metagraph/pkg/retry"
)

// Engine coordinates mapping lookup, persistence, and transformation
// application. It is the only writer of mappings; ingest and the gateway go
// through it rather than touching Storage directly.
type Engine struct {
	storage   Storage
	publisher *events.Publisher
	logger    *slog.Logger
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithPublisher emits a mapping-saved event after every successful save
func WithPublisher(p *events.Publisher) EngineOption {
	return func(e *Engine) { e.publisher = p }
}

// NewEngine creates a mapping engine over the given storage
func NewEngine(storage Storage, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		storage: storage,
		logger:  logger.With("component", "mapping-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FindOrCreateForPayload resolves the mapping for a payload's shape, creating
// an inactive placeholder mapping on first sight of a new shape. Two workers
// seeing the same new shape race on the (data source, shape hash) unique
// index; the loser retries the lookup and adopts the winner's row.
func (e *Engine) FindOrCreateForPayload(ctx context.Context, containerID, dataSourceID string, payload map[string]any) (*TypeMapping, error) {
	shapeHash := ShapeHash(payload)

	var found *TypeMapping
	err := retry.Do(ctx, retry.ConflictConfig(), func() error {
		m, err := e.storage.FindByShape(ctx, dataSourceID, shapeHash)
		if err == nil {
			found = m
			return nil
		}
		if !errors.IsNotFound(err) {
			return retry.NonRetryable(err)
		}

		created, err := e.createPlaceholder(ctx, containerID, dataSourceID, shapeHash, payload)
		if err != nil {
			if errors.IsConflict(err) {
				// Another worker won the insert; loop back to the lookup
				return err
			}
			return retry.NonRetryable(err)
		}
		found = created
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "MappingEngine", "FindOrCreateForPayload", "shape resolution")
	}
	return found, nil
}

func (e *Engine) createPlaceholder(ctx context.Context, containerID, dataSourceID, shapeHash string, payload map[string]any) (*TypeMapping, error) {
	sample, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WrapValidation(err, "MappingEngine", "createPlaceholder", "sample payload encode")
	}

	now := time.Now().UTC()
	m := &TypeMapping{
		ID:            uuid.NewString(),
		ContainerID:   containerID,
		DataSourceID:  dataSourceID,
		ShapeHash:     shapeHash,
		SamplePayload: sample,
		Active:        false,
		CreatedAt:     now,
		ModifiedAt:    now,
		FullyLoaded:   true,
	}

	tx, err := e.storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if err := tx.CreateMapping(ctx, m); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.logger.Info("created placeholder mapping for new shape",
		"mapping_id", m.ID,
		"data_source_id", dataSourceID,
		"shape_hash", shapeHash)
	return m, nil
}

// Save persists a mapping and reconciles its transformation set against what
// is stored: transformations carrying an id are updated, those without are
// created, and stored transformations absent from the incoming set are
// deleted. The whole reconciliation is one transaction.
func (e *Engine) Save(ctx context.Context, m *TypeMapping) error {
	if err := m.Validate(); err != nil {
		return errors.WrapValidation(err, "MappingEngine", "Save", "mapping validation")
	}

	isNew := m.ID == ""
	if isNew {
		m.ID = uuid.NewString()
		m.CreatedAt = time.Now().UTC()
	}
	m.ModifiedAt = time.Now().UTC()

	var removed []string
	if !isNew {
		existing, err := e.storage.FindByID(ctx, m.ID)
		if err != nil {
			return err
		}
		removed = removedTransformationIDs(existing.Transformations, m.Transformations)

		// Drop the stale cached copy before writing so a concurrent read
		// during the transaction repopulates from the database afterwards
		if cached, ok := e.storage.(*CachedStorage); ok {
			cached.Invalidate(existing)
		}
	}

	var created, updated []*TypeTransformation
	for _, tr := range m.Transformations {
		tr.TypeMappingID = m.ID
		tr.ModifiedAt = m.ModifiedAt
		if tr.ID == "" {
			tr.ID = uuid.NewString()
			tr.CreatedAt = m.ModifiedAt
			created = append(created, tr)
		} else {
			updated = append(updated, tr)
		}
	}

	tx, err := e.storage.Begin(ctx)
	if err != nil {
		return err
	}

	writeMapping := tx.CreateMapping
	if !isNew {
		writeMapping = tx.UpdateMapping
	}

	if err := writeMapping(ctx, m); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.DeleteTransformations(ctx, removed); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.UpdateTransformations(ctx, updated); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.CreateTransformations(ctx, created); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	m.FullyLoaded = true
	e.publisher.MappingSaved(m.ContainerID, m.ID)
	e.logger.Debug("mapping saved",
		"mapping_id", m.ID,
		"created", len(created),
		"updated", len(updated),
		"removed", len(removed))
	return nil
}

// FindByID loads a mapping through the engine's storage
func (e *Engine) FindByID(ctx context.Context, id string) (*TypeMapping, error) {
	return e.storage.FindByID(ctx, id)
}

// Delete removes a mapping and its transformations
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.storage.Delete(ctx, id)
}

// SetActive flips a mapping's active flag. Only active mappings transform
// incoming records.
func (e *Engine) SetActive(ctx context.Context, id string, active bool) error {
	m, err := e.storage.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if m.Active == active {
		return nil
	}
	m.Active = active
	return e.Save(ctx, m)
}

func removedTransformationIDs(stored, incoming []*TypeTransformation) []string {
	keep := make(map[string]struct{}, len(incoming))
	for _, tr := range incoming {
		if tr.ID != "" {
			keep[tr.ID] = struct{}{}
		}
	}

	var removed []string
	for _, tr := range stored {
		if _, ok := keep[tr.ID]; !ok {
			removed = append(removed, tr.ID)
		}
	}
	return removed
}

// StagedEdge is an edge produced by transformation before its endpoints are
// resolved to node ids. Origin and destination carry the external identities
// the ingest layer resolves against (original_data_id, data_source_id).
type StagedEdge struct {
	RelationshipPairID    string
	RelationshipPairName  string
	OriginOriginalID      string
	DestinationOriginalID string
	Properties            graph.Properties
}

// StagedResult is the output of applying a mapping to one payload
type StagedResult struct {
	Nodes []*graph.Node
	Edges []*StagedEdge
}

// ApplyTransformations runs every transformation of the mapping against the
// payload and returns the staged nodes and edges. Records failing a
// transformation's conditions are skipped, not errors; a relationship record
// missing an endpoint identity is skipped with a warning.
func (e *Engine) ApplyTransformations(m *TypeMapping, payload map[string]any) (*StagedResult, error) {
	result := &StagedResult{}

	for _, tr := range m.Transformations {
		records, err := transformationRecords(tr, payload)
		if err != nil {
			return nil, errors.WrapValidation(err, "MappingEngine", "ApplyTransformations", "record extraction")
		}

		for _, record := range records {
			if !conditionsMet(tr.Conditions, record) {
				continue
			}

			properties := mapProperties(tr.Keys, record)

			switch {
			case tr.TargetsMetatype():
				node := &graph.Node{
					ContainerID:       m.ContainerID,
					MetatypeID:        tr.MetatypeID,
					MetatypeName:      tr.MetatypeName,
					DataSourceID:      m.DataSourceID,
					DataTypeMappingID: m.ID,
					Properties:        properties,
				}
				if tr.UniqueIdentifierKey != "" {
					node.OriginalDataID = lookupString(record, tr.UniqueIdentifierKey)
				}
				result.Nodes = append(result.Nodes, node)

			case tr.TargetsRelationship():
				origin := lookupString(record, tr.OriginIDKey)
				destination := lookupString(record, tr.DestinationIDKey)
				if origin == "" || destination == "" {
					e.logger.Warn("skipping relationship record missing endpoint identity",
						"mapping_id", m.ID,
						"transformation_id", tr.ID,
						"origin_key", tr.OriginIDKey,
						"destination_key", tr.DestinationIDKey)
					continue
				}
				result.Edges = append(result.Edges, &StagedEdge{
					RelationshipPairID:    tr.RelationshipPairID,
					RelationshipPairName:  tr.RelationshipPairName,
					OriginOriginalID:      origin,
					DestinationOriginalID: destination,
					Properties:            properties,
				})
			}
		}
	}

	return result, nil
}

// transformationRecords returns the records a rule applies to: the payload
// itself, or each element of the rule's root array.
func transformationRecords(tr *TypeTransformation, payload map[string]any) ([]map[string]any, error) {
	if tr.RootArray == "" {
		return []map[string]any{payload}, nil
	}

	value, ok := lookupPath(payload, tr.RootArray)
	if !ok {
		// A payload without the array simply yields no records
		return nil, nil
	}
	array, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("root array %q is not an array", tr.RootArray)
	}

	records := make([]map[string]any, 0, len(array))
	for _, element := range array {
		if record, ok := element.(map[string]any); ok {
			records = append(records, record)
		}
	}
	return records, nil
}

func conditionsMet(conditions []Condition, record map[string]any) bool {
	for _, c := range conditions {
		value, ok := lookupPath(record, c.Key)
		if !ok {
			return false
		}
		if !conditionHolds(c.Operator, value, c.Value) {
			return false
		}
	}
	return true
}

func conditionHolds(operator string, actual, expected any) bool {
	actualStr := stringify(actual)
	switch operator {
	case "", "eq", "==":
		return actualStr == stringify(expected)
	case "neq", "!=":
		return actualStr != stringify(expected)
	case "like", "contains":
		return strings.Contains(actualStr, stringify(expected))
	case "in":
		if list, ok := expected.([]any); ok {
			for _, candidate := range list {
				if actualStr == stringify(candidate) {
					return true
				}
			}
			return false
		}
		for _, candidate := range strings.Split(stringify(expected), ",") {
			if actualStr == strings.TrimSpace(candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func mapProperties(keys []KeyMapping, record map[string]any) graph.Properties {
	properties := graph.Properties{}
	for _, k := range keys {
		if value, ok := lookupPath(record, k.Key); ok {
			name := k.MetatypeKeyName
			if name == "" {
				name = k.Key
			}
			properties[name] = value
		}
	}
	return properties
}

// lookupPath resolves a dot path against a nested payload
func lookupPath(record map[string]any, path string) (any, bool) {
	current := any(record)
	for _, segment := range strings.Split(path, ".") {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = object[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func lookupString(record map[string]any, path string) string {
	value, ok := lookupPath(record, path)
	if !ok || value == nil {
		return ""
	}
	return stringify(value)
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
