package mapping

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/metagraph/errors"
)

// fakeStorage records every write so tests can assert the exact
// reconciliation the engine performed. Guarded because imports run
// concurrently.
type fakeStorage struct {
	mu       sync.Mutex
	mappings map[string]*TypeMapping

	createMappingErr error
	findByShapeQueue []findByShapeResult

	createdMappings        []*TypeMapping
	updatedMappings        []*TypeMapping
	createdTransformations []*TypeTransformation
	updatedTransformations []*TypeTransformation
	deletedTransformations []string
	commits                int
	rollbacks              int
}

type findByShapeResult struct {
	mapping *TypeMapping
	err     error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{mappings: map[string]*TypeMapping{}}
}

func (f *fakeStorage) FindByID(_ context.Context, id string) (*TypeMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mappings[id]
	if !ok {
		return nil, errors.WrapNotFound(errors.ErrMappingNotFound, "fake", "FindByID", "lookup")
	}
	return m, nil
}

func (f *fakeStorage) FindByShape(_ context.Context, _, _ string) (*TypeMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.findByShapeQueue) == 0 {
		return nil, errors.WrapNotFound(errors.ErrMappingNotFound, "fake", "FindByShape", "lookup")
	}
	next := f.findByShapeQueue[0]
	f.findByShapeQueue = f.findByShapeQueue[1:]
	return next.mapping, next.err
}

func (f *fakeStorage) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.mappings, id)
	return nil
}

func (f *fakeStorage) Begin(_ context.Context) (Tx, error) {
	return &fakeTx{parent: f}, nil
}

type fakeTx struct {
	parent *fakeStorage
	done   bool
}

func (t *fakeTx) CreateMapping(_ context.Context, m *TypeMapping) error {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	if t.parent.createMappingErr != nil {
		return t.parent.createMappingErr
	}
	t.parent.createdMappings = append(t.parent.createdMappings, m)
	t.parent.mappings[m.ID] = m
	return nil
}

func (t *fakeTx) UpdateMapping(_ context.Context, m *TypeMapping) error {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	t.parent.updatedMappings = append(t.parent.updatedMappings, m)
	t.parent.mappings[m.ID] = m
	return nil
}

func (t *fakeTx) CreateTransformations(_ context.Context, ts []*TypeTransformation) error {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	t.parent.createdTransformations = append(t.parent.createdTransformations, ts...)
	return nil
}

func (t *fakeTx) UpdateTransformations(_ context.Context, ts []*TypeTransformation) error {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	t.parent.updatedTransformations = append(t.parent.updatedTransformations, ts...)
	return nil
}

func (t *fakeTx) DeleteTransformations(_ context.Context, ids []string) error {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	t.parent.deletedTransformations = append(t.parent.deletedTransformations, ids...)
	return nil
}

func (t *fakeTx) Commit() error {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	t.done = true
	t.parent.commits++
	return nil
}

func (t *fakeTx) Rollback() error {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	if !t.done {
		t.parent.rollbacks++
	}
	return nil
}

func testEngine(storage Storage) *Engine {
	return NewEngine(storage, slog.Default())
}

func TestFindOrCreateForPayloadCreatesPlaceholder(t *testing.T) {
	storage := newFakeStorage()
	engine := testEngine(storage)

	payload := map[string]any{"name": "pump-7", "flow_rate": 12.5}
	m, err := engine.FindOrCreateForPayload(context.Background(), "c-1", "ds-1", payload)
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "c-1", m.ContainerID)
	assert.Equal(t, "ds-1", m.DataSourceID)
	assert.Equal(t, ShapeHash(payload), m.ShapeHash)
	assert.False(t, m.Active, "placeholder mappings start inactive")
	assert.NotEmpty(t, m.SamplePayload)
	assert.Equal(t, 1, storage.commits)
}

func TestFindOrCreateForPayloadReturnsExisting(t *testing.T) {
	storage := newFakeStorage()
	existing := &TypeMapping{ID: "map-1", Active: true, FullyLoaded: true}
	storage.findByShapeQueue = []findByShapeResult{{mapping: existing}}

	m, err := testEngine(storage).FindOrCreateForPayload(context.Background(), "c-1", "ds-1",
		map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Same(t, existing, m)
	assert.Empty(t, storage.createdMappings)
}

func TestFindOrCreateForPayloadAdoptsConflictWinner(t *testing.T) {
	storage := newFakeStorage()
	winner := &TypeMapping{ID: "winner", FullyLoaded: true}
	notFound := errors.WrapNotFound(errors.ErrMappingNotFound, "fake", "FindByShape", "lookup")
	storage.findByShapeQueue = []findByShapeResult{
		{err: notFound},
		{mapping: winner},
	}
	storage.createMappingErr = errors.WrapConflict(errors.ErrDuplicateShape, "fake", "CreateMapping", "insert")

	m, err := testEngine(storage).FindOrCreateForPayload(context.Background(), "c-1", "ds-1",
		map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Same(t, winner, m, "loser of the shape race adopts the winner's mapping")
}

func TestSaveReconcilesTransformations(t *testing.T) {
	storage := newFakeStorage()
	storage.mappings["map-1"] = &TypeMapping{
		ID:           "map-1",
		ContainerID:  "c-1",
		DataSourceID: "ds-1",
		ShapeHash:    "hash-1",
		Transformations: []*TypeTransformation{
			{ID: "tr-keep", MetatypeID: "m-1"},
			{ID: "tr-drop", MetatypeID: "m-2"},
		},
		FullyLoaded: true,
	}

	incoming := &TypeMapping{
		ID:           "map-1",
		ContainerID:  "c-1",
		DataSourceID: "ds-1",
		ShapeHash:    "hash-1",
		Active:       true,
		Transformations: []*TypeTransformation{
			{ID: "tr-keep", MetatypeID: "m-1"},
			{MetatypeID: "m-3"},
		},
	}

	require.NoError(t, testEngine(storage).Save(context.Background(), incoming))

	require.Len(t, storage.updatedMappings, 1)
	assert.Equal(t, []string{"tr-drop"}, storage.deletedTransformations)

	require.Len(t, storage.updatedTransformations, 1)
	assert.Equal(t, "tr-keep", storage.updatedTransformations[0].ID)

	require.Len(t, storage.createdTransformations, 1)
	created := storage.createdTransformations[0]
	assert.NotEmpty(t, created.ID, "new transformations get ids assigned")
	assert.Equal(t, "map-1", created.TypeMappingID)

	assert.Equal(t, 1, storage.commits)
	assert.Zero(t, storage.rollbacks)
	assert.True(t, incoming.FullyLoaded)
}

func TestSaveNewMappingAssignsID(t *testing.T) {
	storage := newFakeStorage()
	m := &TypeMapping{
		ContainerID:  "c-1",
		DataSourceID: "ds-1",
		ShapeHash:    "hash-1",
		Transformations: []*TypeTransformation{
			{MetatypeID: "m-1"},
		},
	}

	require.NoError(t, testEngine(storage).Save(context.Background(), m))
	assert.NotEmpty(t, m.ID)
	require.Len(t, storage.createdMappings, 1)
	require.Len(t, storage.createdTransformations, 1)
	assert.Equal(t, m.ID, storage.createdTransformations[0].TypeMappingID)
}

func TestSaveRejectsInvalidMapping(t *testing.T) {
	storage := newFakeStorage()
	err := testEngine(storage).Save(context.Background(), &TypeMapping{})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Zero(t, storage.commits)
}

func TestSaveRollsBackOnWriteFailure(t *testing.T) {
	storage := newFakeStorage()
	storage.createMappingErr = errors.Wrap(assert.AnError, "fake", "CreateMapping", "insert")

	m := &TypeMapping{ContainerID: "c-1", DataSourceID: "ds-1", ShapeHash: "h"}
	err := testEngine(storage).Save(context.Background(), m)
	require.Error(t, err)
	assert.Equal(t, 1, storage.rollbacks)
	assert.Zero(t, storage.commits)
}

func TestRemovedTransformationIDs(t *testing.T) {
	stored := []*TypeTransformation{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	incoming := []*TypeTransformation{{ID: "b"}, {MetatypeID: "new"}}

	assert.Equal(t, []string{"a", "c"}, removedTransformationIDs(stored, incoming))
	assert.Nil(t, removedTransformationIDs(nil, incoming))
}

func pumpMapping() *TypeMapping {
	return &TypeMapping{
		ID:           "map-1",
		ContainerID:  "c-1",
		DataSourceID: "ds-1",
		Active:       true,
		Transformations: []*TypeTransformation{
			{
				ID:           "tr-node",
				MetatypeID:   "m-pump",
				MetatypeName: "Pump",
				RootArray:    "assets",
				Conditions:   []Condition{{Key: "kind", Operator: "eq", Value: "pump"}},
				Keys: []KeyMapping{
					{Key: "name", MetatypeKeyID: "k-name", MetatypeKeyName: "name"},
					{Key: "stats.flow_rate", MetatypeKeyID: "k-flow", MetatypeKeyName: "flow_rate"},
				},
				UniqueIdentifierKey: "name",
			},
			{
				ID:                   "tr-edge",
				RelationshipPairID:   "p-feeds",
				RelationshipPairName: "Pump : feeds : Tank",
				RootArray:            "assets",
				Conditions:           []Condition{{Key: "kind", Operator: "eq", Value: "pump"}},
				OriginIDKey:          "name",
				DestinationIDKey:     "feeds",
			},
		},
	}
}

func TestApplyTransformations(t *testing.T) {
	payload := map[string]any{
		"assets": []any{
			map[string]any{
				"kind":  "pump",
				"name":  "pump-7",
				"feeds": "tank-3",
				"stats": map[string]any{"flow_rate": 12.5},
			},
			map[string]any{
				"kind": "tank",
				"name": "tank-3",
			},
			map[string]any{
				"kind": "pump",
				"name": "pump-8",
				"stats": map[string]any{"flow_rate": 3.0},
				// no feeds key: edge skipped, node still staged
			},
		},
	}

	result, err := testEngine(newFakeStorage()).ApplyTransformations(pumpMapping(), payload)
	require.NoError(t, err)

	require.Len(t, result.Nodes, 2, "only pump records pass the condition")
	first := result.Nodes[0]
	assert.Equal(t, "c-1", first.ContainerID)
	assert.Equal(t, "m-pump", first.MetatypeID)
	assert.Equal(t, "pump-7", first.OriginalDataID)
	assert.Equal(t, "map-1", first.DataTypeMappingID)
	assert.Equal(t, "pump-7", first.Properties["name"])
	assert.Equal(t, 12.5, first.Properties["flow_rate"], "dot paths reach nested values")

	require.Len(t, result.Edges, 1, "records missing an endpoint identity stage no edge")
	edge := result.Edges[0]
	assert.Equal(t, "p-feeds", edge.RelationshipPairID)
	assert.Equal(t, "pump-7", edge.OriginOriginalID)
	assert.Equal(t, "tank-3", edge.DestinationOriginalID)
}

func TestApplyTransformationsMissingRootArray(t *testing.T) {
	result, err := testEngine(newFakeStorage()).ApplyTransformations(pumpMapping(),
		map[string]any{"other": "thing"})
	require.NoError(t, err)
	assert.Empty(t, result.Nodes)
	assert.Empty(t, result.Edges)
}

func TestApplyTransformationsRootArrayNotArray(t *testing.T) {
	_, err := testEngine(newFakeStorage()).ApplyTransformations(pumpMapping(),
		map[string]any{"assets": "nope"})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestConditionHolds(t *testing.T) {
	tests := []struct {
		name     string
		operator string
		actual   any
		expected any
		want     bool
	}{
		{"eq strings", "eq", "pump", "pump", true},
		{"eq default operator", "", "pump", "pump", true},
		{"eq number vs string", "eq", 5.0, "5", true},
		{"neq", "neq", "pump", "tank", true},
		{"like", "like", "pump-7", "pump", true},
		{"in list", "in", "b", []any{"a", "b"}, true},
		{"in csv", "in", "b", "a, b", true},
		{"in miss", "in", "z", []any{"a", "b"}, false},
		{"unknown operator", "between", "a", "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, conditionHolds(tt.operator, tt.actual, tt.expected))
		})
	}
}

func TestLookupPath(t *testing.T) {
	record := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": 1.0}},
	}

	v, ok := lookupPath(record, "a.b.c")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = lookupPath(record, "a.missing")
	assert.False(t, ok)

	_, ok = lookupPath(record, "a.b.c.d")
	assert.False(t, ok, "cannot descend through a scalar")
}
