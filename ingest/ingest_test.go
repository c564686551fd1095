package ingest

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/metagraph/errors"
	"github.com/c360/metagraph/graph"
	"github.com/c360/metagraph/mapping"
)

type fakeMapper struct {
	mu      sync.Mutex
	mapping *mapping.TypeMapping
	staged  *mapping.StagedResult
	findErr error
	applied []map[string]any
}

func (f *fakeMapper) FindOrCreateForPayload(_ context.Context, _, _ string, _ map[string]any) (*mapping.TypeMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.mapping, nil
}

func (f *fakeMapper) ApplyTransformations(_ *mapping.TypeMapping, payload map[string]any) (*mapping.StagedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, payload)
	return f.staged, nil
}

type fakeWriter struct {
	mu      sync.Mutex
	nodes   []*graph.Node
	edges   []*graph.Edge
	nodeIDs map[string]string
}

func (f *fakeWriter) UpsertNode(_ context.Context, node *graph.Node) (*graph.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = append(f.nodes, node)
	return node, nil
}

func (f *fakeWriter) CreateEdge(_ context.Context, edge *graph.Edge) (*graph.Edge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edges = append(f.edges, edge)
	return edge, nil
}

func (f *fakeWriter) NodeIDByExternalID(_ context.Context, _, _, originalID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.nodeIDs[originalID]
	if !ok {
		return "", errors.WrapNotFound(errors.ErrNodeNotFound, "fakeWriter", "NodeIDByExternalID", originalID)
	}
	return id, nil
}

func testSource(t *testing.T) *DataSource {
	t.Helper()
	source := &DataSource{ID: "ds-1", ContainerID: "c-1", Name: "plant feed", Active: true}
	require.NoError(t, source.Validate())
	return source
}

func testIngester(t *testing.T, mapper *fakeMapper, writer *fakeWriter) *Ingester {
	t.Helper()
	ing, err := NewIngester(mapper, writer, nil, slog.Default(), Options{Workers: 1, QueueSize: 8})
	require.NoError(t, err)
	return ing
}

func TestProcessStagesNodesAndEdges(t *testing.T) {
	mapper := &fakeMapper{
		mapping: &mapping.TypeMapping{ID: "map-1", Active: true},
		staged: &mapping.StagedResult{
			Nodes: []*graph.Node{
				{ContainerID: "c-1", MetatypeID: "m-pump", OriginalDataID: "pump-7", DataSourceID: "ds-1"},
				{ContainerID: "c-1", MetatypeID: "m-tank", OriginalDataID: "tank-2", DataSourceID: "ds-1"},
			},
			Edges: []*mapping.StagedEdge{{
				RelationshipPairID:    "p-feeds",
				RelationshipPairName:  "Pump : feeds : Tank",
				OriginOriginalID:      "pump-7",
				DestinationOriginalID: "tank-2",
			}},
		},
	}
	writer := &fakeWriter{nodeIDs: map[string]string{"pump-7": "n-1", "tank-2": "n-2"}}
	ing := testIngester(t, mapper, writer)

	payload := Payload{Source: testSource(t), ImportID: "imp-1", Data: map[string]any{"id": "pump-7"}}
	require.NoError(t, ing.process(context.Background(), payload))

	require.Len(t, writer.nodes, 2)
	assert.Equal(t, "imp-1", writer.nodes[0].ImportDataID)
	assert.Equal(t, "imp-1", writer.nodes[1].ImportDataID)

	require.Len(t, writer.edges, 1)
	edge := writer.edges[0]
	assert.Equal(t, "c-1", edge.ContainerID)
	assert.Equal(t, "p-feeds", edge.RelationshipPairID)
	assert.Equal(t, "n-1", edge.OriginNodeID)
	assert.Equal(t, "n-2", edge.DestinationNodeID)
	assert.Equal(t, "ds-1", edge.DataSourceID)
}

func TestProcessInactiveMappingHoldsPayload(t *testing.T) {
	mapper := &fakeMapper{mapping: &mapping.TypeMapping{ID: "map-1", Active: false}}
	writer := &fakeWriter{}
	ing := testIngester(t, mapper, writer)

	payload := Payload{Source: testSource(t), Data: map[string]any{"id": "pump-7"}}
	require.NoError(t, ing.process(context.Background(), payload))

	assert.Empty(t, mapper.applied)
	assert.Empty(t, writer.nodes)
	assert.Empty(t, writer.edges)
}

func TestProcessMissingEdgeEndpoint(t *testing.T) {
	mapper := &fakeMapper{
		mapping: &mapping.TypeMapping{ID: "map-1", Active: true},
		staged: &mapping.StagedResult{
			Nodes: []*graph.Node{
				{ContainerID: "c-1", MetatypeID: "m-pump", OriginalDataID: "pump-7", DataSourceID: "ds-1"},
			},
			Edges: []*mapping.StagedEdge{{
				RelationshipPairID:    "p-feeds",
				OriginOriginalID:      "pump-7",
				DestinationOriginalID: "tank-9",
			}},
		},
	}
	writer := &fakeWriter{nodeIDs: map[string]string{"pump-7": "n-1"}}
	ing := testIngester(t, mapper, writer)

	payload := Payload{Source: testSource(t), Data: map[string]any{"id": "pump-7"}}
	err := ing.process(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	// Node writes from the same payload stand even when an edge endpoint
	// has not arrived yet
	assert.Len(t, writer.nodes, 1)
	assert.Empty(t, writer.edges)
}

func TestProcessMappingResolutionFailure(t *testing.T) {
	mapper := &fakeMapper{findErr: assert.AnError}
	writer := &fakeWriter{}
	ing := testIngester(t, mapper, writer)

	payload := Payload{Source: testSource(t), Data: map[string]any{"id": "pump-7"}}
	assert.Error(t, ing.process(context.Background(), payload))
	assert.Empty(t, writer.nodes)
}

func TestReceiveRequiresSource(t *testing.T) {
	ing := testIngester(t, &fakeMapper{}, &fakeWriter{})
	err := ing.Receive(Payload{Data: map[string]any{}})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestReceiveValidatesAgainstSchema(t *testing.T) {
	source := &DataSource{
		ID:          "ds-1",
		ContainerID: "c-1",
		PayloadSchema: []byte(`{
			"type": "object",
			"required": ["id"],
			"properties": {"id": {"type": "string"}}
		}`),
	}
	require.NoError(t, source.Validate())

	mapper := &fakeMapper{mapping: &mapping.TypeMapping{ID: "map-1"}}
	ing := testIngester(t, mapper, &fakeWriter{})
	require.NoError(t, ing.Start(context.Background()))
	defer ing.Stop()

	err := ing.Receive(Payload{Source: source, Data: map[string]any{"name": "no id"}})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	assert.NoError(t, ing.Receive(Payload{Source: source, Data: map[string]any{"id": "pump-7"}}))
}

func TestIngesterEndToEnd(t *testing.T) {
	mapper := &fakeMapper{
		mapping: &mapping.TypeMapping{ID: "map-1", Active: true},
		staged: &mapping.StagedResult{
			Nodes: []*graph.Node{
				{ContainerID: "c-1", MetatypeID: "m-pump", OriginalDataID: "pump-7", DataSourceID: "ds-1"},
			},
		},
	}
	writer := &fakeWriter{nodeIDs: map[string]string{"pump-7": "n-1"}}
	ing := testIngester(t, mapper, writer)

	require.NoError(t, ing.Start(context.Background()))
	require.NoError(t, ing.Receive(Payload{Source: testSource(t), Data: map[string]any{"id": "pump-7"}}))
	ing.Stop()

	submitted, processed, failed, _ := ing.Stats()
	assert.Equal(t, int64(1), submitted)
	assert.Equal(t, int64(1), processed)
	assert.Equal(t, int64(0), failed)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Len(t, writer.nodes, 1)
}

func TestDataSourceValidate(t *testing.T) {
	tests := []struct {
		name    string
		source  DataSource
		wantErr bool
	}{
		{"valid without schema", DataSource{ID: "ds-1", ContainerID: "c-1"}, false},
		{"missing id", DataSource{ContainerID: "c-1"}, true},
		{"missing container", DataSource{ID: "ds-1"}, true},
		{"malformed schema", DataSource{ID: "ds-1", ContainerID: "c-1", PayloadSchema: []byte(`{"type": 7}`)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.source.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
