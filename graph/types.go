// Package graph defines the warehouse graph primitives: nodes created from
// ingested records and edges instantiating ontology relationship pairs.
package graph

import (
	"encoding/json"
	"fmt"
	"time"
)

// Properties maps metatype key property names to typed values
type Properties map[string]any

// Value implements JSON column storage for properties
func (p Properties) JSON() (string, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal properties: %w", err)
	}
	return string(data), nil
}

// ParseProperties decodes a JSON properties column
func ParseProperties(raw string) (Properties, error) {
	if raw == "" {
		return Properties{}, nil
	}
	var p Properties
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	return p, nil
}

// Node is a graph vertex owned by its container. OriginalDataID and
// DataSourceID together form the node's external identity; ingest upserts on
// that pair. DataTypeMappingID is a weak back-reference recording which
// mapping produced the node, for lineage only.
type Node struct {
	ID                string     `json:"id"`
	ContainerID       string     `json:"container_id"`
	MetatypeID        string     `json:"metatype_id"`
	MetatypeName      string     `json:"metatype_name"`
	GraphID           string     `json:"graph_id,omitempty"`
	Properties        Properties `json:"properties"`
	OriginalDataID    string     `json:"original_data_id,omitempty"`
	DataSourceID      string     `json:"data_source_id,omitempty"`
	ImportDataID      string     `json:"import_data_id,omitempty"`
	DataTypeMappingID string     `json:"data_type_mapping_id,omitempty"`
	Metadata          Properties `json:"metadata,omitempty"`
	Archived          bool       `json:"archived"`
	CreatedAt         time.Time  `json:"created_at"`
	ModifiedAt        time.Time  `json:"modified_at"`
}

// Validate checks the node's required fields
func (n *Node) Validate() error {
	if n.ContainerID == "" {
		return fmt.Errorf("node: container id is required")
	}
	if n.MetatypeID == "" {
		return fmt.Errorf("node: metatype id is required")
	}
	return nil
}

// Edge is a directed relationship instance connecting two nodes through a
// relationship pair.
type Edge struct {
	ID                 string     `json:"id"`
	ContainerID        string     `json:"container_id"`
	RelationshipPairID string     `json:"relationship_pair_id"`
	OriginNodeID       string     `json:"origin_node_id"`
	DestinationNodeID  string     `json:"destination_node_id"`
	Properties         Properties `json:"properties,omitempty"`
	DataSourceID       string     `json:"data_source_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Validate checks the edge's required fields
func (e *Edge) Validate() error {
	if e.ContainerID == "" {
		return fmt.Errorf("edge: container id is required")
	}
	if e.RelationshipPairID == "" {
		return fmt.Errorf("edge: relationship pair id is required")
	}
	if e.OriginNodeID == "" || e.DestinationNodeID == "" {
		return fmt.Errorf("edge: origin and destination node ids are required")
	}
	return nil
}
