// Package mapping implements the type-mapping engine: matching incoming
// payload shapes to mappings, applying transformation rules to produce staged
// graph records, and moving mappings between data sources and containers.
package mapping

import (
	"encoding/json"
	"fmt"
	"time"
)

// TypeMapping converts one payload shape from one data source into graph
// nodes and edges. The (DataSourceID, ShapeHash) pair is unique: a data
// source has at most one mapping per payload shape.
type TypeMapping struct {
	ID            string          `json:"id"`
	ContainerID   string          `json:"container_id"`
	DataSourceID  string          `json:"data_source_id"`
	ShapeHash     string          `json:"shape_hash"`
	SamplePayload json.RawMessage `json:"sample_payload,omitempty"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	ModifiedAt    time.Time       `json:"modified_at"`

	// Transformations are exclusively owned by the mapping; they are only
	// ever created, updated, or deleted through the owning mapping's save.
	Transformations []*TypeTransformation `json:"transformations,omitempty"`

	// FullyLoaded is set by storage when the transformation set has been
	// loaded. Only fully loaded mappings may be cached.
	FullyLoaded bool `json:"-"`
}

// Validate checks the mapping and all its transformations
func (m *TypeMapping) Validate() error {
	if m.ContainerID == "" {
		return fmt.Errorf("mapping: container id is required")
	}
	if m.DataSourceID == "" {
		return fmt.Errorf("mapping: data source id is required")
	}
	if m.ShapeHash == "" {
		return fmt.Errorf("mapping: shape hash is required")
	}
	for i, tr := range m.Transformations {
		if err := tr.Validate(); err != nil {
			return fmt.Errorf("mapping transformation %d: %w", i, err)
		}
	}
	return nil
}

// KeyMapping maps one payload field to one metatype key. The key id binds
// within a container; the property name survives container crossings and is
// used to re-resolve the id against the destination ontology.
type KeyMapping struct {
	Key             string `json:"key"`
	MetatypeKeyID   string `json:"metatype_key_id,omitempty"`
	MetatypeKeyName string `json:"metatype_key_name,omitempty"`
}

// Condition gates a transformation on one payload field value
type Condition struct {
	Key      string `json:"key"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// TypeTransformation is one rule within a mapping. It targets either a
// metatype (producing nodes) or a relationship pair (producing edges),
// never both.
type TypeTransformation struct {
	ID            string `json:"id"`
	TypeMappingID string `json:"type_mapping_id"`

	MetatypeID           string `json:"metatype_id,omitempty"`
	MetatypeName         string `json:"metatype_name,omitempty"`
	RelationshipPairID   string `json:"relationship_pair_id,omitempty"`
	RelationshipPairName string `json:"relationship_pair_name,omitempty"`

	Conditions []Condition  `json:"conditions,omitempty"`
	Keys       []KeyMapping `json:"keys"`

	// RootArray points the rule at an array inside the payload; the rule then
	// produces one record per element instead of one per payload.
	RootArray string `json:"root_array,omitempty"`

	UniqueIdentifierKey string `json:"unique_identifier_key,omitempty"`
	OriginIDKey         string `json:"origin_id_key,omitempty"`
	DestinationIDKey    string `json:"destination_id_key,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// TargetsMetatype reports whether the rule produces nodes
func (t *TypeTransformation) TargetsMetatype() bool {
	return t.MetatypeID != "" || t.MetatypeName != ""
}

// TargetsRelationship reports whether the rule produces edges
func (t *TypeTransformation) TargetsRelationship() bool {
	return t.RelationshipPairID != "" || t.RelationshipPairName != ""
}

// Validate checks the rule's declared constraints
func (t *TypeTransformation) Validate() error {
	targetsMetatype := t.TargetsMetatype()
	targetsRelationship := t.TargetsRelationship()

	if targetsMetatype == targetsRelationship {
		return fmt.Errorf("transformation must target exactly one of metatype or relationship pair")
	}
	if targetsRelationship && (t.OriginIDKey == "" || t.DestinationIDKey == "") {
		return fmt.Errorf("relationship transformation requires origin and destination id keys")
	}
	for _, c := range t.Conditions {
		if c.Key == "" {
			return fmt.Errorf("transformation condition requires a key")
		}
	}
	for _, k := range t.Keys {
		if k.Key == "" {
			return fmt.Errorf("transformation key mapping requires a payload key")
		}
	}
	return nil
}

// PrepareForImport strips everything that ties the mapping to its source: the
// mapping id, audit fields, and shape hash always go; when the destination is
// a different container, metatype/relationship/key ids go too, leaving names
// behind so the ids can be backfilled against the destination's ontology.
// Imported mappings always come back inactive.
func (m *TypeMapping) PrepareForImport(targetContainerID, targetDataSourceID string) *TypeMapping {
	crossingContainers := targetContainerID != m.ContainerID

	prepared := &TypeMapping{
		ContainerID:   targetContainerID,
		DataSourceID:  targetDataSourceID,
		SamplePayload: append(json.RawMessage(nil), m.SamplePayload...),
		Active:        false,
	}

	for _, tr := range m.Transformations {
		copied := &TypeTransformation{
			MetatypeID:           tr.MetatypeID,
			MetatypeName:         tr.MetatypeName,
			RelationshipPairID:   tr.RelationshipPairID,
			RelationshipPairName: tr.RelationshipPairName,
			Conditions:           append([]Condition(nil), tr.Conditions...),
			RootArray:            tr.RootArray,
			UniqueIdentifierKey:  tr.UniqueIdentifierKey,
			OriginIDKey:          tr.OriginIDKey,
			DestinationIDKey:     tr.DestinationIDKey,
		}

		copied.Keys = make([]KeyMapping, len(tr.Keys))
		copy(copied.Keys, tr.Keys)

		if crossingContainers {
			copied.MetatypeID = ""
			copied.RelationshipPairID = ""
			for i := range copied.Keys {
				copied.Keys[i].MetatypeKeyID = ""
			}
		}

		prepared.Transformations = append(prepared.Transformations, copied)
	}

	return prepared
}
