// Package ontology defines the per-container ontology model: metatypes, the
// typed keys they declare, and the directed relationship pairs between them.
// The rest of the system treats the ontology as a read-only snapshot; edits
// flow through the changelist workflow.
package ontology

import (
	"fmt"
	"strings"
	"time"
)

// DataType enumerates the declared types a metatype key can carry
type DataType string

const (
	DataTypeNumber      DataType = "number"
	DataTypeBoolean     DataType = "boolean"
	DataTypeString      DataType = "string"
	DataTypeDate        DataType = "date"
	DataTypeFile        DataType = "file"
	DataTypeList        DataType = "list"
	DataTypeEnumeration DataType = "enumeration"
)

// Valid reports whether the data type is one of the declared values
func (d DataType) Valid() bool {
	switch d {
	case DataTypeNumber, DataTypeBoolean, DataTypeString, DataTypeDate,
		DataTypeFile, DataTypeList, DataTypeEnumeration:
		return true
	}
	return false
}

// Metatype is a user-defined node class in a container's ontology
type Metatype struct {
	ID          string        `json:"id"`
	ContainerID string        `json:"container_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Keys        []MetatypeKey `json:"keys,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	ModifiedAt  time.Time     `json:"modified_at"`
}

// MetatypeKey is a typed property declared on a metatype. Options is only
// populated for enumeration keys.
type MetatypeKey struct {
	ID           string   `json:"id"`
	MetatypeID   string   `json:"metatype_id"`
	Name         string   `json:"name"`
	PropertyName string   `json:"property_name"`
	Description  string   `json:"description"`
	DataType     DataType `json:"data_type"`
	Required     bool     `json:"required"`
	Options      []string `json:"options,omitempty"`
	DefaultValue any      `json:"default_value,omitempty"`
}

// Validate checks the key's declared constraints
func (k *MetatypeKey) Validate() error {
	if k.PropertyName == "" {
		return fmt.Errorf("metatype key %q: property name is required", k.Name)
	}
	if !k.DataType.Valid() {
		return fmt.Errorf("metatype key %q: unknown data type %q", k.Name, k.DataType)
	}
	if k.DataType == DataTypeEnumeration && len(k.Options) == 0 {
		return fmt.Errorf("metatype key %q: enumeration requires options", k.Name)
	}
	return nil
}

// MetatypeRelationshipPair is a directed, named edge type between two
// metatypes. The triple is stored structurally; Name is derived from it.
type MetatypeRelationshipPair struct {
	ID                      string    `json:"id"`
	ContainerID             string    `json:"container_id"`
	RelationshipID          string    `json:"relationship_id"`
	OriginMetatypeID        string    `json:"origin_metatype_id"`
	DestinationMetatypeID   string    `json:"destination_metatype_id"`
	OriginMetatypeName      string    `json:"origin_metatype_name"`
	RelationshipName        string    `json:"relationship_name"`
	DestinationMetatypeName string    `json:"destination_metatype_name"`
	CreatedAt               time.Time `json:"created_at"`
}

// pairSeparator joins the triple in the composed pair name. The composed form
// exists for display and legacy import; code always reads the structured
// triple fields.
const pairSeparator = " : "

// Name returns the composed "origin : relationship : destination" form
func (p *MetatypeRelationshipPair) Name() string {
	return p.OriginMetatypeName + pairSeparator + p.RelationshipName + pairSeparator + p.DestinationMetatypeName
}

// ParsePairName splits a composed pair name into its triple. Relationship
// names containing the separator are tolerated by anchoring the origin at the
// first separator and the destination at the last; everything between is the
// relationship. Origin and destination names containing the separator cannot
// be represented in the composed form, which is why storage is structural.
func ParsePairName(name string) (origin, relationship, destination string, err error) {
	first := strings.Index(name, pairSeparator)
	last := strings.LastIndex(name, pairSeparator)
	if first < 0 || last == first {
		return "", "", "", fmt.Errorf("pair name %q: expected \"origin : relationship : destination\"", name)
	}

	origin = name[:first]
	relationship = name[first+len(pairSeparator) : last]
	destination = name[last+len(pairSeparator):]

	if origin == "" || relationship == "" || destination == "" {
		return "", "", "", fmt.Errorf("pair name %q: empty component", name)
	}
	return origin, relationship, destination, nil
}
