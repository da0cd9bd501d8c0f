// Package types contains the core data model shared across the metadata
// store, the codec engine, and the data-plane service: object
// identifiers, definitions, tags, selectors and schemas. Placing these
// in one package, independent of any one component's implementation,
// keeps the public entities composable as the rest of the data plane
// evolves — the same reason the teacher keeps its own internal/types
// package free of any single component's logic.
package types

import (
	"time"

	"github.com/google/uuid"
)

// ObjectType is the tagged variant of every object the metadata store
// knows how to version. Only Data and File carry bulk payloads handled
// by this core; the remaining variants round-trip through the store as
// opaque definitions so that schema-by-reference and config storage are
// exercised end-to-end.
type ObjectType int

const (
	ObjectTypeUnknown ObjectType = iota
	ObjectTypeData
	ObjectTypeFile
	ObjectTypeSchema
	ObjectTypeModel
	ObjectTypeJob
	ObjectTypeFlow
	ObjectTypeCustom
	ObjectTypeResource
	ObjectTypeConfig
	ObjectTypeStorage
)

func (t ObjectType) String() string {
	switch t {
	case ObjectTypeData:
		return "DATA"
	case ObjectTypeFile:
		return "FILE"
	case ObjectTypeSchema:
		return "SCHEMA"
	case ObjectTypeModel:
		return "MODEL"
	case ObjectTypeJob:
		return "JOB"
	case ObjectTypeFlow:
		return "FLOW"
	case ObjectTypeCustom:
		return "CUSTOM"
	case ObjectTypeResource:
		return "RESOURCE"
	case ObjectTypeConfig:
		return "CONFIG"
	case ObjectTypeStorage:
		return "STORAGE"
	default:
		return "UNKNOWN"
	}
}

// ObjectID is a 128-bit universally-unique value, exclusively owned by
// the metadata store once issued (invariant 1 of the specification).
type ObjectID uuid.UUID

// NewObjectID generates a fresh, random ObjectID.
func NewObjectID() ObjectID {
	return ObjectID(uuid.New())
}

func (id ObjectID) String() string {
	return uuid.UUID(id).String()
}

// ParseObjectID parses the canonical string form of an ObjectID.
func ParseObjectID(s string) (ObjectID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ObjectID{}, err
	}
	return ObjectID(u), nil
}

// StorageLocator describes where an object's bulk payload lives. It is
// never an absolute path: RelativePath is always relative to the named
// bucket's configured root.
type StorageLocator struct {
	BucketKey    string
	RelativePath string
	Codec        string
	Extension    string
}

// ObjectDefinition is a versioned, immutable descriptor for an object.
// Exactly one of the Data/File/Schema fields is populated, selected by
// Type; the remaining object types carry an opaque Blob so the store's
// generic save/load machinery can still round-trip them.
type ObjectDefinition struct {
	ObjectID      ObjectID
	ObjectVersion int // monotonic, >= 1
	ObjectType    ObjectType
	Timestamp     time.Time
	IsLatest      bool

	Data   *DataDefinition
	File   *FileDefinition
	Schema *SchemaDefinition
	Blob   []byte
}

// DataDefinition is the definition body for a DATA object: a schema
// reference and a storage locator for its Arrow-encoded payload.
type DataDefinition struct {
	SchemaID *ObjectID // set when the schema is external, nil when Schema is embedded
	Schema   *SchemaDefinition
	Storage  StorageLocator
	RowCount int64
}

// FileDefinition is the definition body for a FILE object.
type FileDefinition struct {
	Name     string
	MimeType string
	Size     int64
	Storage  StorageLocator
}

// BasicType is the scalar type of a schema field or tag attribute value.
type BasicType int

const (
	TypeUnknown BasicType = iota
	TypeBoolean
	TypeInteger
	TypeFloat
	TypeString
	TypeDecimal
	TypeDate
	TypeDatetime
)

func (t BasicType) String() string {
	switch t {
	case TypeBoolean:
		return "BOOLEAN"
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeString:
		return "STRING"
	case TypeDecimal:
		return "DECIMAL"
	case TypeDate:
		return "DATE"
	case TypeDatetime:
		return "DATETIME"
	default:
		return "UNKNOWN"
	}
}

// FieldDefinition describes one column of a schema.
type FieldDefinition struct {
	Name        string
	Type        BasicType
	Label       string
	BusinessKey bool
	Categorical bool
	NotNull     bool
	FormatCode  string
	FieldOrder  int
}

// SchemaDefinition is an ordered sequence of field descriptors. A table
// schema is one whose Fields are all scalar (always true here, since
// BasicType has no compound variant); a dynamic schema is one with zero
// Fields at definition time, to be filled in at runtime.
type SchemaDefinition struct {
	Fields []FieldDefinition
}

// IsDynamic reports whether this is a zero-field schema awaiting runtime
// field discovery.
func (s *SchemaDefinition) IsDynamic() bool {
	return len(s.Fields) == 0
}

// FieldByName performs a case-insensitive lookup, since the field
// reconciliation rule re-cases incoming batches to the schema's casing.
func (s *SchemaDefinition) FieldByName(name string) (FieldDefinition, bool) {
	for _, f := range s.Fields {
		if equalFold(f.Name, name) {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
