// Package schema describes the typed records stored in an event table and
// their binary encoding in the row-store.
package schema

import (
	"fmt"
	"strings"

	"github.com/INLOpen/nexustable/core"
)

// FieldType is the storage type of a field.
type FieldType uint8

const (
	TypeUInt64 FieldType = iota + 1
	TypeInt64
	TypeFloat64
	TypeString
	TypeBool
)

func (t FieldType) String() string {
	switch t {
	case TypeUInt64:
		return "uint64"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	default:
		return fmt.Sprintf("FieldType(%d)", uint8(t))
	}
}

// Numeric reports whether values of t can be summarized as float64.
func (t FieldType) Numeric() bool {
	return t == TypeUInt64 || t == TypeInt64 || t == TypeFloat64
}

// ParseFieldType maps a config name to a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(s) {
	case "uint64", "uint":
		return TypeUInt64, nil
	case "int64", "int":
		return TypeInt64, nil
	case "float64", "double", "float":
		return TypeFloat64, nil
	case "string":
		return TypeString, nil
	case "bool", "boolean":
		return TypeBool, nil
	default:
		return 0, fmt.Errorf("unknown field type %q: %w", s, core.ErrInvalidArgument)
	}
}

type Field struct {
	ID       uint32
	Name     string
	Type     FieldType
	Optional bool
	Repeated bool
}

// MaxDefinitionLevel is 1 for fields that may be absent, 0 otherwise.
func (f Field) MaxDefinitionLevel() uint8 {
	if f.Optional || f.Repeated {
		return 1
	}
	return 0
}

// Schema is the flat field list of one table.
type Schema struct {
	Name   string
	Fields []Field

	byID   map[uint32]int
	byName map[string]int
}

// New builds a schema and validates it.
func New(name string, fields ...Field) (*Schema, error) {
	s := &Schema{Name: name, Fields: fields}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// MustNew is New for statically known schemas.
func MustNew(name string, fields ...Field) *Schema {
	s, err := New(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks field ids and names for uniqueness and builds the lookup maps.
func (s *Schema) Validate() error {
	s.byID = make(map[uint32]int, len(s.Fields))
	s.byName = make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		if f.ID == 0 {
			return fmt.Errorf("schema %s: field %q has id 0: %w", s.Name, f.Name, core.ErrInvalidArgument)
		}
		if f.Name == "" {
			return fmt.Errorf("schema %s: field %d has no name: %w", s.Name, f.ID, core.ErrInvalidArgument)
		}
		if f.Type < TypeUInt64 || f.Type > TypeBool {
			return fmt.Errorf("schema %s: field %q has invalid type %d: %w", s.Name, f.Name, f.Type, core.ErrInvalidArgument)
		}
		if _, dup := s.byID[f.ID]; dup {
			return fmt.Errorf("schema %s: duplicate field id %d: %w", s.Name, f.ID, core.ErrInvalidArgument)
		}
		if _, dup := s.byName[f.Name]; dup {
			return fmt.Errorf("schema %s: duplicate field name %q: %w", s.Name, f.Name, core.ErrInvalidArgument)
		}
		s.byID[f.ID] = i
		s.byName[f.Name] = i
	}
	return nil
}

// Field looks up a field by id. Schemas not built through New or Validate
// fall back to a linear scan.
func (s *Schema) Field(id uint32) (Field, bool) {
	if s.byID == nil {
		for _, f := range s.Fields {
			if f.ID == id {
				return f, true
			}
		}
		return Field{}, false
	}
	i, ok := s.byID[id]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// FieldByName looks up a field by name.
func (s *Schema) FieldByName(name string) (Field, bool) {
	if s.byName == nil {
		for _, f := range s.Fields {
			if f.Name == name {
				return f, true
			}
		}
		return Field{}, false
	}
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// ValidateRecord rejects unknown field ids, type mismatches, missing required
// fields and repeated values for non-repeated fields.
func (s *Schema) ValidateRecord(rec Record) error {
	seen := make(map[uint32]int, len(s.Fields))
	for _, fv := range rec {
		f, ok := s.Field(fv.FieldID)
		if !ok {
			return fmt.Errorf("unknown field id %d: %w", fv.FieldID, core.ErrInvalidArgument)
		}
		if fv.Value.Type != f.Type {
			return fmt.Errorf("field %q: got %s, want %s: %w", f.Name, fv.Value.Type, f.Type, core.ErrInvalidArgument)
		}
		seen[f.ID]++
		if seen[f.ID] > 1 && !f.Repeated {
			return fmt.Errorf("field %q is not repeated: %w", f.Name, core.ErrInvalidArgument)
		}
	}
	for _, f := range s.Fields {
		if !f.Optional && !f.Repeated && seen[f.ID] == 0 {
			return fmt.Errorf("missing required field %q: %w", f.Name, core.ErrInvalidArgument)
		}
	}
	return nil
}
