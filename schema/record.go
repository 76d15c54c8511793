package schema

import (
	"fmt"
	"math"
	"strconv"
)

// Value is a single typed field value. Only the member matching Type is set;
// bools are kept in Uint as 0 or 1.
type Value struct {
	Type FieldType
	Uint uint64
	Int  int64
	Flt  float64
	Str  string
}

func UInt64(v uint64) Value   { return Value{Type: TypeUInt64, Uint: v} }
func Int64(v int64) Value     { return Value{Type: TypeInt64, Int: v} }
func Float64(v float64) Value { return Value{Type: TypeFloat64, Flt: v} }
func String(v string) Value   { return Value{Type: TypeString, Str: v} }

func Bool(v bool) Value {
	if v {
		return Value{Type: TypeBool, Uint: 1}
	}
	return Value{Type: TypeBool}
}

// AsBool returns the value of a bool field.
func (v Value) AsBool() bool { return v.Uint != 0 }

// AsFloat converts numeric values for summaries. ok is false for strings and bools.
func (v Value) AsFloat() (f float64, ok bool) {
	switch v.Type {
	case TypeUInt64:
		return float64(v.Uint), true
	case TypeInt64:
		return float64(v.Int), true
	case TypeFloat64:
		return v.Flt, !math.IsNaN(v.Flt)
	}
	return 0, false
}

func (v Value) String() string {
	switch v.Type {
	case TypeUInt64:
		return strconv.FormatUint(v.Uint, 10)
	case TypeInt64:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat64:
		return strconv.FormatFloat(v.Flt, 'g', -1, 64)
	case TypeString:
		return strconv.Quote(v.Str)
	case TypeBool:
		return strconv.FormatBool(v.AsBool())
	}
	return fmt.Sprintf("<invalid %d>", v.Type)
}

// FieldValue is one (field, value) pair of a record.
type FieldValue struct {
	FieldID uint32
	Value   Value
}

// Record is an ordered list of field values. A repeated field appears once
// per value; an absent optional field does not appear at all.
type Record []FieldValue

// Append adds a value for field id.
func (r *Record) Append(id uint32, v Value) {
	*r = append(*r, FieldValue{FieldID: id, Value: v})
}

// Get returns the first value for field id.
func (r Record) Get(id uint32) (Value, bool) {
	for _, fv := range r {
		if fv.FieldID == id {
			return fv.Value, true
		}
	}
	return Value{}, false
}

// Values returns every value for field id in record order.
func (r Record) Values(id uint32) []Value {
	var out []Value
	for _, fv := range r {
		if fv.FieldID == id {
			out = append(out, fv.Value)
		}
	}
	return out
}

// Clone returns a copy that shares no backing array with r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	copy(out, r)
	return out
}
