package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/INLOpen/nexustable/schema"
)

// RecordSink receives decoded records.
type RecordSink interface {
	Schema() *schema.Schema
	AddRecord(rec schema.Record) error
}

// ingestFile streams newline-delimited JSON objects from path ("-" is stdin)
// into sink and returns the number of records added.
func ingestFile(ctx context.Context, sink RecordSink, path string) (int, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		r = f
	}
	return ingest(ctx, sink, r)
}

func ingest(ctx context.Context, sink RecordSink, r io.Reader) (int, error) {
	s := sink.Schema()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n, line := 0, 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return n, err
		}
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		rec, err := parseRecord(s, raw)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if err := sink.AddRecord(rec); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
	return n, sc.Err()
}

// parseRecord maps a JSON object keyed by field name onto a record. Fields
// are emitted in schema order; repeated fields take a JSON array.
func parseRecord(s *schema.Schema, raw []byte) (schema.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	for name := range obj {
		if _, ok := s.FieldByName(name); !ok {
			return nil, fmt.Errorf("unknown field %q", name)
		}
	}

	var rec schema.Record
	for _, f := range s.Fields {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			continue
		}
		values := []any{v}
		if f.Repeated {
			arr, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("field %q is repeated and needs an array", f.Name)
			}
			values = arr
		}
		for _, jv := range values {
			val, err := convertValue(f, jv)
			if err != nil {
				return nil, err
			}
			rec.Append(f.ID, val)
		}
	}
	return rec, nil
}

func convertValue(f schema.Field, v any) (schema.Value, error) {
	bad := func() (schema.Value, error) {
		return schema.Value{}, fmt.Errorf("field %q: cannot use %v as %s", f.Name, v, f.Type)
	}
	switch f.Type {
	case schema.TypeString:
		s, ok := v.(string)
		if !ok {
			return bad()
		}
		return schema.String(s), nil
	case schema.TypeBool:
		b, ok := v.(bool)
		if !ok {
			return bad()
		}
		return schema.Bool(b), nil
	}

	num, ok := v.(json.Number)
	if !ok {
		return bad()
	}
	switch f.Type {
	case schema.TypeUInt64:
		u, err := strconv.ParseUint(num.String(), 10, 64)
		if err != nil {
			return bad()
		}
		return schema.UInt64(u), nil
	case schema.TypeInt64:
		i, err := num.Int64()
		if err != nil {
			return bad()
		}
		return schema.Int64(i), nil
	case schema.TypeFloat64:
		x, err := num.Float64()
		if err != nil {
			return bad()
		}
		return schema.Float64(x), nil
	}
	return bad()
}
