package main

import (
	"context"
	"strings"
	"testing"

	"github.com/INLOpen/nexustable/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSink struct {
	s    *schema.Schema
	recs []schema.Record
}

func (s *sliceSink) Schema() *schema.Schema { return s.s }

func (s *sliceSink) AddRecord(rec schema.Record) error {
	if err := s.s.ValidateRecord(rec); err != nil {
		return err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func newSliceSink(t *testing.T) *sliceSink {
	s, err := testConfig(t).BuildSchema()
	require.NoError(t, err)
	return &sliceSink{s: s}
}

func TestIngest(t *testing.T) {
	sink := newSliceSink(t)
	input := `{"user": 18446744073709551615, "url": "/a", "latency": 1.5, "delta": -3, "ok": true, "tags": ["x", "y"]}

{"tags": [], "user": 2, "url": null}
`
	n, err := ingest(context.Background(), sink, strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	first := sink.recs[0]
	assert.Equal(t, schema.Record{
		{FieldID: 1, Value: schema.UInt64(18446744073709551615)},
		{FieldID: 2, Value: schema.String("/a")},
		{FieldID: 3, Value: schema.Float64(1.5)},
		{FieldID: 4, Value: schema.Int64(-3)},
		{FieldID: 5, Value: schema.Bool(true)},
		{FieldID: 6, Value: schema.String("x")},
		{FieldID: 6, Value: schema.String("y")},
	}, first)
	assert.Equal(t, schema.Record{{FieldID: 1, Value: schema.UInt64(2)}}, sink.recs[1])
}

func TestIngest_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"unknown field", `{"user": 1, "color": "red"}`, `unknown field "color"`},
		{"bad json", `{"user": `, "invalid json"},
		{"wrong type", `{"user": "one"}`, `field "user"`},
		{"negative uint", `{"user": -1}`, `field "user"`},
		{"scalar for repeated", `{"user": 1, "tags": "x"}`, "needs an array"},
		{"missing required", `{"url": "/a"}`, "line 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newSliceSink(t)
			n, err := ingest(context.Background(), sink, strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Zero(t, n)
		})
	}
}

func TestIngest_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := ingest(ctx, newSliceSink(t), strings.NewReader(`{"user": 1}`))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}
