package toolbridge_test

import (
	"reflect"
	"testing"

	"github.com/AlexonOliveiraRH/linux-mcp-server-chatbot/pkg/toolbridge"
)

func TestSanitizeArgs(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want map[string]any
	}{
		{
			name: "nil args",
			args: nil,
			want: map[string]any{},
		},
		{
			name: "capital host is renamed and nulls dropped",
			args: map[string]any{"Host": "x", "extra": nil},
			want: map[string]any{"host": "x"},
		},
		{
			name: "lowercase host wins",
			args: map[string]any{"Host": "a", "host": "b"},
			want: map[string]any{"host": "b"},
		},
		{
			name: "empty strings dropped",
			args: map[string]any{"unit": "", "lines": 10},
			want: map[string]any{"lines": 10},
		},
		{
			name: "falsy values kept",
			args: map[string]any{"lines": 0, "follow": false},
			want: map[string]any{"lines": 0, "follow": false},
		},
		{
			name: "empty capital host dropped",
			args: map[string]any{"Host": ""},
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toolbridge.SanitizeArgs(tt.args)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSanitizeArgsDoesNotModifyInput(t *testing.T) {
	args := map[string]any{"Host": "x", "extra": nil}
	toolbridge.SanitizeArgs(args)

	if len(args) != 2 || args["Host"] != "x" {
		t.Errorf("input was modified: %v", args)
	}
}

func TestCoerceArgs(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pid":     map[string]any{"type": "integer"},
			"ratio":   map[string]any{"type": "number"},
			"follow":  map[string]any{"type": "boolean"},
			"unit":    map[string]any{"type": "string"},
			"lines":   map[string]any{"type": []any{"null", "integer"}},
			"top_n":   map[string]any{"anyOf": []any{map[string]any{"type": "integer"}, map[string]any{"type": "null"}}},
			"filters": map[string]any{"type": "string"},
		},
	}

	tests := []struct {
		name string
		args map[string]any
		want map[string]any
	}{
		{
			name: "integer from string",
			args: map[string]any{"pid": "42"},
			want: map[string]any{"pid": int64(42)},
		},
		{
			name: "number from string",
			args: map[string]any{"ratio": "1.5"},
			want: map[string]any{"ratio": 1.5},
		},
		{
			name: "boolean from string",
			args: map[string]any{"follow": "true"},
			want: map[string]any{"follow": true},
		},
		{
			name: "string from number",
			args: map[string]any{"unit": 5},
			want: map[string]any{"unit": "5"},
		},
		{
			name: "nullable integer",
			args: map[string]any{"lines": "20"},
			want: map[string]any{"lines": int64(20)},
		},
		{
			name: "anyOf integer",
			args: map[string]any{"top_n": " 3 "},
			want: map[string]any{"top_n": int64(3)},
		},
		{
			name: "unconvertible value kept",
			args: map[string]any{"pid": "abc"},
			want: map[string]any{"pid": "abc"},
		},
		{
			name: "typed value kept",
			args: map[string]any{"pid": 7},
			want: map[string]any{"pid": 7},
		},
		{
			name: "composite value kept",
			args: map[string]any{"filters": []any{"a"}},
			want: map[string]any{"filters": []any{"a"}},
		},
		{
			name: "unknown property kept",
			args: map[string]any{"host": "web-1"},
			want: map[string]any{"host": "web-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toolbridge.CoerceArgs(schema, tt.args)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

func TestCoerceArgsWithoutProperties(t *testing.T) {
	args := map[string]any{"pid": "42"}
	got := toolbridge.CoerceArgs(nil, args)
	if !reflect.DeepEqual(got, args) {
		t.Errorf("expected %v, got %v", args, got)
	}
}
