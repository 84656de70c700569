// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"strings"
	"testing"
)

const testSchema = `
#Settings: {
	name:   string
	count?: int & >=1
	tags?: [...string]
}
`

type settings struct {
	Name  string   `json:"name"`
	Count int      `json:"count,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

func TestDecode(t *testing.T) {
	t.Parallel()

	res, err := Decode[settings](testSchema, []byte(`name: "a", count: 2, tags: ["x"]`), "#Settings")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if res.Value.Name != "a" || res.Value.Count != 2 || len(res.Value.Tags) != 1 {
		t.Errorf("Value = %+v", res.Value)
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		opts []Option
		want string
	}{
		{"syntax", `name: "a`, []Option{WithFilename("s.cue")}, "s.cue:"},
		{"constraint", `name: "a", count: 0`, []Option{WithFilename("s.cue")}, "count"},
		{"unknown field", `name: "a", colour: "red"`, nil, "<input>:"},
		{"list index", `name: "a", tags: ["x", 1]`, []Option{WithFilename("s.cue")}, "tags[1]"},
		{"missing required", `count: 2`, nil, "name"},
		{"too large", `name: "abcdef"`, []Option{WithMaxFileSize(4)}, "exceeds maximum"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode[settings](testSchema, []byte(tt.data), "#Settings", tt.opts...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestDecode_NotConcrete(t *testing.T) {
	t.Parallel()

	res, err := Decode[map[string]any](testSchema, []byte(`name: "a", count: 3`), "#Settings", WithConcrete(false))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := (*res.Value)["tags"]; ok || (*res.Value)["name"] != "a" {
		t.Errorf("Value = %v", *res.Value)
	}
}

func TestFieldPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		parts []string
		want  string
	}{
		{nil, ""},
		{[]string{"retry"}, "retry"},
		{[]string{"retry", "max_attempts"}, "retry.max_attempts"},
		{[]string{"independent", "2"}, "independent[2]"},
		{[]string{"0"}, "0"},
	}
	for _, tt := range tests {
		if got := fieldPath(tt.parts); got != tt.want {
			t.Errorf("fieldPath(%v) = %q, want %q", tt.parts, got, tt.want)
		}
	}
}

func TestCheckFileSize(t *testing.T) {
	t.Parallel()

	if err := CheckFileSize(make([]byte, 10), 10, "f"); err != nil {
		t.Errorf("at limit: %v", err)
	}
	if err := CheckFileSize(make([]byte, 11), 10, "f"); err == nil {
		t.Error("over limit should fail")
	}
}
