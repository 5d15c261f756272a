package utils

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type sample struct {
	ID    string   `json:"id" yaml:"id"`
	Title string   `json:"title" yaml:"title"`
	Tags  []string `json:"tags" yaml:"tags"`
}

func TestOutputFormats(t *testing.T) {
	data := []sample{{ID: "t1", Title: "Write report", Tags: []string{"work"}}}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output(&buf, "json", data); err != nil {
			t.Fatalf("Output() error = %v", err)
		}
		var decoded []sample
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
		}
		if decoded[0].Title != "Write report" {
			t.Errorf("decoded title = %q", decoded[0].Title)
		}
		if !strings.Contains(buf.String(), "\n  ") {
			t.Error("JSON output should be indented")
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output(&buf, "yaml", data); err != nil {
			t.Fatalf("Output() error = %v", err)
		}
		var decoded []sample
		if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("output is not valid YAML: %v\n%s", err, buf.String())
		}
		if decoded[0].Tags[0] != "work" {
			t.Errorf("decoded tags = %v", decoded[0].Tags)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output(&buf, "xml", data); err == nil {
			t.Error("expected error for unknown format")
		}
	})

	t.Run("unmarshalable value", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Output(&buf, "json", make(chan int)); err == nil {
			t.Error("expected error for channel value")
		}
	})
}
