package utils

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Output writes data to w as indented JSON or YAML
func Output(w io.Writer, format string, data any) error {
	var (
		out []byte
		err error
	)
	switch format {
	case "json":
		out, err = MarshalJSON(data)
		if err == nil {
			out = append(out, '\n')
		}
	case "yaml":
		out, err = MarshalYAML(data)
	default:
		return fmt.Errorf("unknown output format %q (expected json or yaml)", format)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// MarshalJSON marshals the provided data as indented JSON
func MarshalJSON(data any) ([]byte, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return jsonData, nil
}

// MarshalYAML marshals the provided data as YAML
func MarshalYAML(data any) ([]byte, error) {
	yamlData, err := yaml.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return yamlData, nil
}
