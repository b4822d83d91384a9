package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SectionKey is the top-level key under which bracketer options may be
// nested when they share a file with other pipeline settings.
const SectionKey = "bracketer"

// FromFile loads options from a file. The format follows the extension
// (.yaml, .yml, .json); any other extension is detected from the content.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read options file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Parse(data)
	}
}

// Parse loads options from JSON or YAML, choosing JSON when the document
// starts with '{'.
func Parse(data []byte) (Config, error) {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return FromJSON(data)
	}
	return FromYAML(data)
}

// FromYAML parses YAML options. An empty document yields an empty Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml options: %w", err)
	}
	return section(m), nil
}

// FromJSON parses JSON options.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json options: %w", err)
	}
	return section(m), nil
}

// section returns the SectionKey map when the document has one, and the
// whole document otherwise.
func section(m map[string]any) Config {
	if sub, ok := m[SectionKey].(map[string]any); ok {
		return New(sub)
	}
	return New(m)
}
