package resources

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata is one downloader sidecar: the decoded JSON document plus the
// path of the file it was loaded from. Site adapters read fields through
// the typed accessors; unknown fields stay available in Data untouched.
type Metadata struct {
	Data map[string]any
	Path string
}

// LoadMetadata reads and decodes a sidecar file.
func LoadMetadata(path string) (*Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar %s: %w", path, err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode sidecar %s: %w", path, err)
	}
	return &Metadata{Data: data, Path: path}, nil
}

// MediaPath returns the path of the media file belonging to this sidecar:
// the sidecar path with its trailing ".json" stripped. An empty string is
// returned when the sidecar path does not follow that convention.
func (m *Metadata) MediaPath() string {
	const suffix = ".json"
	if m == nil || len(m.Path) <= len(suffix) {
		return ""
	}
	if m.Path[len(m.Path)-len(suffix):] != suffix {
		return ""
	}
	return m.Path[:len(m.Path)-len(suffix)]
}

// Lookup walks nested objects along path and returns the value found.
func (m *Metadata) Lookup(path ...string) (any, bool) {
	if m == nil || len(path) == 0 {
		return nil, false
	}
	var current any = m.Data
	for _, key := range path {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// String returns the string at path.
func (m *Metadata) String(path ...string) (string, bool) {
	value, ok := m.Lookup(path...)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// Int returns the integer at path. JSON numbers decode as float64, so both
// numeric shapes are accepted.
func (m *Metadata) Int(path ...string) (int, bool) {
	value, ok := m.Lookup(path...)
	if !ok {
		return 0, false
	}
	switch n := value.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

// Float returns the floating point number at path.
func (m *Metadata) Float(path ...string) (float64, bool) {
	value, ok := m.Lookup(path...)
	if !ok {
		return 0, false
	}
	switch n := value.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// Bool returns the boolean at path.
func (m *Metadata) Bool(path ...string) (bool, bool) {
	value, ok := m.Lookup(path...)
	if !ok {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// Slice returns the array at path.
func (m *Metadata) Slice(path ...string) ([]any, bool) {
	value, ok := m.Lookup(path...)
	if !ok {
		return nil, false
	}
	s, ok := value.([]any)
	return s, ok
}

// StringSlice returns the array at path with every element converted to a
// string; non-string elements are skipped.
func (m *Metadata) StringSlice(path ...string) ([]string, bool) {
	raw, ok := m.Slice(path...)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

// Map returns the object at path.
func (m *Metadata) Map(path ...string) (map[string]any, bool) {
	value, ok := m.Lookup(path...)
	if !ok {
		return nil, false
	}
	node, ok := value.(map[string]any)
	return node, ok
}
