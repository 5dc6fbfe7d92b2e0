package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a manifest from the given file path.
//
// The format is determined by extension: .yaml/.yml for YAML, .json for
// JSON. An unrecognized extension tries YAML first, then JSON.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading manifest: %s", path)
		}
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a manifest from raw bytes. The path
// parameter is used for error messages and format detection; it may be
// empty.
func LoadFromBytes(data []byte, path string) (*Manifest, error) {
	if len(data) == 0 {
		return nil, errors.New("manifest file is empty")
	}

	m, err := parseManifest(data, path)
	if err != nil {
		return nil, err
	}

	if err := Validate(m); err != nil {
		return nil, err
	}

	m.ApplyDefaults()
	return m, nil
}

// LoadFromReader reads and validates a manifest from an io.Reader.
func LoadFromReader(r io.Reader, path string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return LoadFromBytes(data, path)
}

// parseManifest parses the manifest data based on file extension.
func parseManifest(data []byte, path string) (*Manifest, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseJSON(data)
	case ".yaml", ".yml":
		return parseYAML(data)
	default:
		// YAML is a superset of JSON, so try it first.
		m, yamlErr := parseYAML(data)
		if yamlErr == nil {
			return m, nil
		}
		m, jsonErr := parseJSON(data)
		if jsonErr == nil {
			return m, nil
		}
		return nil, fmt.Errorf("failed to parse manifest (tried YAML and JSON): %w", yamlErr)
	}
}

func parseJSON(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid JSON in manifest: %w", err)
	}
	return &m, nil
}

func parseYAML(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML in manifest: %w", err)
	}
	return &m, nil
}
