package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads and validates a manifest from the given file path.
//
// The file format is determined by extension: .toml for TOML,
// .yaml/.yml for YAML, .json for JSON. If the extension is
// unrecognized, TOML is attempted first, then YAML, then JSON.
//
// After loading, the manifest is validated and defaults are applied to
// optional fields. Relative workdir and ledger paths are resolved
// against the manifest file's directory.
//
// Returns an error if:
//   - The file cannot be read (not found, permission denied, etc.)
//   - The file content is not valid TOML, YAML, or JSON
//   - The manifest fails validation
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

	m, err := LoadFromBytes(data, path)
	if err != nil {
		return nil, err
	}

	// Anchor relative paths to the manifest's directory so runs behave
	// the same regardless of the process working directory.
	base := filepath.Dir(path)
	if !filepath.IsAbs(m.WorkDir) {
		m.WorkDir = filepath.Join(base, m.WorkDir)
	}
	if !filepath.IsAbs(m.Run.Ledger) {
		m.Run.Ledger = filepath.Join(base, m.Run.Ledger)
	}
	return m, nil
}

// LoadFromBytes parses and validates a manifest from raw bytes.
//
// The path parameter is used for error messages and format detection.
// If path is empty, format detection falls back to trying TOML first.
// Unlike Load, no path anchoring is performed.
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
//
// The path parameter is used for error messages and format detection.
func LoadFromReader(r io.Reader, path string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return LoadFromBytes(data, path)
}

// parseManifest parses the manifest data based on file extension.
func parseManifest(data []byte, path string) (*Manifest, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".toml":
		return parseTOML(data)
	case ".yaml", ".yml":
		return parseYAML(data)
	case ".json":
		return parseJSON(data)
	default:
		// Unknown extension: try TOML (the preferred format), then
		// YAML, then JSON.
		m, tomlErr := parseTOML(data)
		if tomlErr == nil {
			return m, nil
		}
		if m, err := parseYAML(data); err == nil {
			return m, nil
		}
		if m, err := parseJSON(data); err == nil {
			return m, nil
		}
		return nil, fmt.Errorf("failed to parse manifest (tried TOML, YAML and JSON): %w", tomlErr)
	}
}

// parseTOML parses manifest data as TOML. Unknown top-level keys are
// rejected so typos surface as errors instead of silently ignored
// configuration.
func parseTOML(data []byte) (*Manifest, error) {
	var m Manifest
	dec := toml.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("invalid TOML in manifest: %w", err)
	}
	return &m, nil
}

// parseYAML parses manifest data as YAML.
func parseYAML(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("invalid YAML in manifest: %w", err)
	}
	return &m, nil
}

// parseJSON parses manifest data as JSON.
func parseJSON(data []byte) (*Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("invalid JSON in manifest: %w", err)
	}
	return &m, nil
}
