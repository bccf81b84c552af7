// Package assemble turns staged artifacts into installable packages:
// copy the platform's shared libraries into the package layout, run
// the external repair/bundling step, then validate the result.
package assemble

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Manifest declares what one package release contains.
type Manifest struct {
	Name         string   `yaml:"name" json:"name"`
	Version      string   `yaml:"version" json:"version"`
	Libraries    []string `yaml:"libraries" json:"libraries"`
	PythonABITag string   `yaml:"python_abi_tag" json:"python_abi_tag"`
}

const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "version", "libraries", "python_abi_tag"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "libraries": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1},
      "uniqueItems": true
    },
    "python_abi_tag": {"type": "string", "minLength": 1}
  },
  "additionalProperties": false
}`

var compiledManifestSchema = jsonschema.MustCompileString("manifest.schema.json", manifestSchema)

// LoadManifest reads and validates a package manifest from a YAML file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // manifest path from release config
	if err != nil {
		return nil, fmt.Errorf("load manifest %q: %w", path, err)
	}
	return ParseManifest(data)
}

// ParseManifest parses YAML manifest bytes, checks them against the
// manifest schema and verifies the version is valid semver.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest against the embedded schema and the
// semver rules.
func (m *Manifest) Validate() error {
	// Round-trip through JSON so the schema validator sees plain
	// map/slice values.
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest for validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal manifest for validation: %w", err)
	}
	if err := compiledManifestSchema.Validate(doc); err != nil {
		return fmt.Errorf("manifest schema validation failed: %w", err)
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("manifest version %q is not valid semver: %w", m.Version, err)
	}
	return nil
}
