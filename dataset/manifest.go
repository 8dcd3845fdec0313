package dataset

import (
	"errors"
	"fmt"
	"io"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"gopkg.in/yaml.v3"
)

const (
	// ManifestVersion is the current manifest envelope version.
	ManifestVersion = 1
	// SnapshotKind is the manifest kind for dataset snapshots.
	SnapshotKind = "DatasetSnapshot"
)

// Manifest is the envelope wrapping every externally supplied document.
type Manifest[T any] struct {
	APIVersion int    `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Content    T      `yaml:"content"`
}

// Snapshot declares a new dataset: its name, schema, and data source.
type Snapshot struct {
	Name   string `yaml:"name"`
	Schema string `yaml:"schema,omitempty"`
	Source Source `yaml:"source"`
}

// Validate checks the snapshot's name, schema, and source.
func (s *Snapshot) Validate() error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if s.Schema != "" {
		if _, err := gqlparser.LoadSchema(&ast.Source{Input: s.Schema}); err != nil {
			return fmt.Errorf("invalid schema for dataset %s: %w", s.Name, err)
		}
	}
	if err := s.Source.Validate(); err != nil {
		return fmt.Errorf("invalid source for dataset %s: %w", s.Name, err)
	}
	return nil
}

// ReadSnapshot decodes and validates a snapshot manifest.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var manifest Manifest[Snapshot]
	if err := yaml.NewDecoder(r).Decode(&manifest); err != nil {
		return nil, err
	}
	if manifest.Kind != SnapshotKind {
		return nil, fmt.Errorf("expected manifest kind %s, got %q", SnapshotKind, manifest.Kind)
	}
	if manifest.APIVersion != ManifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", manifest.APIVersion)
	}
	if err := manifest.Content.Validate(); err != nil {
		return nil, err
	}
	return &manifest.Content, nil
}

// WriteSnapshot encodes a snapshot into its manifest envelope.
func WriteSnapshot(w io.Writer, snapshot *Snapshot) error {
	if snapshot == nil {
		return errors.New("nil snapshot")
	}
	manifest := Manifest[Snapshot]{
		APIVersion: ManifestVersion,
		Kind:       SnapshotKind,
		Content:    *snapshot,
	}
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(&manifest); err != nil {
		return err
	}
	return enc.Close()
}
