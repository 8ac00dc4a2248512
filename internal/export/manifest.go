package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	coreerrors "github.com/aevon-lab/geoagg/internal/core/errors"
	"gopkg.in/yaml.v3"
)

// ManifestName is the file written under the output root after each run.
const ManifestName = "manifest.yaml"

// Manifest is the YAML summary of one run.
type Manifest struct {
	RunID       string         `yaml:"run_id"`
	StartedAt   time.Time      `yaml:"started_at"`
	FinishedAt  time.Time      `yaml:"finished_at"`
	Subcategory bool           `yaml:"subcategory"`
	Years       []ManifestYear `yaml:"years"`
}

// ManifestYear is one year's outcome. Stage, Layer and Error are set only
// for failed years.
type ManifestYear struct {
	Year      int       `yaml:"year"`
	Status    string    `yaml:"status"`
	Stage     string    `yaml:"stage,omitempty"`
	Layer     string    `yaml:"layer,omitempty"`
	Error     string    `yaml:"error,omitempty"`
	Columns   []string  `yaml:"columns,omitempty"`
	Warnings  []string  `yaml:"warnings,omitempty"`
	Artifacts Artifacts `yaml:"artifacts,omitempty"`
}

// ManifestPath returns <root>/manifest.yaml.
func (e *Exporter) ManifestPath() string {
	return filepath.Join(e.root, ManifestName)
}

// WriteManifest writes m as YAML to path, replacing any previous manifest.
func WriteManifest(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return &coreerrors.ExportError{Stage: coreerrors.StageExport, Path: path, Err: fmt.Errorf("marshal manifest: %w", err)}
	}
	return writeFileAtomic(path, data)
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}
