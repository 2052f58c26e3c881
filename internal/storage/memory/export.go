// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/missileglobe/globe-client/internal/storage"
	"github.com/missileglobe/globe-client/internal/store"
)

// StateExport is the root JSON structure
type StateExport struct {
	ExportedAt time.Time        `json:"exportedAt"`
	Snapshots  int              `json:"snapshots"`
	State      *store.Snapshot  `json:"state,omitempty"`
	Impacts    []storage.Impact `json:"impacts"`
}

// exportJSON writes the collected state to a (optionally gzipped) JSON file
func (b *Backend) exportJSON() error {
	export := StateExport{
		ExportedAt: time.Now().UTC(),
		Snapshots:  b.snapshots,
		State:      b.latest,
		Impacts:    b.impacts,
	}

	timestamp := export.ExportedAt.Format("20060102_150405")
	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("globe_state_%s.json.gz", timestamp)
	} else {
		filename = fmt.Sprintf("globe_state_%s.json", timestamp)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Write file
	if b.cfg.CompressOutput {
		if err := writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	return nil
}

func writeJSON(path string, data StateExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data StateExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}
