package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SessionExport is the root JSON structure.
type SessionExport struct {
	Dataset    string       `json:"dataset"`
	Notes      string       `json:"notes,omitempty"`
	StartTime  time.Time    `json:"startTime"`
	EndTime    time.Time    `json:"endTime"`
	PointCount int          `json:"pointCount"`
	Entities   []EntityJSON `json:"entities"`
}

// EntityJSON represents one entity and its recorded positions.
// Position format: [[lon, lat], timestamp, speed, heading]; speed and
// heading are null when the source record had none.
type EntityJSON struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Positions [][]any `json:"positions"`
}

// exportJSON writes the session data to a (optionally gzipped) JSON file.
// Caller holds the lock.
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	dataset := strings.ReplaceAll(b.dataset, " ", "_")
	if dataset == "" {
		dataset = "session"
	}
	timestamp := b.startTime.Format("20060102_150405")

	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("%s_%s.json.gz", dataset, timestamp)
	} else {
		filename = fmt.Sprintf("%s_%s.json", dataset, timestamp)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

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

func (b *Backend) buildExport() SessionExport {
	export := SessionExport{
		Dataset:    b.dataset,
		Notes:      b.notes,
		StartTime:  b.startTime,
		EndTime:    b.endTime,
		PointCount: len(b.seen),
		Entities:   make([]EntityJSON, 0, len(b.entities)),
	}

	ids := make([]string, 0, len(b.entities))
	for id := range b.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := b.entities[id]
		entity := EntityJSON{
			ID:        rec.EntityID,
			Type:      rec.EntityType,
			Positions: make([][]any, 0, len(rec.Points)),
		}
		for _, p := range rec.Points {
			var speed, heading any
			if p.Speed.Valid {
				speed = p.Speed.Float64
			}
			if p.Heading.Valid {
				heading = p.Heading.Float64
			}
			entity.Positions = append(entity.Positions, []any{
				[]float64{p.Longitude, p.Latitude},
				p.Timestamp.UTC().Format(time.RFC3339),
				speed,
				heading,
			})
		}
		export.Entities = append(export.Entities, entity)
	}

	return export
}

func writeJSON(path string, export SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(export); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}

func writeGzipJSON(path string, export SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(export); err != nil {
		gz.Close()
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return gz.Close()
}
