// Package codec converts a whole project store to and from a portable JSON
// document for backups and manual transfer between devices.
//
// Exported documents wrap the snapshot in an envelope:
//
//	{
//	  "format": "obracontrol",
//	  "version": "v1.0.0",
//	  "exportedAt": "2024-03-05T10:00:00Z",
//	  "projectKey": "OBRA-1234",
//	  "fullData": { "1": { "name": "...", ... } }
//	}
//
// Import also accepts a bare fullData object, the shape stored in remote
// documents. Envelopes from a different major version are rejected.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/mod/semver"

	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
)

const (
	// Format identifies ObraControl export envelopes.
	Format = "obracontrol"

	// Version is the envelope version written by Export.
	Version = "v1.0.0"
)

// ErrImportParse is returned for input that is not a usable export.
var ErrImportParse = errors.New("import parse error")

// Meta is optional envelope metadata.
type Meta struct {
	ProjectKey string
	ExportedAt time.Time
}

// Envelope is the exported document.
type Envelope struct {
	Format     string          `json:"format"`
	Version    string          `json:"version"`
	ExportedAt time.Time       `json:"exportedAt"`
	ProjectKey string          `json:"projectKey,omitempty"`
	FullData   schema.Snapshot `json:"fullData"`
}

// Export encodes snap as an indented envelope stamped with the current time.
func Export(snap schema.Snapshot) ([]byte, error) {
	return ExportWithMeta(snap, Meta{})
}

// ExportWithMeta encodes snap with explicit metadata.
func ExportWithMeta(snap schema.Snapshot, meta Meta) ([]byte, error) {
	if meta.ExportedAt.IsZero() {
		meta.ExportedAt = time.Now().UTC()
	}
	env := Envelope{
		Format:     Format,
		Version:    Version,
		ExportedAt: meta.ExportedAt,
		ProjectKey: meta.ProjectKey,
		FullData:   snap,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	return append(data, '\n'), nil
}

// Import decodes an export envelope or a bare fullData object.
// All failures wrap ErrImportParse.
func Import(data []byte) (schema.Snapshot, error) {
	env, err := ImportEnvelope(data)
	if err != nil {
		return nil, err
	}
	return env.FullData, nil
}

// ImportEnvelope is Import that also returns the envelope metadata. Bare
// objects yield an envelope with only FullData set.
func ImportEnvelope(data []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrImportParse)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportParse, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrImportParse)
	}

	env := &Envelope{}
	payload := trimmed
	if _, ok := fields["fullData"]; ok {
		if err := json.Unmarshal(trimmed, &struct {
			Format     *string    `json:"format"`
			Version    *string    `json:"version"`
			ExportedAt *time.Time `json:"exportedAt"`
			ProjectKey *string    `json:"projectKey"`
		}{&env.Format, &env.Version, &env.ExportedAt, &env.ProjectKey}); err != nil {
			return nil, fmt.Errorf("%w: invalid envelope: %v", ErrImportParse, err)
		}
		if err := checkVersion(env.Format, env.Version); err != nil {
			return nil, err
		}
		payload = fields["fullData"]
	}

	var snap schema.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("%w: invalid project data: %v", ErrImportParse, err)
	}
	if len(snap) == 0 {
		return nil, fmt.Errorf("%w: no projects", ErrImportParse)
	}
	for id, p := range snap {
		if p == nil {
			return nil, fmt.Errorf("%w: project %d is null", ErrImportParse, id)
		}
	}
	env.FullData = snap
	return env, nil
}

func checkVersion(format, version string) error {
	if format != "" && format != Format {
		return fmt.Errorf("%w: unknown format %q", ErrImportParse, format)
	}
	if version == "" {
		return nil
	}
	if !semver.IsValid(version) {
		return fmt.Errorf("%w: invalid version %q", ErrImportParse, version)
	}
	if semver.Major(version) != semver.Major(Version) {
		return fmt.Errorf("%w: unsupported version %s (want %s.x)", ErrImportParse, version, semver.Major(Version))
	}
	return nil
}

// FileName returns the suggested export file name for a key.
func FileName(projectKey string, at time.Time) string {
	if projectKey == "" {
		projectKey = "obra"
	}
	return fmt.Sprintf("obracontrol-%s-%s.json", projectKey, at.Format("20060102-150405"))
}
