package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HeaderSchemaVersion tracks the schema version for bundle headers.
const HeaderSchemaVersion = 1

// HeaderFile is the name of the header document inside a bundle.
const HeaderFile = "header.json"

// Header describes a replay bundle and points at its artefacts.
type Header struct {
	SchemaVersion int     `json:"schema_version"`
	MatchID       string  `json:"match_id"`
	CreatedAt     string  `json:"created_at"`
	Codec         string  `json:"codec,omitempty"`
	TickRate      int     `json:"tick_rate,omitempty"`
	GravityX      float64 `json:"gravity_x"`
	GravityY      float64 `json:"gravity_y"`
	EventsPath    string  `json:"events_path"`
	FramesPath    string  `json:"frames_path"`
}

// Validate ensures the header can locate its artefacts.
func (h Header) Validate() error {
	if h.SchemaVersion <= 0 {
		return errors.New("schema_version must be positive")
	}
	if strings.TrimSpace(h.EventsPath) == "" || strings.TrimSpace(h.FramesPath) == "" {
		return errors.New("events_path and frames_path must not be empty")
	}
	if filepath.IsAbs(h.EventsPath) || filepath.IsAbs(h.FramesPath) {
		return errors.New("artefact paths must be relative to the bundle")
	}
	return nil
}

// WriteHeader persists header into dir.
func WriteHeader(dir string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	//1.- Indent so operators can read it without tooling.
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, HeaderFile), append(payload, '\n'), 0o644)
}

// ReadHeader loads the header stored in dir.
func ReadHeader(dir string) (Header, error) {
	data, err := os.ReadFile(filepath.Join(dir, HeaderFile))
	if err != nil {
		return Header{}, err
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, fmt.Errorf("decode header: %w", err)
	}
	if err := header.Validate(); err != nil {
		return Header{}, err
	}
	return header, nil
}
