package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrInvalidFormat reports a session document that is not importable.
var ErrInvalidFormat = errors.New("invalid session format")

// ExportString serializes the recorder's session. Sensitive field names
// are re-applied to storage snapshot values here: export is the redaction
// boundary for data that was captured verbatim.
func (r *Recorder) ExportString() (string, error) {
	s := r.Snapshot()
	s.ExportedAt = time.Now().UnixMilli()

	for i := range s.StorageSnapshots {
		s.StorageSnapshots[i].LocalStorage = r.redactor.StorageMap(s.StorageSnapshots[i].LocalStorage)
		s.StorageSnapshots[i].SessionStorage = r.redactor.StorageMap(s.StorageSnapshots[i].SessionStorage)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize session: %w", err)
	}
	return string(data), nil
}

// Export writes the serialized session to path, creating parent
// directories.
func (r *Recorder) Export(path string) error {
	data, err := r.ExportString()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	return os.WriteFile(path, []byte(data), 0o644)
}

// ImportString parses and validates a session document.
func ImportString(data string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if s.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidFormat, s.Version)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidFormat)
	}
	return &s, nil
}

// Import reads and validates a session file.
func Import(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return ImportString(string(data))
}
