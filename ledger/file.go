package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"smsrelay/models"
)

// DefaultFileName is the ledger filename under the relay data dir.
const DefaultFileName = "ledger.json"

// File is a ledger persisted as a JSON array of identifiers.
type File struct {
	keySet
	path string
}

// Load reads the ledger at path.
//
// The returned ledger is always usable. A missing file yields an empty ledger
// and a nil error; an unreadable or unparsable file yields an empty ledger and
// a *StateError.
func Load(path string) (*File, error) {
	ledger := &File{keySet: newKeySet(nil), path: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ledger, nil
		}
		return ledger, &StateError{Op: "read", Path: path, Err: err}
	}

	keys, err := decodeKeys(raw)
	if err != nil {
		return ledger, &StateError{Op: "parse", Path: path, Err: err}
	}
	ledger.keySet = newKeySet(keys)

	return ledger, nil
}

// Path returns the file backing the ledger.
func (l *File) Path() string {
	return l.path
}

// Persist writes the full key set to disk, replacing previous contents.
//
// The new contents are written to a sibling temp file and renamed into place,
// so an interrupted write leaves the previous ledger intact.
func (l *File) Persist() error {
	raw, err := encodeKeys(l.Keys())
	if err != nil {
		return &StateError{Op: "encode", Path: l.path, Err: err}
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &StateError{Op: "create directory", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return &StateError{Op: "create temp", Path: l.path, Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(raw); err != nil {
		cleanup()
		return &StateError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return &StateError{Op: "sync", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &StateError{Op: "close", Path: tmpPath, Err: err}
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return &StateError{Op: "chmod", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		_ = os.Remove(tmpPath)
		return &StateError{Op: "rename", Path: l.path, Err: err}
	}

	l.pending = nil
	return nil
}

// decodeKeys parses a JSON array and returns each element as key text,
// canonicalised the same way inbound messages are.
func decodeKeys(raw []byte) ([]string, error) {
	var values []json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode identifiers: %w", err)
	}

	keys := make([]string, 0, len(values))
	for _, value := range values {
		if key, ok := models.IdentifierKey(value); ok {
			keys = append(keys, key)
			continue
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, value); err != nil {
			return nil, fmt.Errorf("compact identifier: %w", err)
		}
		keys = append(keys, compact.String())
	}
	return keys, nil
}

func encodeKeys(keys []string) ([]byte, error) {
	values := make([]json.RawMessage, 0, len(keys))
	for _, key := range keys {
		if !json.Valid([]byte(key)) {
			// Keys that are not JSON text are stored as JSON strings.
			quoted, err := json.Marshal(key)
			if err != nil {
				return nil, err
			}
			values = append(values, quoted)
			continue
		}
		values = append(values, json.RawMessage(key))
	}
	return json.Marshal(values)
}
