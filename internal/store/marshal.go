package store

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/metaspn/store/internal/envelope"
)

// maxLineBytes bounds a single partition line during scans and index builds.
const maxLineBytes = 4 << 20

// appendLine appends one serialized record plus a newline terminator to a
// partition file, creating the file if needed. The open/write/close cycle is
// the whole append; no handle outlives the call.
func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open partition: %w", err)
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	if _, err := f.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("append partition: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close partition: %w", err)
	}
	return nil
}

// writeDocument serializes doc as canonical JSON and writes it with a single
// trailing newline, replacing any existing file. Writing the same document
// twice is byte-idempotent.
func writeDocument(path string, doc any) error {
	data, err := envelope.CanonicalJSON(doc)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", path, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// readDocument loads a JSON document into out. Returns found=false (and no
// error) when the file does not exist.
func readDocument(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}
