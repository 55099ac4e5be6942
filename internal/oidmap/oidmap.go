// Package oidmap resolves a plugin OID to the filename the scanner expects
// to invoke it by, loaded from a small JSON {oid: filename} map named by
// cmd/testrunner's --oid-map flag (SUPPLEMENTED FEATURES item 3).
package oidmap

import (
	"encoding/json"
	"fmt"
	"os"
)

// Map is an OID-to-filename lookup table.
type Map struct {
	byOID map[string]string
}

// Load reads a JSON object mapping OID strings to plugin filenames.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("oidmap: read %s: %w", path, err)
	}
	var byOID map[string]string
	if err := json.Unmarshal(data, &byOID); err != nil {
		return nil, fmt.Errorf("oidmap: parse %s: %w", path, err)
	}
	return &Map{byOID: byOID}, nil
}

// Resolve returns the filename registered for oid.
func (m *Map) Resolve(oid string) (string, error) {
	filename, ok := m.byOID[oid]
	if !ok {
		return "", fmt.Errorf("oidmap: no filename registered for OID %s", oid)
	}
	return filename, nil
}
