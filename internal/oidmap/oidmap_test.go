package oidmap

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAndResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oids.json")
	data, _ := json.Marshal(map[string]string{
		"1.3.6.1.4.1.25623.1.0.99999": "gb_example_vuln.nasl",
	})
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	filename, err := m.Resolve("1.3.6.1.4.1.25623.1.0.99999")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if filename != "gb_example_vuln.nasl" {
		t.Errorf("expected gb_example_vuln.nasl, got %s", filename)
	}

	if _, err := m.Resolve("unknown"); err == nil {
		t.Error("expected an error for an unregistered OID")
	}
}
