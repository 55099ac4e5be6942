// Package testcase implements the on-disk TestCase layout (§4.E, §6):
//
//	<OID>/TestCaseN/
//	  scan_info.json
//	  HTTP/
//	    endpoint_mapping.json
//	    <optional static files mirroring path hierarchy>
package testcase

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/openvas-vts/vts-replay/internal/models"
)

// TestCase is a loaded TestCase directory: its metadata and one EndpointMap
// per service subdirectory name (currently only "HTTP" is implemented).
type TestCase struct {
	Dir      string
	ScanInfo *models.ScanInfo
	Services map[string]*models.EndpointMap

	// StaticFiles maps a path (relative to the service subtree) to its raw
	// file contents, for non-JSON files under a service directory that
	// become SimpleEndpoints on replay (§4.F).
	StaticFiles map[string]map[string][]byte
}

var testCaseDirPattern = regexp.MustCompile(`^TestCase(\d+)$`)

// NextDir returns the path for the next TestCase directory under
// outputDir/oid: N is one past the maximum existing TestCaseN, or 0 if none
// exist (§4.E).
func NextDir(outputDir, oid string) (string, error) {
	oidDir := filepath.Join(outputDir, oid)
	entries, err := os.ReadDir(oidDir)
	if err != nil {
		if os.IsNotExist(err) {
			return filepath.Join(oidDir, "TestCase0"), nil
		}
		return "", fmt.Errorf("testcase: read %s: %w", oidDir, err)
	}

	max := -1
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := testCaseDirPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}

	return filepath.Join(oidDir, fmt.Sprintf("TestCase%d", max+1)), nil
}

// Writer persists a single TestCase directory.
type Writer struct {
	Dir string
}

// NewWriter creates the TestCase directory tree (including the HTTP
// subdirectory) and returns a Writer for it.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Join(dir, "HTTP"), 0755); err != nil {
		return nil, fmt.Errorf("testcase: create %s: %w", dir, err)
	}
	return &Writer{Dir: dir}, nil
}

// WriteScanInfo writes scan_info.json.
func (w *Writer) WriteScanInfo(info *models.ScanInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("testcase: marshal scan_info: %w", err)
	}
	return os.WriteFile(filepath.Join(w.Dir, "scan_info.json"), data, 0644)
}

// WriteEndpointMapping writes HTTP/endpoint_mapping.json, preserving field
// order for human diffability (§4.E).
func (w *Writer) WriteEndpointMapping(m *models.EndpointMap) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("testcase: marshal endpoint_mapping: %w", err)
	}
	return os.WriteFile(filepath.Join(w.Dir, "HTTP", "endpoint_mapping.json"), data, 0644)
}

// Chown recursively changes the owner of the TestCase tree, used by the
// recorder's --owner-uid/--owner-gid flags so a non-root consumer can read
// output the recorder (running as root, for TPROXY) produced.
func (w *Writer) Chown(uid, gid int) error {
	return chownRecursive(w.Dir, uid, gid)
}

// Load reads a TestCase directory back into memory (§4.F).
func Load(dir string) (*TestCase, error) {
	if !strings.HasPrefix(filepath.Base(dir), "TestCase") {
		return nil, fmt.Errorf("testcase: %s does not look like a TestCase directory", dir)
	}

	tc := &TestCase{
		Dir:         dir,
		Services:    make(map[string]*models.EndpointMap),
		StaticFiles: make(map[string]map[string][]byte),
	}

	infoPath := filepath.Join(dir, "scan_info.json")
	infoData, err := os.ReadFile(infoPath)
	if err != nil {
		return nil, fmt.Errorf("testcase: read %s: %w", infoPath, err)
	}
	var info models.ScanInfo
	if err := json.Unmarshal(infoData, &info); err != nil {
		return nil, fmt.Errorf("testcase: parse %s: %w", infoPath, err)
	}
	tc.ScanInfo = &info

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("testcase: read %s: %w", dir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		service := entry.Name()
		serviceDir := filepath.Join(dir, service)

		if service == "HTTP" {
			mapPath := filepath.Join(serviceDir, "endpoint_mapping.json")
			mapData, err := os.ReadFile(mapPath)
			if err != nil {
				return nil, fmt.Errorf("testcase: read %s: %w", mapPath, err)
			}
			var epMap models.EndpointMap
			if err := json.Unmarshal(mapData, &epMap); err != nil {
				return nil, fmt.Errorf("testcase: parse %s: %w", mapPath, err)
			}
			tc.Services[service] = &epMap
		}

		files, err := loadStaticFiles(serviceDir)
		if err != nil {
			return nil, err
		}
		tc.StaticFiles[service] = files
	}

	return tc, nil
}

// loadStaticFiles walks a service subtree and returns every file that is
// not endpoint_mapping.json and not itself a .json file, keyed by its path
// relative to the service directory (§4.F: ".json files under HTTP/ other
// than endpoint_mapping.json are ignored during plain-file enumeration").
func loadStaticFiles(serviceDir string) (map[string][]byte, error) {
	files := make(map[string][]byte)

	var names []string
	err := filepath.Walk(serviceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(serviceDir, path)
		if err != nil {
			return err
		}
		if rel == "endpoint_mapping.json" || strings.EqualFold(filepath.Ext(rel), ".json") {
			return nil
		}
		names = append(names, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return files, nil
		}
		return nil, fmt.Errorf("testcase: walk %s: %w", serviceDir, err)
	}

	sort.Strings(names)
	for _, rel := range names {
		data, err := os.ReadFile(filepath.Join(serviceDir, rel))
		if err != nil {
			return nil, fmt.Errorf("testcase: read %s: %w", rel, err)
		}
		files[rel] = data
	}
	return files, nil
}
