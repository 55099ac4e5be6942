// Command testrunner drives one or more recorded TestCases through an
// emulator/scan/compare cycle and reports pass/fail (§4.I, §5, §6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/openvas-vts/vts-replay/internal/config"
	"github.com/openvas-vts/vts-replay/internal/oidmap"
	"github.com/openvas-vts/vts-replay/internal/testcase"
	"github.com/openvas-vts/vts-replay/internal/testrunner"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newTestrunnerCmd().Execute(); err != nil {
		logrus.WithField("component", "testrunner").Error(err)
		os.Exit(1)
	}
}

func newTestrunnerCmd() *cobra.Command {
	var numScans int
	var emulatorBin string
	var scannerBin string
	var oidMapPath string

	cmd := &cobra.Command{
		Use:   "testrunner path [path ...]",
		Short: "Replay recorded TestCases against a scanner and compare output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passed, err := run(cmd.Context(), args, numScans, emulatorBin, scannerBin, oidMapPath)
			if err != nil {
				return err
			}
			if !passed {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&numScans, "num-scans", "n", 0, "Concurrent scan count (0 = config default)")
	cmd.Flags().StringVar(&emulatorBin, "emulator-bin", "emulator", "Path to the emulator binary")
	cmd.Flags().StringVar(&scannerBin, "scanner-bin", "openvas-scan", "Path to the vulnerability scanner binary")
	cmd.Flags().StringVar(&oidMapPath, "oid-map", "", "Path to the OID-to-plugin-filename JSON map")

	return cmd
}

func run(ctx context.Context, paths []string, numScans int, emulatorBin, scannerBin, oidMapPath string) (bool, error) {
	cfg, err := config.LoadRunner()
	if err != nil {
		return false, fmt.Errorf("testrunner: load config: %w", err)
	}
	if numScans <= 0 {
		numScans = cfg.NumScans
	}

	dirs, err := discoverTestCaseDirs(paths)
	if err != nil {
		return false, err
	}
	if len(dirs) == 0 {
		return false, fmt.Errorf("testrunner: no TestCase directories found under %v", paths)
	}

	var oids *oidmap.Map
	if oidMapPath != "" {
		oids, err = oidmap.Load(oidMapPath)
		if err != nil {
			return false, fmt.Errorf("testrunner: load OID map: %w", err)
		}
	}

	cases := make([]testrunner.CaseInput, 0, len(dirs))
	for _, dir := range dirs {
		tc, err := testcase.Load(dir)
		if err != nil {
			return false, fmt.Errorf("testrunner: load %s: %w", dir, err)
		}

		ports := make([]int, 0, len(tc.ScanInfo.RecordedPorts))
		for _, p := range tc.ScanInfo.RecordedPorts {
			ports = append(ports, p)
		}
		sort.Ints(ports)

		plugins := tc.ScanInfo.RecordedPlugins
		if oids != nil {
			resolved := make([]string, 0, len(plugins))
			for _, oid := range plugins {
				filename, err := oids.Resolve(oid)
				if err != nil {
					return false, fmt.Errorf("testrunner: %s: %w", dir, err)
				}
				resolved = append(resolved, filename)
			}
			plugins = resolved
		}

		cases = append(cases, testrunner.CaseInput{
			Dir:            dir,
			Ports:          ports,
			PluginFiles:    plugins,
			KbArgs:         tc.ScanInfo.KbArgs,
			RecordedResult: tc.ScanInfo.Result,
		})
	}

	r := testrunner.NewRunner(newEmulatorLauncher(emulatorBin), &processScanner{bin: scannerBin})

	start := time.Now()
	allPassed, results, err := r.Run(ctx, cases, numScans)
	wallClock := time.Since(start)
	if err != nil {
		return false, fmt.Errorf("testrunner: run: %w", err)
	}

	for _, res := range results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fields := logrus.Fields{"component": "testrunner", "testcase": res.Dir, "status": status}
		if res.Err != nil {
			fields["error"] = res.Err.Error()
		}
		logrus.WithFields(fields).Info("case complete")
	}

	if numScans > 1 {
		benchmark := testrunner.BuildBenchmark(results, wallClock)
		if err := testrunner.WriteBenchmark(".", benchmark); err != nil {
			logrus.WithField("component", "testrunner").Warnf("write benchmark.json: %v", err)
		}
	}

	return allPassed, nil
}

// discoverTestCaseDirs expands a mix of TestCaseN directories and their
// parent (OID) directories into a flat list of TestCaseN paths (§6).
func discoverTestCaseDirs(paths []string) ([]string, error) {
	var dirs []string
	for _, p := range paths {
		if strings.HasPrefix(filepath.Base(p), "TestCase") {
			dirs = append(dirs, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("testrunner: read %s: %w", p, err)
		}
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(e.Name(), "TestCase") {
				dirs = append(dirs, filepath.Join(p, e.Name()))
			}
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// execEmulator is a running `emulator` subprocess for one TestCase,
// implementing testrunner.Emulator.
type execEmulator struct {
	cmd   *exec.Cmd
	ip    string
	ports []int
}

func (e *execEmulator) Ports() []int { return e.ports }
func (e *execEmulator) IP() string   { return e.ip }

// Stop asks the emulator subprocess to exit with SIGINT and waits for it,
// never sending SIGKILL — the same "manager waits, no forced kill"
// discipline servicemgr uses (§4.H).
func (e *execEmulator) Stop() error {
	if e.cmd.Process == nil {
		return nil
	}
	if err := e.cmd.Process.Signal(os.Interrupt); err != nil {
		return err
	}
	return e.cmd.Wait()
}

// newEmulatorLauncher returns an EmulatorLauncher that execs the emulator
// binary against a TestCase directory, bound to localhost.
func newEmulatorLauncher(emulatorBin string) testrunner.EmulatorLauncher {
	return func(ctx context.Context, testCaseDir string) (testrunner.Emulator, error) {
		tc, err := testcase.Load(testCaseDir)
		if err != nil {
			return nil, fmt.Errorf("testrunner: load %s: %w", testCaseDir, err)
		}

		ports := make([]int, 0, len(tc.ScanInfo.RecordedPorts))
		for _, p := range tc.ScanInfo.RecordedPorts {
			ports = append(ports, p)
		}
		sort.Ints(ports)

		cmd := exec.CommandContext(ctx, emulatorBin, testCaseDir, "--host", "127.0.0.1")
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("testrunner: start emulator: %w", err)
		}

		return &execEmulator{cmd: cmd, ip: "127.0.0.1", ports: ports}, nil
	}
}

// processScanner invokes an external scanner binary and captures its
// stdout. Scanner process internals are out of scope (§1 Non-goals); this
// is the minimal invocation surface §4.I.3 names.
type processScanner struct {
	bin string
}

func (s *processScanner) Invoke(ctx context.Context, targetIP string, plugins []string, kbArgs string) (string, error) {
	args := []string{"--target", targetIP}
	if len(plugins) > 0 {
		args = append(args, "--plugins", strings.Join(plugins, ","))
	}
	if kbArgs != "" {
		args = append(args, "--kb", kbArgs)
	}

	cmd := exec.CommandContext(ctx, s.bin, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("testrunner: invoke scanner: %w", err)
	}
	return string(out), nil
}
