// Package testrunner drives a pool of emulator instances, one TestCase at a
// time per worker, and compares sanitized scanner output against the
// recorded verdict (§4.I, §5 "Test runner").
package testrunner

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// sanitizer removes the literal tokens recorded_host, emulator_ip,
// emulator_hostname and container_network, each with an optional ":port"
// suffix, from scanner output before comparison. Only these names are
// matched; actual addresses or hostnames in the output are left in place.
var sanitizer = regexp.MustCompile(`(recorded_host|emulator_ip|emulator_hostname|container_network)(:\d+)?`)

// Sanitize removes every occurrence of the identity tokens from s.
func Sanitize(s string) string {
	return sanitizer.ReplaceAllString(s, "")
}

// Emulator is one running emulator instance for a TestCase.
type Emulator interface {
	// Ports lists the TCP ports the TestCase recorded, for the readiness
	// probe.
	Ports() []int
	// IP is the address a scanner should target.
	IP() string
	// Stop kills all non-init processes in the emulator's sandbox (§4.I.5).
	Stop() error
}

// EmulatorLauncher starts an isolated emulator instance for a TestCase
// directory.
type EmulatorLauncher func(ctx context.Context, testCaseDir string) (Emulator, error)

// Scanner invokes the vulnerability scanner against a ready emulator.
type Scanner interface {
	// Invoke runs the scanner against targetIP with the given plugin
	// filenames and KB argument string, and returns its captured stdout.
	Invoke(ctx context.Context, targetIP string, plugins []string, kbArgs string) (string, error)
}

// CaseResult is the outcome of running a single TestCase.
type CaseResult struct {
	Dir      string
	Passed   bool
	Duration time.Duration
	Err      error
}

// Runner coordinates the bounded worker pool over a list of TestCases.
type Runner struct {
	Launcher EmulatorLauncher
	Scanner  Scanner
}

// NewRunner returns a Runner wired to launcher and scanner.
func NewRunner(launcher EmulatorLauncher, scanner Scanner) *Runner {
	return &Runner{Launcher: launcher, Scanner: scanner}
}

// CaseInput bundles what Run needs per TestCase beyond its directory: the
// recorded ports to probe, the resolved plugin filenames, the KB argument
// string, and the recorded Result to compare against.
type CaseInput struct {
	Dir            string
	Ports          []int
	PluginFiles    []string
	KbArgs         string
	RecordedResult string
}

// Run drives every case through an emulator/scan/compare cycle, bounded to
// min(numScans, len(cases)) concurrent workers (§4.I, §5).
func (r *Runner) Run(ctx context.Context, cases []CaseInput, numScans int) (bool, []CaseResult, error) {
	limit := numScans
	if limit > len(cases) || limit <= 0 {
		limit = len(cases)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	results := make([]CaseResult, len(cases))

	for i, c := range cases {
		i, c := i, c
		group.Go(func() error {
			results[i] = r.runOne(groupCtx, c)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return false, results, err
	}

	allPassed := true
	for _, res := range results {
		if !res.Passed {
			allPassed = false
		}
	}
	return allPassed, results, nil
}

func (r *Runner) runOne(ctx context.Context, c CaseInput) CaseResult {
	start := time.Now()
	result := CaseResult{Dir: c.Dir}

	emu, err := r.Launcher(ctx, c.Dir)
	if err != nil {
		result.Err = fmt.Errorf("testrunner: launch emulator for %s: %w", c.Dir, err)
		return result
	}
	defer func() {
		if err := emu.Stop(); err != nil {
			logrus.WithField("component", "testrunner").WithField("testcase", c.Dir).Warnf("stop emulator: %v", err)
		}
	}()

	if err := waitReady(ctx, emu.IP(), c.Ports); err != nil {
		result.Err = fmt.Errorf("testrunner: emulator for %s never became ready: %w", c.Dir, err)
		result.Duration = time.Since(start)
		return result
	}

	output, err := r.Scanner.Invoke(ctx, emu.IP(), c.PluginFiles, c.KbArgs)
	if err != nil {
		result.Err = fmt.Errorf("testrunner: scan %s: %w", c.Dir, err)
		result.Duration = time.Since(start)
		return result
	}

	result.Passed = Sanitize(output) == Sanitize(c.RecordedResult)
	result.Duration = time.Since(start)
	return result
}

// readinessBackoff is the poll interval of the TCP readiness probe
// (§4.I.2 "~5ms").
const readinessBackoff = 5 * time.Millisecond

// waitReady attempts a TCP connect to every port on ip until all succeed or
// ctx is done.
func waitReady(ctx context.Context, ip string, ports []int) error {
	for _, port := range ports {
		addr := fmt.Sprintf("%s:%d", ip, port)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			conn, err := net.DialTimeout("tcp", addr, readinessBackoff)
			if err == nil {
				conn.Close()
				break
			}
			time.Sleep(readinessBackoff)
		}
	}
	return nil
}
