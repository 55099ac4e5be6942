package testrunner

import (
	"encoding/json"
	"os"
	"time"
)

// BenchmarkCase is one case's entry in a benchmark summary.
type BenchmarkCase struct {
	Dir        string        `json:"Dir"`
	Passed     bool          `json:"Passed"`
	DurationMS int64         `json:"DurationMS"`
	Error      string        `json:"Error,omitempty"`
}

// Benchmark is the summary emitted when a run invokes more than one scan,
// giving downstream tooling data to plot (SUPPLEMENTED FEATURES item 4 —
// the plotting itself stays out of scope).
type Benchmark struct {
	ScanCount  int             `json:"ScanCount"`
	PassCount  int             `json:"PassCount"`
	FailCount  int             `json:"FailCount"`
	WallClock  time.Duration   `json:"-"`
	WallClockMS int64          `json:"WallClockMS"`
	Cases      []BenchmarkCase `json:"Cases"`
}

// BuildBenchmark summarizes results into a Benchmark.
func BuildBenchmark(results []CaseResult, wallClock time.Duration) *Benchmark {
	b := &Benchmark{ScanCount: len(results), WallClock: wallClock, WallClockMS: wallClock.Milliseconds()}
	for _, r := range results {
		errMsg := ""
		if r.Err != nil {
			errMsg = r.Err.Error()
		}
		if r.Passed {
			b.PassCount++
		} else {
			b.FailCount++
		}
		b.Cases = append(b.Cases, BenchmarkCase{
			Dir:        r.Dir,
			Passed:     r.Passed,
			DurationMS: r.Duration.Milliseconds(),
			Error:      errMsg,
		})
	}
	return b
}

// WriteBenchmark writes the summary as benchmark.json under dir, only
// called when --num-scans > 1 (SUPPLEMENTED FEATURES item 4).
func WriteBenchmark(dir string, b *Benchmark) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(dir+"/benchmark.json", data, 0644)
}
