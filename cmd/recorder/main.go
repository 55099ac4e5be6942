// Command recorder runs the transparent TPROXY recording proxy for one
// scan: it captures traffic between the scanner and target_ip, canonicalizes
// it into an endpoint map on shutdown, and writes the result as a new
// TestCase directory (§4.B-§4.E, §6).
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/openvas-vts/vts-replay/internal/audit"
	"github.com/openvas-vts/vts-replay/internal/canonicalize"
	"github.com/openvas-vts/vts-replay/internal/config"
	"github.com/openvas-vts/vts-replay/internal/models"
	"github.com/openvas-vts/vts-replay/internal/recorder"
	"github.com/openvas-vts/vts-replay/internal/testcase"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// auditBufferSize is how many lifecycle events can be queued before Log
// blocks, mirroring the teacher's cmd/proxy auditBufferSize.
const auditBufferSize = 1000

func main() {
	if err := newRecorderCmd().Execute(); err != nil {
		logrus.WithField("component", "recorder").Fatal(err)
	}
}

func newRecorderCmd() *cobra.Command {
	var outputDir string
	var kbArgs []string
	var storeUnderOID string
	var ownerUID int
	var ownerGID int

	cmd := &cobra.Command{
		Use:   "recorder target_ip vts [vts ...]",
		Short: "Record a vulnerability scan's traffic into a replayable TestCase",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], args[1:], outputDir, kbArgs, storeUnderOID, ownerUID, ownerGID)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "./testcases", "Directory TestCases are written under")
	cmd.Flags().StringArrayVarP(&kbArgs, "kb", "k", nil, "KEY=VAL scanner knowledge-base argument (repeatable)")
	cmd.Flags().StringVar(&storeUnderOID, "store-under-oid", "", "OID to store this recording under (defaults to the first vts argument)")
	cmd.Flags().IntVar(&ownerUID, "owner-uid", -1, "chown the written TestCase to this uid")
	cmd.Flags().IntVar(&ownerGID, "owner-gid", -1, "chown the written TestCase to this gid")

	return cmd
}

func run(ctx context.Context, targetIPStr string, vts []string, outputDir string, kbArgs []string, storeUnderOID string, ownerUID, ownerGID int) error {
	logrus.WithField("component", "recorder").Info("starting recorder")

	cfg, err := config.LoadRecorder()
	if err != nil {
		return fmt.Errorf("recorder: load config: %w", err)
	}

	targetIP, err := netip.ParseAddr(targetIPStr)
	if err != nil {
		return fmt.Errorf("recorder: invalid target_ip %q: %w", targetIPStr, err)
	}

	storage, err := audit.NewFileStorage(cfg.AuditPath)
	if err != nil {
		return fmt.Errorf("recorder: init audit storage: %w", err)
	}
	auditWorker := audit.NewWorker(storage, cfg.GenesisSeed, auditBufferSize)
	logrus.WithField("component", "recorder").Infof("audit trail: %s", cfg.AuditPath)

	var seq uint64
	auditLog := func(event string, threadID uint64, detail models.OperationDetail) {
		auditWorker.Log(&models.OperationEntry{
			Timestamp:  time.Now(),
			Event:      event,
			ThreadID:   threadID,
			Detail:     detail,
			SequenceID: nextSeq(&seq),
		})
	}

	proxy := recorder.New(cfg.ListenAddr, targetIP, cfg.IdleTimeout)
	proxy.SetAuditFunc(auditLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- proxy.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logrus.WithField("component", "recorder").Infof("received %v, stopping", sig)
		proxy.Stop()
	case err := <-errCh:
		if err != nil {
			logrus.WithField("component", "recorder").Errorf("accept loop exited: %v", err)
		}
	}

	byThread := proxy.Aggregator().Snapshot()
	portsByThread := proxy.Aggregator().PortsSnapshot()
	exchanges, serviceByThread := recorder.ClassifyAndParseAudited(proxy.Dispatcher(), byThread, auditLog)
	merged := canonicalize.MergeByThread(exchanges)

	recordedPorts := map[string]int{}
	for threadID, service := range serviceByThread {
		if port, ok := portsByThread[threadID]; ok {
			recordedPorts[service] = port
		}
	}

	oid := storeUnderOID
	if oid == "" {
		oid = vts[0]
	}

	dir, err := testcase.NextDir(outputDir, oid)
	if err != nil {
		auditWorker.Shutdown()
		return fmt.Errorf("recorder: resolve output directory: %w", err)
	}

	writer, err := testcase.NewWriter(dir)
	if err != nil {
		auditWorker.Shutdown()
		return fmt.Errorf("recorder: create TestCase directory: %w", err)
	}

	if len(merged) > 0 {
		endpointMap := canonicalize.Build(merged)
		if err := writer.WriteEndpointMapping(endpointMap); err != nil {
			auditWorker.Shutdown()
			return fmt.Errorf("recorder: write endpoint mapping: %w", err)
		}
	}

	info := &models.ScanInfo{
		RecordedHost:    models.RecordedHost,
		RecordedPorts:   recordedPorts,
		RecordedPlugins: vts,
		KbArgs:          strings.Join(kbArgs, " "),
		// Result is left empty: capturing the scanner's own baseline
		// verdict would require driving the external scanner collaborator
		// during recording, which is out of scope (§1 Non-goals). Sanitize
		// comparison in the test runner is only exercised against an empty
		// RecordedResult until a recording path supplies a real one.
		Result: "",
	}
	if err := writer.WriteScanInfo(info); err != nil {
		auditWorker.Shutdown()
		return fmt.Errorf("recorder: write scan info: %w", err)
	}
	auditLog("testcase_written", 0, models.OperationDetail{Dir: dir})

	if ownerUID >= 0 && ownerGID >= 0 {
		if err := writer.Chown(ownerUID, ownerGID); err != nil {
			auditWorker.Shutdown()
			return fmt.Errorf("recorder: chown TestCase directory: %w", err)
		}
	}

	logrus.WithField("component", "recorder").Infof("wrote TestCase at %s", dir)

	auditWorker.Shutdown()
	return nil
}

func nextSeq(seq *uint64) uint64 {
	return atomic.AddUint64(seq, 1) - 1
}
