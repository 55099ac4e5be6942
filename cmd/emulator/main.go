// Command emulator serves a single recorded TestCase back over the network,
// rewriting the recorded host sentinel to its own bind host so a scanner
// driven against it sees the same responses the original target gave
// (§4.F, §4.G, §6). Each recorded service gets its own worker process,
// supervised by internal/servicemgr (§4.H), so one service's crash never
// takes down its siblings.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/openvas-vts/vts-replay/internal/config"
	"github.com/openvas-vts/vts-replay/internal/replay"
	"github.com/openvas-vts/vts-replay/internal/servicemgr"
	"github.com/openvas-vts/vts-replay/internal/testcase"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// serveHTTPFlag is the hidden subcommand name each service worker is
// exec'd with; it never appears in the CLI surface §6 documents.
const serveHTTPFlag = "serve-http"

func main() {
	if len(os.Args) > 1 && os.Args[1] == serveHTTPFlag {
		if err := serveHTTP(os.Args[2:]); err != nil {
			logrus.WithField("component", "emulator-worker").Fatal(err)
		}
		return
	}

	if err := newEmulatorCmd().Execute(); err != nil {
		logrus.WithField("component", "emulator").Fatal(err)
	}
}

func newEmulatorCmd() *cobra.Command {
	var host string
	var logDir string

	cmd := &cobra.Command{
		Use:   "emulator TestCaseN",
		Short: "Serve a recorded TestCase back over the network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], host, logDir)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Bind host (overrides config default)")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "Directory to write emulator logs under (overrides config default)")

	return cmd
}

// run is the supervising process: one servicemgr worker per recorded
// service subdirectory.
func run(ctx context.Context, dir, host, logDir string) error {
	if !strings.HasPrefix(filepath.Base(dir), "TestCase") {
		return fmt.Errorf("emulator: %s does not look like a TestCase directory", dir)
	}

	cfg, err := config.LoadEmulator()
	if err != nil {
		return fmt.Errorf("emulator: load config: %w", err)
	}
	if host != "" {
		cfg.Host = host
	}
	if logDir != "" {
		cfg.LogDir = logDir
	}

	tc, err := testcase.Load(dir)
	if err != nil {
		return fmt.Errorf("emulator: load TestCase: %w", err)
	}
	if len(tc.Services) == 0 {
		return fmt.Errorf("emulator: %s recorded no services", dir)
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("emulator: resolve own binary path: %w", err)
	}

	logrus.WithField("component", "emulator").Infof("serving %s on %s (logs: %s)", dir, cfg.Host, cfg.LogDir)

	mgr := servicemgr.NewManager()
	services := make(map[string]string, len(tc.Services))
	for name := range tc.Services {
		services[name] = dir
		mgr.Register(name, httpWorkerLauncher(self, cfg.Host, name))
	}

	return mgr.Start(ctx, services)
}

// httpWorkerLauncher builds the Launcher that execs this same binary in
// serve-http mode for one service worker, telling it which service's
// recorded port(s) it alone is responsible for binding.
func httpWorkerLauncher(self, host, service string) servicemgr.Launcher {
	return func(ctx context.Context, serviceDir string) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, self, serveHTTPFlag, serviceDir, "--host", host, "--service", service)
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		return cmd, nil
	}
}

// serveHTTP is the worker entrypoint: loads the TestCase, rewrites the
// host sentinel, and serves the one named service's recorded port(s) until
// signalled. Binding only its own service's port(s) keeps sibling workers
// (one per service, supervised by servicemgr) from colliding on the same
// port (§4.H).
func serveHTTP(args []string) error {
	cmd := &cobra.Command{
		Use:          serveHTTPFlag,
		Hidden:       true,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
	}
	var host string
	var service string
	cmd.Flags().StringVar(&host, "host", "localhost", "Bind host")
	cmd.Flags().StringVar(&service, "service", "", "Service name this worker alone serves")
	cmd.SetArgs(args)
	dir := ""
	cmd.RunE = func(cmd *cobra.Command, a []string) error {
		dir = a[0]
		return nil
	}
	if err := cmd.Execute(); err != nil {
		return err
	}

	tc, err := testcase.Load(dir)
	if err != nil {
		return fmt.Errorf("emulator: load TestCase: %w", err)
	}

	loader := replay.NewLoader(host)
	if err := loader.Rewrite(tc); err != nil {
		return fmt.Errorf("emulator: rewrite host sentinel: %w", err)
	}

	handler := replay.BuildHandler(tc)

	port, ok := tc.ScanInfo.RecordedPorts[service]
	if !ok {
		return fmt.Errorf("emulator: no recorded port for service %q", service)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: handler,
	}
	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("component", "emulator-worker").WithField("service", service).Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("emulator: serve %s: %w", service, err)
			return
		}
		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logrus.WithField("component", "emulator-worker").Infof("received %v, shutting down gracefully", sig)
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithField("component", "emulator-worker").Warnf("shutdown %s: %v", srv.Addr, err)
	}

	return nil
}
