// Package servicemgr isolates each service of a TestCase in its own worker
// process, so that one service's crash never brings down its peers (§4.H).
package servicemgr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Launcher builds the exec.Cmd for one named service. Registered per
// service name; an unregistered name is a load error (§9).
type Launcher func(ctx context.Context, serviceDir string) (*exec.Cmd, error)

// Manager spawns and supervises one worker process per service directory
// named in a TestCase.
type Manager struct {
	registry map[string]Launcher

	mu       sync.Mutex
	running  []*exec.Cmd
}

// NewManager returns a Manager with no launchers registered.
func NewManager() *Manager {
	return &Manager{registry: make(map[string]Launcher)}
}

// Register associates a service name (a TestCase subdirectory name) with
// the launcher that starts its worker process.
func (m *Manager) Register(service string, launcher Launcher) {
	m.registry[service] = launcher
}

// Start spawns one isolated worker process per serviceDir entry in
// services (service name → its TestCase subdirectory), waits for all to
// finish, and tears down every sibling the instant one exits spontaneously
// or the context is cancelled (§4.H).
func (m *Manager) Start(ctx context.Context, services map[string]string) error {
	group, groupCtx := errgroup.WithContext(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	groupCtx, cancel := withSignal(groupCtx, sigCh)
	defer cancel()

	for name, dir := range services {
		name, dir := name, dir
		launcher, ok := m.registry[name]
		if !ok {
			return fmt.Errorf("servicemgr: no launcher registered for service %q", name)
		}

		group.Go(func() error {
			cmd, err := launcher(groupCtx, dir)
			if err != nil {
				return fmt.Errorf("servicemgr: launch %s: %w", name, err)
			}
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

			if err := cmd.Start(); err != nil {
				return fmt.Errorf("servicemgr: start %s: %w", name, err)
			}
			m.track(cmd)
			logrus.WithField("component", "servicemgr").WithField("service", name).Infof("started, pid=%d", cmd.Process.Pid)

			waitErr := make(chan error, 1)
			go func() { waitErr <- cmd.Wait() }()

			select {
			case err := <-waitErr:
				if err != nil {
					logrus.WithField("component", "servicemgr").WithField("service", name).Warnf("exited with error: %v", err)
				} else {
					logrus.WithField("component", "servicemgr").WithField("service", name).Warn("exited spontaneously")
				}
				return fmt.Errorf("servicemgr: service %s exited", name)
			case <-groupCtx.Done():
				terminate(cmd, name)
				<-waitErr
				return nil
			}
		})
	}

	return group.Wait()
}

func (m *Manager) track(cmd *exec.Cmd) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = append(m.running, cmd)
}

// terminate asks a child to stop via its process group, never SIGKILL
// (§4.H "manager waits, no forced kill").
func terminate(cmd *exec.Cmd, name string) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		pgid = cmd.Process.Pid
	}
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		logrus.WithField("component", "servicemgr").WithField("service", name).Warnf("SIGTERM to pgid=%d failed: %v", pgid, err)
	}
}

// withSignal returns a context cancelled either when parent is, or when a
// signal arrives on sigCh (§4.H "installs signal handlers for INT/TERM").
func withSignal(parent context.Context, sigCh <-chan os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case sig := <-sigCh:
			logrus.WithField("component", "servicemgr").Infof("received %v, terminating services", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
