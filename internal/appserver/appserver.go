// Package appserver launches the gunicorn process serving the tax
// analyzer backend and relays its lifecycle to the platform.
package appserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/logger"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/metrics"
)

// The serving shape is part of the deployment contract and never varies
// with the environment: 4 worker processes, 2 threads each, 120 second
// request timeout, always the same WSGI target.
const (
	Target     = "tax_analyzer_backend:app"
	BindHost   = "0.0.0.0"
	Workers    = 4
	Threads    = 2
	TimeoutSec = 120
)

type Server struct {
	Bin  string
	Port int
	Dir  string

	// Env overrides the inherited environment when set. The server
	// normally inherits everything the agent was started with.
	Env []string

	Stdout io.Writer
	Stderr io.Writer
}

// Args returns the gunicorn argument vector for the configured port.
func (s *Server) Args() []string {
	return []string{
		fmt.Sprintf("--bind=%s:%d", BindHost, s.Port),
		fmt.Sprintf("--workers=%d", Workers),
		fmt.Sprintf("--threads=%d", Threads),
		fmt.Sprintf("--timeout=%d", TimeoutSec),
		Target,
	}
}

// Run starts the server and waits for it to exit, forwarding SIGINT and
// SIGTERM and relaying both output streams. The returned code is the
// server's own exit code, 128+signal when a signal killed it. Run errors
// only when the process could not be started at all.
func (s *Server) Run(ctx context.Context) (int, error) {
	binary, err := exec.LookPath(s.Bin)
	if err != nil {
		metrics.ServerLaunchesTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("command not found: %s: %w", s.Bin, err)
	}

	cmd := exec.Command(binary, s.Args()...)
	cmd.Dir = s.Dir
	cmd.Env = s.Env
	cmd.Stdout = s.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	// Own process group so forwarded signals are the only ones gunicorn
	// sees, and a parent-death signal so it never outlives the agent.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGTERM,
	}

	logger.Info("launching application server", "bin", binary, "args", s.Args())
	if err := cmd.Start(); err != nil {
		metrics.ServerLaunchesTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to start server: %w", err)
	}
	metrics.ServerLaunchesTotal.WithLabelValues("success").Inc()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case sig := <-sigCh:
				logger.Info("forwarding signal to server", "signal", sig.String())
				cmd.Process.Signal(sig)
			case <-ctx.Done():
				cmd.Process.Signal(syscall.SIGTERM)
				<-done
				return
			case <-done:
				return
			}
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	code := exitCode(waitErr)
	metrics.ServerExitCode.Set(float64(code))
	logger.Info("application server exited", "code", code)
	return code, nil
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}

	logger.Error("failed waiting for server", "error", waitErr)
	return 1
}
