package appserver_test

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/appserver"
)

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-gunicorn")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+content), 0755))
	return path
}

func TestArgs(t *testing.T) {
	t.Run("should bind all interfaces on the configured port", func(t *testing.T) {
		s := &appserver.Server{Bin: "gunicorn", Port: 8080}
		assert.Contains(t, s.Args(), "--bind=0.0.0.0:8080")
	})

	t.Run("should compose the full fixed command line", func(t *testing.T) {
		s := &appserver.Server{Bin: "gunicorn", Port: 8080}
		assert.Equal(t, []string{
			"--bind=0.0.0.0:8080",
			"--workers=4",
			"--threads=2",
			"--timeout=120",
			"tax_analyzer_backend:app",
		}, s.Args())
	})

	t.Run("should keep workers, threads and timeout fixed regardless of environment", func(t *testing.T) {
		t.Setenv("WEB_CONCURRENCY", "16")
		t.Setenv("GUNICORN_WORKERS", "1")
		t.Setenv("TIMEOUT", "5")

		s := &appserver.Server{Bin: "gunicorn", Port: 9001}
		args := s.Args()

		assert.Contains(t, args, "--bind=0.0.0.0:9001")
		assert.Contains(t, args, "--workers=4")
		assert.Contains(t, args, "--threads=2")
		assert.Contains(t, args, "--timeout=120")
		assert.Equal(t, "tax_analyzer_backend:app", args[len(args)-1])
	})
}

func TestRun(t *testing.T) {
	t.Run("should error when the binary does not exist", func(t *testing.T) {
		s := &appserver.Server{Bin: "definitely-not-gunicorn-xyz", Port: 8080}
		_, err := s.Run(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, exec.ErrNotFound)
	})

	t.Run("should return zero for a clean exit", func(t *testing.T) {
		s := &appserver.Server{Bin: writeScript(t, "exit 0"), Port: 8080}
		code, err := s.Run(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 0, code)
	})

	t.Run("should propagate the server exit code", func(t *testing.T) {
		s := &appserver.Server{Bin: writeScript(t, "exit 7"), Port: 8080}
		code, err := s.Run(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 7, code)
	})

	t.Run("should report 128 plus signal for a signalled death", func(t *testing.T) {
		s := &appserver.Server{Bin: writeScript(t, "kill -KILL $$"), Port: 8080}
		code, err := s.Run(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 137, code)
	})

	t.Run("should relay the server output", func(t *testing.T) {
		var out bytes.Buffer
		s := &appserver.Server{
			Bin:    writeScript(t, `echo "Listening at: http://0.0.0.0:$1"`),
			Port:   8080,
			Stdout: &out,
		}
		code, err := s.Run(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 0, code)
		assert.Contains(t, out.String(), "Listening at:")
	})

	t.Run("should hand the environment to the server", func(t *testing.T) {
		var out bytes.Buffer
		s := &appserver.Server{
			Bin:    writeScript(t, `echo "key=$GEMINI_API_KEY"`),
			Port:   8080,
			Env:    append(os.Environ(), "GEMINI_API_KEY=key-456"),
			Stdout: &out,
		}
		code, err := s.Run(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 0, code)
		assert.Contains(t, out.String(), "key=key-456")
	})

	t.Run("should terminate the server when the context is cancelled", func(t *testing.T) {
		script := writeScript(t, "trap 'exit 21' TERM\nsleep 10 &\nwait $!")
		s := &appserver.Server{Bin: script, Port: 8080}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(200 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		code, err := s.Run(ctx)

		require.NoError(t, err)
		assert.Equal(t, 21, code)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}
