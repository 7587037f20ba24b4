package telemetry_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/telemetry"
)

func TestInit(t *testing.T) {
	t.Run("should be a no-op without an endpoint", func(t *testing.T) {
		shutdown, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "tax-analyzer-agent",
		})
		require.NoError(t, err)
		require.NotNil(t, shutdown)
		assert.NoError(t, shutdown(context.Background()))
	})
}

func TestProcessLogWriter(t *testing.T) {
	t.Run("should pass bytes through to the stream", func(t *testing.T) {
		var buf bytes.Buffer
		w := telemetry.NewProcessLogWriter("run-1", "gunicorn", false)
		w.SetOutput(&buf)

		n, err := w.Write([]byte("Booting worker with pid: 12\n"))
		require.NoError(t, err)
		assert.Equal(t, 28, n)
		assert.Equal(t, "Booting worker with pid: 12\n", buf.String())
	})

	t.Run("should emit one span event per complete line", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		_, span := tp.Tracer("test").Start(context.Background(), "launch")

		w := telemetry.NewProcessLogWriter("run-1", "gunicorn", false)
		w.SetOutput(&bytes.Buffer{})
		w.SetSpan(span)

		_, err := w.Write([]byte("line one\nline two\npartial"))
		require.NoError(t, err)
		span.End()

		ended := recorder.Ended()
		require.Len(t, ended, 1)
		events := ended[0].Events()
		require.Len(t, events, 2)
		assert.Equal(t, "server.stdout", events[0].Name)
		assert.Equal(t, "server.stdout", events[1].Name)
	})

	t.Run("should flush a trailing partial line", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		_, span := tp.Tracer("test").Start(context.Background(), "launch")

		w := telemetry.NewProcessLogWriter("run-1", "gunicorn", true)
		w.SetOutput(&bytes.Buffer{})
		w.SetSpan(span)

		_, err := w.Write([]byte("error without newline"))
		require.NoError(t, err)
		w.Flush()
		span.End()

		ended := recorder.Ended()
		require.Len(t, ended, 1)
		events := ended[0].Events()
		require.Len(t, events, 1)
		assert.Equal(t, "server.stderr", events[0].Name)
	})

	t.Run("should skip blank lines", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		_, span := tp.Tracer("test").Start(context.Background(), "launch")

		w := telemetry.NewProcessLogWriter("run-1", "gunicorn", false)
		w.SetOutput(&bytes.Buffer{})
		w.SetSpan(span)

		_, err := w.Write([]byte("\n   \nreal line\n"))
		require.NoError(t, err)
		span.End()

		ended := recorder.Ended()
		require.Len(t, ended, 1)
		assert.Len(t, ended[0].Events(), 1)
	})
}
