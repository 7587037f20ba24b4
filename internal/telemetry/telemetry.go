package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	ServiceName  string
	OTLPEndpoint string
	Enabled      bool
}

var loggerProvider *sdklog.LoggerProvider

type errorHandler struct{}

func (e errorHandler) Handle(err error) {
	fmt.Fprintf(os.Stderr, "OTEL ERROR: %v\n", err)
}

func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	otel.SetErrorHandler(errorHandler{})

	res, _ := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logExporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(cfg.OTLPEndpoint),
		otlploghttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	loggerProvider = sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewSimpleProcessor(logExporter)),
		sdklog.WithResource(res),
	)

	return func(ctx context.Context) error {
		tp.Shutdown(ctx)
		if loggerProvider != nil {
			loggerProvider.Shutdown(ctx)
		}
		return nil
	}, nil
}

func Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}

// ProcessLogWriter tees a child process stream to the agent's own stream
// while emitting each complete line as a span event and an OTLP log
// record. The application server's output stays visible in the platform
// log stream either way.
type ProcessLogWriter struct {
	RunID     string
	Component string
	IsStderr  bool
	out       io.Writer
	span      trace.Span
	mu        sync.Mutex
	buffer    []byte
}

func NewProcessLogWriter(runID, component string, isStderr bool) *ProcessLogWriter {
	out := io.Writer(os.Stdout)
	if isStderr {
		out = os.Stderr
	}
	return &ProcessLogWriter{
		RunID:     runID,
		Component: component,
		IsStderr:  isStderr,
		out:       out,
		buffer:    make([]byte, 0, 4096),
	}
}

func (w *ProcessLogWriter) SetSpan(span trace.Span) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.span = span
}

// SetOutput redirects the passthrough stream, mainly for tests.
func (w *ProcessLogWriter) SetOutput(out io.Writer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.out = out
}

func (w *ProcessLogWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.out.Write(p)

	w.buffer = append(w.buffer, p...)

	for {
		idx := -1
		for i, b := range w.buffer {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx == -1 {
			break
		}

		line := string(w.buffer[:idx])
		w.buffer = w.buffer[idx+1:]

		if strings.TrimSpace(line) != "" {
			w.emitLog(line)
		}
	}

	return len(p), nil
}

func (w *ProcessLogWriter) emitLog(line string) {
	if w.span != nil {
		eventName := "server.stdout"
		if w.IsStderr {
			eventName = "server.stderr"
		}
		w.span.AddEvent(eventName, trace.WithAttributes(
			attribute.String("message", line),
			attribute.String("run.id", w.RunID),
			attribute.String("component", w.Component),
		))
	}

	if loggerProvider != nil {
		logger := loggerProvider.Logger("server-output")
		var rec log.Record
		rec.SetTimestamp(time.Now())
		rec.SetBody(log.StringValue(line))
		rec.AddAttributes(
			log.String("run.id", w.RunID),
			log.String("component", w.Component),
		)
		if w.IsStderr {
			rec.SetSeverity(log.SeverityError)
			rec.AddAttributes(log.String("stream", "stderr"))
		} else {
			rec.SetSeverity(log.SeverityInfo)
			rec.AddAttributes(log.String("stream", "stdout"))
		}
		logger.Emit(context.Background(), rec)
	}
}

func (w *ProcessLogWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buffer) > 0 {
		line := string(w.buffer)
		w.buffer = w.buffer[:0]
		if strings.TrimSpace(line) != "" {
			w.emitLog(line)
		}
	}
}
