// Package telemetry exports OpenTelemetry traces and metrics for ra's
// pipeline stages.
//
// Every ra invocation is one stage of one workflow run, often for one
// matrix agent. Init tags the process resource with that identity so
// spans and metrics from the many short-lived stage processes of a run
// can be grouped by workflow run, stage and agent. StartStage opens the
// stage's root span and records its duration.
//
// Telemetry is off unless RA_OTEL_ENABLED=true.
//
//	RA_OTEL_ENABLED=true                     enable telemetry
//	RA_OTEL_STDOUT=true                      also write spans and metrics to stderr
//	OTEL_EXPORTER_OTLP_ENDPOINT=...          OTLP endpoint for traces (gRPC) and metrics (HTTP)
//	OTEL_EXPORTER_OTLP_METRICS_ENDPOINT=...  metrics-only override
//	OTEL_SERVICE_NAME=ra                     override service name
//
// Enabled with no endpoint and no stdout flag, spans go to stderr.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/steveyegge/repoagents"

// Resource and stage attribute keys.
const (
	AttrStage      = attribute.Key("ra.stage")
	AttrAgent      = attribute.Key("ra.agent")
	AttrWorkflow   = attribute.Key("github.workflow")
	AttrRunID      = attribute.Key("github.run_id")
	AttrRunAttempt = attribute.Key("github.run_attempt")
	AttrRepository = attribute.Key("github.repository")
	AttrEvent      = attribute.Key("github.event_name")
)

var (
	shutdownFns []func(context.Context) error
	current     Run

	// exportWriter receives stdout-exporter output.
	exportWriter io.Writer = os.Stderr
)

// Run identifies the stage process within a workflow run.
type Run struct {
	Stage      string `json:"stage,omitempty"`
	Agent      string `json:"agent,omitempty"`
	Workflow   string `json:"workflow,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	RunAttempt string `json:"run_attempt,omitempty"`
	Repository string `json:"repository,omitempty"`
	Event      string `json:"event,omitempty"`
}

// RunFromEnv reads the workflow run identity from the Actions runner
// variables. Outside a workflow only Stage and Agent are set.
func RunFromEnv(getenv func(string) string, stage, agent string) Run {
	return Run{
		Stage:      stage,
		Agent:      agent,
		Workflow:   getenv("GITHUB_WORKFLOW"),
		RunID:      getenv("GITHUB_RUN_ID"),
		RunAttempt: getenv("GITHUB_RUN_ATTEMPT"),
		Repository: getenv("GITHUB_REPOSITORY"),
		Event:      getenv("GITHUB_EVENT_NAME"),
	}
}

// Attributes returns the non-empty fields as attributes.
func (r Run) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	add := func(k attribute.Key, v string) {
		if v != "" {
			attrs = append(attrs, k.String(v))
		}
	}
	add(AttrStage, r.Stage)
	add(AttrAgent, r.Agent)
	add(AttrWorkflow, r.Workflow)
	add(AttrRunID, r.RunID)
	add(AttrRunAttempt, r.RunAttempt)
	add(AttrRepository, r.Repository)
	add(AttrEvent, r.Event)
	return attrs
}

// settings is the exporter configuration read from the environment.
type settings struct {
	enabled        bool
	stdout         bool
	serviceName    string
	traceEndpoint  string
	metricEndpoint string
}

func loadSettings(getenv func(string) string) settings {
	s := settings{
		enabled:       getenv("RA_OTEL_ENABLED") == "true",
		stdout:        getenv("RA_OTEL_STDOUT") == "true",
		serviceName:   getenv("OTEL_SERVICE_NAME"),
		traceEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	s.metricEndpoint = getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if s.metricEndpoint == "" {
		s.metricEndpoint = s.traceEndpoint
	}
	return s
}

// Enabled reports whether telemetry is active (RA_OTEL_ENABLED=true).
func Enabled() bool {
	return loadSettings(os.Getenv).enabled
}

// Options configure Init.
type Options struct {
	ServiceName string
	Version     string
	Run         Run
}

// Init installs the global providers. Disabled, it installs no-op
// providers and returns immediately.
func Init(ctx context.Context, opts Options) error {
	current = opts.Run
	s := loadSettings(os.Getenv)
	if !s.enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}
	if s.serviceName != "" {
		opts.ServiceName = s.serviceName
	}

	attrs := append([]attribute.KeyValue{
		semconv.ServiceNameKey.String(opts.ServiceName),
		semconv.ServiceVersionKey.String(opts.Version),
	}, opts.Run.Attributes()...)
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	tp, err := traceProvider(ctx, s, res)
	if err != nil {
		return fmt.Errorf("telemetry: trace provider: %w", err)
	}
	otel.SetTracerProvider(tp)
	shutdownFns = append(shutdownFns, tp.Shutdown)

	mp, err := meterProvider(ctx, s, res)
	if err != nil {
		return fmt.Errorf("telemetry: metric provider: %w", err)
	}
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)
	return nil
}

func traceProvider(ctx context.Context, s settings, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if s.stdout || s.traceEndpoint == "" {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(exportWriter))
		if err != nil {
			return nil, err
		}
		// Spans are written as they end.
		opts = append(opts, sdktrace.WithSyncer(exp))
	}
	if s.traceEndpoint != "" {
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(s.traceEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

// meterProvider uses periodic readers; Shutdown performs the final
// collection, which for most stages is the only one.
func meterProvider(ctx context.Context, s settings, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if s.stdout {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(exportWriter))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}
	if s.metricEndpoint != "" {
		exp, err := buildOTLPMetricExporter(ctx, s.metricEndpoint)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

// Tracer returns a tracer for the named scope, or ra's root scope.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter for the named scope, or ra's root scope.
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// StartStage opens the root span of the current stage. The returned
// function ends it and records ra.stage.duration and ra.stage.runs with
// the stage, agent and outcome.
func StartStage(ctx context.Context) (context.Context, func(error)) {
	run := current
	attrs := []attribute.KeyValue{AttrStage.String(run.Stage)}
	if run.Agent != "" {
		attrs = append(attrs, AttrAgent.String(run.Agent))
	}

	m := Meter(instrumentationScope + "/stage")
	dur, _ := m.Float64Histogram("ra.stage.duration",
		metric.WithDescription("Pipeline stage duration"),
		metric.WithUnit("s"),
	)
	runs, _ := m.Int64Counter("ra.stage.runs",
		metric.WithDescription("Pipeline stage invocations by outcome"),
	)

	ctx, span := Tracer("").Start(ctx, "stage."+run.Stage, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		all := metric.WithAttributes(append(attrs, attribute.String("ra.outcome", outcome))...)
		dur.Record(ctx, time.Since(start).Seconds(), all)
		runs.Add(ctx, 1, all)
		span.End()
	}
}

// Shutdown flushes and shuts down the providers installed by Init.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}
