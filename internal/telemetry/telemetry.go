// Package telemetry wires distributed tracing across the fixed
// pipeline stage ordering: Buffer -> Indicator -> Strategy -> Matcher
// -> DAO -> Fanout. StartPipeline opens one root span per bar event and
// Stage adds a child span for a stage; internal/runtime opens and
// finishes only the root span for each strategy tick.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"github.com/opentracing/opentracing-go"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
)

// Stage names, in fixed pipeline order.
const (
	StageBuffer    = "buffer"
	StageIndicator = "indicator"
	StageStrategy  = "strategy"
	StageMatcher   = "matcher"
	StageDAO       = "dao"
	StageFanout    = "fanout"
)

// Config configures the local Jaeger agent target.
type Config struct {
	ServiceName string
	AgentHost   string
	AgentPort   int
	Enabled     bool
}

// InitTracer builds and installs the global tracer. When cfg.Enabled
// is false it installs opentracing's no-op tracer so callers never
// need to branch on whether tracing is on.
func InitTracer(cfg Config) (opentracing.Tracer, func(), error) {
	if !cfg.Enabled {
		tracer := opentracing.NoopTracer{}
		opentracing.SetGlobalTracer(tracer)
		return tracer, func() {}, nil
	}

	jc := &jCfg.Configuration{
		ServiceName: cfg.ServiceName,
		Sampler: &jCfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jCfg.ReporterConfig{
			LogSpans:           true,
			LocalAgentHostPort: fmt.Sprintf("%s:%d", cfg.AgentHost, cfg.AgentPort),
		},
	}

	tracer, closer, err := jc.NewTracer(jCfg.Metrics(metrics.NullFactory))
	if err != nil {
		return nil, nil, err
	}
	opentracing.SetGlobalTracer(tracer)
	return tracer, func() { _ = closeAndIgnore(closer) }, nil
}

func closeAndIgnore(c io.Closer) error { return c.Close() }

// PipelineTrace holds the root span for one bar's traversal of the
// pipeline plus the currently open stage span, if any.
type PipelineTrace struct {
	ctx        context.Context
	root       opentracing.Span
	stageSpan  opentracing.Span
	strategy   string
	symbol     string
	interval   string
}

// StartPipeline opens the root span for one bar event.
func StartPipeline(ctx context.Context, strategy, symbol, interval string, kind string) *PipelineTrace {
	span, spanCtx := opentracing.StartSpanFromContext(ctx, "bar."+kind)
	span.SetTag("strategy", strategy)
	span.SetTag("symbol", symbol)
	span.SetTag("interval", interval)
	return &PipelineTrace{ctx: spanCtx, root: span, strategy: strategy, symbol: symbol, interval: interval}
}

// Stage closes the previous stage span (if any) and opens the next
// one, enforcing the fixed pipeline ordering by construction: callers
// invoke Stage in the order the pipeline actually runs.
func (p *PipelineTrace) Stage(name string) {
	if p.stageSpan != nil {
		p.stageSpan.Finish()
	}
	span, spanCtx := opentracing.StartSpanFromContext(p.ctx, name)
	p.ctx = spanCtx
	p.stageSpan = span
}

// Context returns the context carrying the current active span, for
// passing into instrumented downstream calls.
func (p *PipelineTrace) Context() context.Context { return p.ctx }

// Finish closes the current stage span and the root span.
func (p *PipelineTrace) Finish() {
	if p.stageSpan != nil {
		p.stageSpan.Finish()
		p.stageSpan = nil
	}
	p.root.Finish()
}

// FinishWithError closes the current stage span tagged as an error and
// then the root span.
func (p *PipelineTrace) FinishWithError(err error) {
	if p.stageSpan != nil {
		p.stageSpan.SetTag("error", true)
		p.stageSpan.LogKV("error.message", err.Error())
		p.stageSpan.Finish()
		p.stageSpan = nil
	}
	p.root.SetTag("error", true)
	p.root.Finish()
}
