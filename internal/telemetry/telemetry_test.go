package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitTracerDisabledInstallsNoop(t *testing.T) {
	tracer, closeFn, err := InitTracer(Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tracer)
	closeFn()
}

func TestPipelineTraceStageOrdering(t *testing.T) {
	_, closeFn, err := InitTracer(Config{Enabled: false})
	require.NoError(t, err)
	defer closeFn()

	p := StartPipeline(context.Background(), "s1", "BTCUSDT", "15m", "commit")
	p.Stage(StageBuffer)
	p.Stage(StageIndicator)
	p.Stage(StageStrategy)
	p.Stage(StageMatcher)
	p.Stage(StageDAO)
	p.Stage(StageFanout)
	p.Finish()
}
