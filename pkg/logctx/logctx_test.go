package logctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromCtx_UsesStoredLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	stored := zap.New(core).Sugar()
	base := zap.NewNop().Sugar()

	ctx := WithLogger(context.Background(), stored)
	FromCtx(ctx, base).Infow("hello")
	require.Equal(t, 1, logs.Len())
}

func TestFromCtx_EnrichesWithTraceID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core).Sugar()

	ctx := WithTraceID(context.Background(), "trace-1")
	require.Equal(t, "trace-1", TraceID(ctx))
	FromCtx(ctx, base).Infow("hello")
	require.Equal(t, "trace-1", logs.All()[0].ContextMap()["trace_id"])
}

func TestDetach_SurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(WithTraceID(context.Background(), "t"))
	d := Detach(ctx)
	cancel()
	select {
	case <-d.Done():
		t.Fatal("detached context must not be cancelled")
	case <-time.After(10 * time.Millisecond):
	}
	require.Equal(t, "t", TraceID(d))
}
