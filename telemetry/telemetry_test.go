package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowtree/agentkit/telemetry"
)

func TestNoopDoesNotPanic(t *testing.T) {
	var l telemetry.Logger = telemetry.Noop{}
	var m telemetry.Metrics = telemetry.Noop{}
	var tr telemetry.Tracer = telemetry.Noop{}

	ctx := context.Background()
	l.Debug(ctx, "api", "hello")
	l.Info(ctx, "hello")
	l.Error(ctx, "boom")
	m.IncCounter(ctx, "turns")
	m.RecordDuration(ctx, "turn_ms", 12.5)

	_, span := tr.Start(ctx, "turn")
	span.SetError(errors.New("x"))
	span.End()
}

func TestOTelTracerStartsAndEndsSpan(t *testing.T) {
	tr := telemetry.NewOTelTracer("agentkit-test")
	ctx, span := tr.Start(context.Background(), "turn")
	assert.NotNil(t, ctx)
	span.End()
}
