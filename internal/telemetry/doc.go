// Package telemetry provides OpenTelemetry instrumentation for orchestd.
//
// # Overview
//
// This package implements distributed tracing and metrics collection using
// the OpenTelemetry Go SDK, exporting over OTLP (gRPC by default).
//
// The workflow engine emits a fixed span vocabulary (execution.start,
// execution.complete, execution.delegate, context.load) through the
// Workflow facade. Every span carries the hashed project id, correlation
// id, stage and language; raw tenant UUIDs never leave the process.
//
// # Usage
//
// Create a telemetry instance:
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use the engine facade:
//
//	wf := telemetry.NewWorkflow(tel)
//	ctx, span := wf.Start(ctx, telemetry.SpanExecutionStart, ec,
//	    telemetry.AgentType("venture_expert"))
//	defer wf.End(span, err)
//
// # Error Handling
//
// Telemetry failures do not crash the daemon. If a provider cannot be
// initialized, the instance degrades gracefully and returns no-op
// tracers and meters.
//
// # Testing
//
// Use TestTelemetry for tests:
//
//	tt := telemetry.NewTestTelemetry()
//	wf := telemetry.NewWorkflow(tt.Telemetry)
//	_, span := wf.Start(ctx, "execution.start", ec)
//	span.End()
//	tt.AssertSpanExists(t, "execution.start")
package telemetry
