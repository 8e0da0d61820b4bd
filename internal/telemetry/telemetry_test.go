package telemetry

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventureforge/orchestd/internal/contract"
	"github.com/ventureforge/orchestd/internal/execctx"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults disabled", func(*Config) {}, false},
		{"enabled defaults", func(c *Config) { c.Enabled = true }, false},
		{"missing endpoint", func(c *Config) {
			c.Enabled = true
			c.Endpoint = ""
		}, true},
		{"missing service name", func(c *Config) {
			c.Enabled = true
			c.ServiceName = ""
		}, true},
		{"insecure remote endpoint", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "collector.example.com:4317"
		}, true},
		{"secure remote endpoint", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "collector.example.com:4317"
			c.Insecure = false
		}, false},
		{"insecure loopback allowed", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "127.0.0.1:4317"
		}, false},
		{"sampling rate out of range", func(c *Config) {
			c.Enabled = true
			c.Sampling.Rate = 1.5
		}, true},
		{"zero export interval", func(c *Config) {
			c.Enabled = true
			c.Metrics.ExportInterval = 0
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDisabledTelemetryIsNoop(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))

	health := tel.Health()
	assert.False(t, health.Degraded)
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.IsEnabled())
}

func TestWorkflowSpans(t *testing.T) {
	tt := NewTestTelemetry()
	wf := NewWorkflow(tt.Telemetry)

	ec, err := execctx.New(uuid.New(), uuid.New(), contract.StageIdea, "en")
	require.NoError(t, err)

	_, span := wf.Start(context.Background(), SpanExecutionStart, ec, AgentType("venture_expert"))
	wf.End(span, nil)

	tt.AssertSpanExists(t, SpanExecutionStart)
	tt.AssertSpanAttribute(t, SpanExecutionStart, AttrAgentType, "venture_expert")
	tt.AssertSpanAttribute(t, SpanExecutionStart, AttrStage, "idea")
	tt.AssertSpanAttribute(t, SpanExecutionStart, AttrLanguage, "en")
	tt.AssertSpanAttribute(t, SpanExecutionStart, AttrProjectHash, ec.ProjectHash())

	// The raw project UUID must never appear as an attribute value.
	for _, attr := range tt.SpanByName(SpanExecutionStart).Attributes() {
		assert.NotEqual(t, ec.ProjectID().String(), attr.Value.AsString(),
			"raw project id leaked into span attribute %s", attr.Key)
	}
}

func TestContextAttributesZeroContext(t *testing.T) {
	assert.Nil(t, ContextAttributes(execctx.ExecutionContext{}))
}
