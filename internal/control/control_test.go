package control

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventureforge/orchestd/internal/agent"
	"github.com/ventureforge/orchestd/internal/contract"
	"github.com/ventureforge/orchestd/internal/engine"
	"github.com/ventureforge/orchestd/internal/isolation"
	"github.com/ventureforge/orchestd/internal/logging"
	"github.com/ventureforge/orchestd/internal/progress"
	"github.com/ventureforge/orchestd/internal/tracker"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	registry := contract.NewRegistry()
	require.NoError(t, contract.RegisterBase(registry, "venture_expert"))

	inv := agent.InvokerFunc(func(_ context.Context, in contract.AgentInput) (contract.AgentOutput, error) {
		return contract.AgentOutput{
			SchemaVersion: contract.CurrentSchemaVersion,
			Status:        contract.StatusSuccess,
			Content:       "done",
		}, nil
	})

	return engine.New(engine.Deps{
		Registry:  registry,
		Isolation: isolation.NewValidator(nil),
		Tracker:   tracker.New(tracker.NewMemStore(), nil),
		Progress:  progress.NewManager(progress.NewMemStore(), nil, nil),
		Invoker:   inv,
		Logger:    logging.NewNop(),
	}, engine.Config{})
}

func newTestControl(t *testing.T) *nats.Conn {
	t.Helper()
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	srv := NewServer(nc, newTestEngine(t), nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Close)

	return nc
}

func request[T any](t *testing.T, nc *nats.Conn, subject string, body any) T {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	msg, err := nc.Request(subject, data, 5*time.Second)
	require.NoError(t, err)

	var reply T
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	return reply
}

func TestControlStartAndStatus(t *testing.T) {
	nc := newTestControl(t)

	start := request[StartReply](t, nc, SubjectStart, StartRequest{
		ProjectID: uuid.New(),
		UserID:    uuid.New(),
		Stage:     "idea",
		Language:  "en",
		AgentType: "venture_expert",
		Input:     map[string]any{"prompt": "evaluate"},
	})
	require.Empty(t, start.Error)
	require.NotEqual(t, uuid.Nil, start.CorrelationID)

	require.Eventually(t, func() bool {
		status := request[StatusReply](t, nc, SubjectStatus, WorkflowRequest{CorrelationID: start.CorrelationID})
		return status.State == "COMPLETED"
	}, 2*time.Second, 20*time.Millisecond)

	status := request[StatusReply](t, nc, SubjectStatus, WorkflowRequest{CorrelationID: start.CorrelationID})
	require.NotNil(t, status.Record)
	assert.Equal(t, "venture_expert", status.Record.AgentType)
	assert.Equal(t, tracker.StatusCompleted, status.Record.Status)
}

func TestControlStartRejectsInvalidRequest(t *testing.T) {
	nc := newTestControl(t)

	t.Run("validation failure travels in the reply", func(t *testing.T) {
		reply := request[StartReply](t, nc, SubjectStart, StartRequest{
			ProjectID: uuid.New(),
			UserID:    uuid.New(),
			Stage:     "idea",
			Language:  "en",
			AgentType: "coordinator",
			Input:     map[string]any{"wrong": "field"},
		})
		assert.Contains(t, reply.Error, "validation")
		assert.Equal(t, uuid.Nil, reply.CorrelationID)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		msg, err := nc.Request(SubjectStart, []byte("{not json"), 5*time.Second)
		require.NoError(t, err)

		var reply StartReply
		require.NoError(t, json.Unmarshal(msg.Data, &reply))
		assert.Contains(t, reply.Error, "malformed request")
	})
}

func TestControlUnknownWorkflow(t *testing.T) {
	nc := newTestControl(t)

	status := request[StatusReply](t, nc, SubjectStatus, WorkflowRequest{CorrelationID: uuid.New()})
	assert.Equal(t, engine.ErrWorkflowNotFound.Error(), status.Error)

	cancel := request[AckReply](t, nc, SubjectCancel, WorkflowRequest{CorrelationID: uuid.New()})
	assert.Equal(t, engine.ErrWorkflowNotFound.Error(), cancel.Error)

	resume := request[AckReply](t, nc, SubjectResume, WorkflowRequest{CorrelationID: uuid.New()})
	assert.Equal(t, engine.ErrWorkflowNotFound.Error(), resume.Error)
}
