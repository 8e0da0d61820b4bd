package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/ventureforge/orchestd/internal/contract"
)

// SubjectPrefix is the NATS subject root for agent invocations. An agent
// service for one agent type subscribes to "workflow.agents.{agent_type}".
const SubjectPrefix = "workflow.agents"

// NATSInvoker dispatches invocations over NATS request-reply. The request
// carries the AgentInput envelope as JSON; the responder answers with an
// AgentOutput envelope.
type NATSInvoker struct {
	conn *nats.Conn
}

// NewNATSInvoker connects to the given NATS URL.
func NewNATSInvoker(url string, opts ...nats.Option) (*NATSInvoker, error) {
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSInvoker{conn: conn}, nil
}

// NewNATSInvokerFromConn wraps an existing connection. The caller retains
// ownership of conn.
func NewNATSInvokerFromConn(conn *nats.Conn) *NATSInvoker {
	return &NATSInvoker{conn: conn}
}

// Subject returns the request subject for an agent type.
func Subject(agentType contract.AgentType) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, agentType)
}

// Invoke sends the input to the agent type's subject and waits for the reply
// until ctx expires. No responder means the agent type is not deployed; that
// is ErrUnsupported, not a transient outage.
func (i *NATSInvoker) Invoke(ctx context.Context, in contract.AgentInput) (contract.AgentOutput, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return contract.AgentOutput{}, Permanent("encode input", err)
	}

	msg, err := i.conn.RequestWithContext(ctx, Subject(in.AgentType), data)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrNoResponders):
			return contract.AgentOutput{}, fmt.Errorf("agent %s: %w", in.AgentType, ErrUnsupported)
		case ctx.Err() != nil:
			return contract.AgentOutput{}, ctx.Err()
		default:
			return contract.AgentOutput{}, Transient("request", err)
		}
	}

	var out contract.AgentOutput
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		return contract.AgentOutput{}, Permanent("decode output", err)
	}
	return out, nil
}

// Close drains and closes the connection.
func (i *NATSInvoker) Close() error {
	if i.conn == nil || i.conn.IsClosed() {
		return nil
	}
	return i.conn.Drain()
}
