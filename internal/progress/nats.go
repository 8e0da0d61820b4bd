package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is the NATS subject root for progress broadcasts. The full
// subject is "workflow.progress.{correlation_id}".
const SubjectPrefix = "workflow.progress"

// NATSNotifier publishes progress snapshots as JSON over NATS. Subscribers
// filter by correlation id through the subject hierarchy.
type NATSNotifier struct {
	conn *nats.Conn
}

// NewNATSNotifier connects to the given NATS URL.
func NewNATSNotifier(url string, opts ...nats.Option) (*NATSNotifier, error) {
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSNotifier{conn: conn}, nil
}

// NewNATSNotifierFromConn wraps an existing connection. The caller retains
// ownership of conn.
func NewNATSNotifierFromConn(conn *nats.Conn) *NATSNotifier {
	return &NATSNotifier{conn: conn}
}

// PublishProgress sends the snapshot to workflow.progress.{correlation_id}.
func (n *NATSNotifier) PublishProgress(_ context.Context, state State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode progress event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", SubjectPrefix, state.CorrelationID)
	if err := n.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (n *NATSNotifier) Close() error {
	if n.conn == nil || n.conn.IsClosed() {
		return nil
	}
	return n.conn.Drain()
}
