// Package control exposes the workflow engine over NATS request-reply.
//
// Clients drive workflows through four subjects under "workflow.control":
// start, resume, status and cancel. Requests and replies are JSON envelopes;
// errors travel in the reply's "error" field rather than broker-level
// failures, so a malformed request never looks like an outage.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ventureforge/orchestd/internal/contract"
	"github.com/ventureforge/orchestd/internal/engine"
	"github.com/ventureforge/orchestd/internal/logging"
	"github.com/ventureforge/orchestd/internal/progress"
	"github.com/ventureforge/orchestd/internal/tracker"
)

// Control subjects.
const (
	SubjectStart  = "workflow.control.start"
	SubjectResume = "workflow.control.resume"
	SubjectStatus = "workflow.control.status"
	SubjectCancel = "workflow.control.cancel"
)

// handlerTimeout bounds the synchronous part of one control request. Start
// returns as soon as the workflow goroutine is launched; none of the
// handlers block on agent work.
const handlerTimeout = 10 * time.Second

// StartRequest asks for a new workflow.
type StartRequest struct {
	ProjectID     uuid.UUID      `json:"project_id"`
	UserID        uuid.UUID      `json:"user_id"`
	Stage         string         `json:"stage"`
	Language      string         `json:"language"`
	AgentType     string         `json:"agent_type,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
	CorrelationID uuid.UUID      `json:"correlation_id,omitempty"`
}

// StartReply carries the correlation id of the accepted workflow.
type StartReply struct {
	CorrelationID uuid.UUID `json:"correlation_id,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// WorkflowRequest addresses an existing workflow.
type WorkflowRequest struct {
	CorrelationID uuid.UUID      `json:"correlation_id"`
	Input         map[string]any `json:"input,omitempty"`
}

// StatusReply describes a workflow's current position.
type StatusReply struct {
	CorrelationID uuid.UUID       `json:"correlation_id,omitempty"`
	State         string          `json:"state,omitempty"`
	Progress      *progress.State `json:"progress,omitempty"`
	Record        *tracker.Record `json:"record,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// AckReply acknowledges resume and cancel requests.
type AckReply struct {
	Error string `json:"error,omitempty"`
}

// Server subscribes the engine to the control subjects.
type Server struct {
	conn   *nats.Conn
	engine *engine.Engine
	log    *logging.Logger
	subs   []*nats.Subscription
}

// NewServer creates a control server over an existing connection. The caller
// retains ownership of conn. logger may be nil.
func NewServer(conn *nats.Conn, eng *engine.Engine, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		conn:   conn,
		engine: eng,
		log:    logger.Named("control"),
	}
}

// Start subscribes to the control subjects.
func (s *Server) Start() error {
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{SubjectStart, s.handleStart},
		{SubjectResume, s.handleResume},
		{SubjectStatus, s.handleStatus},
		{SubjectCancel, s.handleCancel},
	}

	for _, h := range handlers {
		sub, err := s.conn.Subscribe(h.subject, h.handler)
		if err != nil {
			s.Close()
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// Close unsubscribes from all control subjects.
func (s *Server) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Server) handleStart(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var req StartRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.reply(msg, StartReply{Error: "malformed request: " + err.Error()})
		return
	}

	id, err := s.engine.Start(ctx, engine.StartRequest{
		ProjectID:     req.ProjectID,
		UserID:        req.UserID,
		Stage:         contract.Stage(req.Stage),
		Language:      req.Language,
		AgentType:     contract.AgentType(req.AgentType),
		Input:         req.Input,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		s.reply(msg, StartReply{Error: err.Error()})
		return
	}
	s.reply(msg, StartReply{CorrelationID: id})
}

func (s *Server) handleResume(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var req WorkflowRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.reply(msg, AckReply{Error: "malformed request: " + err.Error()})
		return
	}

	if err := s.engine.Resume(ctx, req.CorrelationID, req.Input); err != nil {
		s.reply(msg, AckReply{Error: err.Error()})
		return
	}
	s.reply(msg, AckReply{})
}

func (s *Server) handleStatus(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var req WorkflowRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.reply(msg, StatusReply{Error: "malformed request: " + err.Error()})
		return
	}

	st, err := s.engine.Status(ctx, req.CorrelationID)
	if err != nil {
		if errors.Is(err, engine.ErrWorkflowNotFound) {
			s.reply(msg, StatusReply{Error: engine.ErrWorkflowNotFound.Error()})
			return
		}
		s.reply(msg, StatusReply{Error: err.Error()})
		return
	}

	s.reply(msg, StatusReply{
		CorrelationID: st.CorrelationID,
		State:         string(st.State),
		Progress:      st.Progress,
		Record:        st.Record,
	})
}

func (s *Server) handleCancel(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	var req WorkflowRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.reply(msg, AckReply{Error: "malformed request: " + err.Error()})
		return
	}

	if err := s.engine.Cancel(ctx, req.CorrelationID); err != nil {
		s.reply(msg, AckReply{Error: err.Error()})
		return
	}
	s.reply(msg, AckReply{})
}

func (s *Server) reply(msg *nats.Msg, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error(context.Background(), "encode control reply failed", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn(context.Background(), "control reply failed",
			zap.String("subject", msg.Subject), zap.Error(err))
	}
}
