package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/encoding/json"

	"github.com/wetneb/dissemin/internal/resilience"
)

// Actions carried by published events.
const (
	ActionNotify = "notify"
	ActionClear  = "clear"
)

// Event is the message published for each sink call.
type Event struct {
	Action       string        `json:"action"`
	UserID       string        `json:"user_id"`
	Tag          string        `json:"tag"`
	Notification *Notification `json:"notification,omitempty"`
}

// Publisher is the part of a NATS connection the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes notification events on a subject.
type NATSSink struct {
	pub      Publisher
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

// NATSOptions configures the connection.
type NATSOptions struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	Executor       *resilience.Executor
	Logger         *slog.Logger
}

// DialNATS connects to url and returns a sink publishing on subject.
func DialNATS(url, subject string, opts NATSOptions) (*NATSSink, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 60
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("dissemin"),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	s := NewNATSSink(conn, subject, opts.Executor)
	s.conn = conn
	return s, nil
}

// NewNATSSink wraps an existing publisher. A nil executor publishes
// without retries.
func NewNATSSink(pub Publisher, subject string, executor *resilience.Executor) *NATSSink {
	return &NATSSink{pub: pub, subject: subject, executor: executor}
}

// Close drains and closes the connection opened by DialNATS.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

// Notify implements Sink.
func (s *NATSSink) Notify(ctx context.Context, n Notification) error {
	return s.publish(ctx, Event{Action: ActionNotify, UserID: n.UserID, Tag: n.Tag, Notification: &n})
}

// ClearTag implements Sink.
func (s *NATSSink) ClearTag(ctx context.Context, userID, tag string) error {
	return s.publish(ctx, Event{Action: ActionClear, UserID: userID, Tag: tag})
}

func (s *NATSSink) publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	call := func(context.Context) error {
		if err := s.pub.Publish(s.subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}
	if s.executor == nil {
		return call(ctx)
	}
	return s.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
}

func classifyNATSError(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrDisconnected) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}
