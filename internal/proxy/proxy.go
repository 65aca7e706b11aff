package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"callscribe/internal/logging"
	"callscribe/internal/services"
)

// Operation names a privileged operation.
type Operation string

const (
	OpCreateTopic   Operation = "CREATE_TOPIC"
	OpSubmitMessage Operation = "SUBMIT_MESSAGE"
)

// DefaultTimeout bounds one privileged round trip.
const DefaultTimeout = 30 * time.Second

// ErrNoPrivilegedContext is returned when no privileged context is reachable.
var ErrNoPrivilegedContext = errors.New("no privileged context reachable")

// OperationError reports a failed round trip or an unsuccessful reply.
type OperationError struct {
	Operation Operation
	Message   string
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("privileged %s failed: %s", e.Operation, e.Message)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Payload carries the operation-specific fields.
type Payload struct {
	Memo    string `json:"memo,omitempty"`
	TopicID string `json:"topic_id,omitempty"`
	Message string `json:"message,omitempty"`

	// IdempotencyKey lets the privileged side answer a repeated write from
	// its own record instead of writing twice.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Envelope is the request sent to a privileged context.
type Envelope struct {
	ID        string    `json:"id"`
	Operation Operation `json:"operation"`
	Payload
}

// Reply is the single response to an Envelope.
type Reply struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Transport delivers an Envelope to a privileged context and returns its
// Reply. It returns ErrNoPrivilegedContext when none is reachable.
type Transport interface {
	RoundTrip(ctx context.Context, env Envelope) (Reply, error)
}

// CreateTopicResult is the CREATE_TOPIC result.
type CreateTopicResult struct {
	TopicID string `json:"topic_id"`
}

// SubmitResult is the SUBMIT_MESSAGE result.
type SubmitResult struct {
	TopicID        string `json:"topic_id"`
	SequenceNumber int64  `json:"sequence_number"`
	TransactionID  string `json:"transaction_id,omitempty"`
}

// Options configures a Proxy.
type Options struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// Proxy executes privileged operations over a Transport.
type Proxy struct {
	transport Transport
	timeout   time.Duration
	logger    *slog.Logger
}

// New constructs a Proxy.
func New(transport Transport, opts Options) *Proxy {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Proxy{
		transport: transport,
		timeout:   opts.Timeout,
		logger:    logging.NewComponentLogger(opts.Logger, "proxy"),
	}
}

// Execute performs op and returns the raw result.
func (p *Proxy) Execute(ctx context.Context, op Operation, payload Payload) (json.RawMessage, error) {
	if p == nil || p.transport == nil {
		return nil, ErrNoPrivilegedContext
	}
	if payload.IdempotencyKey == "" {
		payload.IdempotencyKey, _ = services.IdempotencyKeyFromContext(ctx)
	}
	env := Envelope{ID: uuid.NewString(), Operation: op, Payload: payload}
	logger := p.logger.With(logging.String(logging.FieldCorrelationID, env.ID), logging.String("operation", string(op)))

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := time.Now()
	reply, err := p.transport.RoundTrip(callCtx, env)
	if err != nil {
		if errors.Is(err, ErrNoPrivilegedContext) {
			return nil, err
		}
		message := err.Error()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			message = fmt.Sprintf("no reply within %s", p.timeout)
		}
		logger.Warn("privileged round trip failed", logging.Error(err))
		return nil, &OperationError{Operation: op, Message: message, Err: err}
	}
	if !reply.Success {
		message := reply.Error
		if message == "" {
			message = "privileged context reported failure"
		}
		return nil, &OperationError{Operation: op, Message: message}
	}
	logger.Debug("privileged operation completed", logging.Duration("elapsed", time.Since(started)))
	return reply.Result, nil
}

// Request performs op and decodes the result into T.
func Request[T any](ctx context.Context, p *Proxy, op Operation, payload Payload) (T, error) {
	var out T
	raw, err := p.Execute(ctx, op, payload)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &OperationError{Operation: op, Message: "malformed result", Err: err}
	}
	return out, nil
}

// CreateTopic creates a ledger topic and returns its identifier.
func (p *Proxy) CreateTopic(ctx context.Context, memo string) (string, error) {
	res, err := Request[CreateTopicResult](ctx, p, OpCreateTopic, Payload{Memo: memo})
	if err != nil {
		return "", err
	}
	if res.TopicID == "" {
		return "", &OperationError{Operation: OpCreateTopic, Message: "empty topic id"}
	}
	return res.TopicID, nil
}

// SubmitMessage publishes an already serialized message to topicID. The
// message is passed through unvalidated. An idempotency key set with
// services.WithIdempotencyKey travels with the request.
func (p *Proxy) SubmitMessage(ctx context.Context, topicID, message string) (SubmitResult, error) {
	return Request[SubmitResult](ctx, p, OpSubmitMessage, Payload{TopicID: topicID, Message: message})
}
