package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"callscribe/internal/ledger"
	"callscribe/internal/logging"
	"callscribe/internal/services"
)

// ResponderOptions configures a Responder.
type ResponderOptions struct {
	// URL is the hub websocket endpoint, e.g. ws://127.0.0.1:7611/ws/privileged.
	URL string
	// Token is sent as a bearer token when non-empty.
	Token  string
	Name   string
	Signer ledger.Signer
	Logger *slog.Logger
	// Backoff bounds reconnect delays; zero uses one second up to thirty.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Responder is the privileged side of the proxy. It connects to a Hub and
// executes the operations it receives with a ledger.Signer.
type Responder struct {
	opts   ResponderOptions
	logger *slog.Logger

	// completed remembers results of keyed writes, oldest first in order.
	mu        sync.Mutex
	completed map[string]json.RawMessage
	order     []string
}

// completedLimit bounds how many keyed results a Responder remembers.
const completedLimit = 256

// NewResponder validates opts and constructs a Responder.
func NewResponder(opts ResponderOptions) (*Responder, error) {
	if opts.Signer == nil {
		return nil, errors.New("responder requires a signer")
	}
	if _, err := url.Parse(opts.URL); err != nil || opts.URL == "" {
		return nil, fmt.Errorf("invalid hub url %q", opts.URL)
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "signer"
	}
	return &Responder{
		opts:      opts,
		logger:    logging.NewComponentLogger(opts.Logger, "responder"),
		completed: make(map[string]json.RawMessage),
	}, nil
}

// Run keeps a connection to the hub open until ctx ends, reconnecting with
// exponential backoff.
func (r *Responder) Run(ctx context.Context) error {
	delay := r.opts.MinBackoff
	for {
		started := time.Now()
		err := r.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > r.opts.MaxBackoff {
			delay = r.opts.MinBackoff
		}
		logging.WarnWithContext(r.logger, "hub connection lost", "responder_disconnected",
			logging.Error(err),
			logging.Duration("retry_in", delay),
			logging.String(logging.FieldErrorHint, "check that the daemon is running and the api secret matches"),
			logging.String(logging.FieldImpact, "ledger operations fail until the signer reconnects"),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
		delay = min(delay*2, r.opts.MaxBackoff)
	}
}

func (r *Responder) serve(ctx context.Context) error {
	target, err := url.Parse(r.opts.URL)
	if err != nil {
		return err
	}
	q := target.Query()
	q.Set("name", r.opts.Name)
	target.RawQuery = q.Encode()

	header := http.Header{}
	if r.opts.Token != "" {
		header.Set("Authorization", "Bearer "+r.opts.Token)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial hub: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial hub: %w", err)
	}
	defer ws.Close()

	var writeMu sync.Mutex
	write := func(f frame) error {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		return ws.WriteMessage(websocket.TextMessage, data)
	}
	if err := write(frame{Type: frameHello, Name: r.opts.Name}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	r.logger.Info("connected to hub", logging.String("url", r.opts.URL), logging.String("name", r.opts.Name))

	// Requests run one at a time, in arrival order, while the read loop
	// keeps answering pings.
	work := make(chan Envelope, 16)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for env := range work {
			reply := r.Handle(ctx, env)
			if err := write(frame{Type: frameResponse, Response: &reply}); err != nil {
				r.logger.Warn("send reply failed", logging.String(logging.FieldCorrelationID, env.ID), logging.Error(err))
			}
		}
	}()
	defer func() {
		close(work)
		<-workerDone
	}()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			r.logger.Warn("invalid frame from hub", logging.Error(err))
			continue
		}
		switch f.Type {
		case frameRequest:
			if f.Request != nil {
				work <- *f.Request
			}
		case frameError:
			r.logger.Warn("hub reported error", logging.String("message", f.Message))
		}
	}
}

// Handle executes one envelope against the signer. A keyed SUBMIT_MESSAGE
// that already succeeded is answered from memory without signing again.
func (r *Responder) Handle(ctx context.Context, env Envelope) Reply {
	logger := r.logger.With(
		logging.String(logging.FieldCorrelationID, env.ID),
		logging.String("operation", string(env.Operation)),
	)
	key := ""
	if env.Operation == OpSubmitMessage {
		key = env.IdempotencyKey
	}
	if raw, ok := r.lookup(key); ok {
		logger.Info("privileged operation replayed", logging.String("idempotency_key", key))
		return Reply{ID: env.ID, Success: true, Result: raw}
	}
	ctx = services.WithIdempotencyKey(ctx, key)
	var (
		result any
		err    error
	)
	switch env.Operation {
	case OpCreateTopic:
		var topicID string
		topicID, err = r.opts.Signer.CreateTopic(ctx, env.Memo)
		result = CreateTopicResult{TopicID: topicID}
	case OpSubmitMessage:
		var receipt ledger.Receipt
		receipt, err = r.opts.Signer.SubmitMessage(ctx, env.TopicID, env.Message)
		result = SubmitResult{TopicID: receipt.TopicID, SequenceNumber: receipt.SequenceNumber, TransactionID: receipt.TransactionID}
	default:
		err = fmt.Errorf("unsupported operation %q", env.Operation)
	}
	if err != nil {
		logger.Warn("privileged operation failed", logging.Error(err))
		return Reply{ID: env.ID, Success: false, Error: err.Error()}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Reply{ID: env.ID, Success: false, Error: err.Error()}
	}
	r.remember(key, raw)
	logger.Info("privileged operation completed")
	return Reply{ID: env.ID, Success: true, Result: raw}
}

func (r *Responder) lookup(key string) (json.RawMessage, bool) {
	if key == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.completed[key]
	return raw, ok
}

func (r *Responder) remember(key string, raw json.RawMessage) {
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.completed[key]; ok {
		return
	}
	r.completed[key] = raw
	r.order = append(r.order, key)
	if len(r.order) > completedLimit {
		delete(r.completed, r.order[0])
		r.order = r.order[1:]
	}
}
