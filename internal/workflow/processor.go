package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"callscribe/internal/archive"
	"callscribe/internal/ledger"
	"callscribe/internal/logging"
	"callscribe/internal/proxy"
	"callscribe/internal/segment"
	"callscribe/internal/services"
	"callscribe/internal/stt"
)

// Target is what the processor needs to know about a segment's session.
type Target struct {
	SessionID    string
	MeetingID    string
	TopicID      string
	Transcribing bool
}

// Sessions resolves segment owners and records publications.
type Sessions interface {
	Target(sessionID string) (Target, bool)
	SegmentPublished(sessionID string, sequence int64)
}

// Publisher submits serialized ledger messages.
type Publisher interface {
	SubmitMessage(ctx context.Context, topicID, message string) (proxy.SubmitResult, error)
}

// Options configures a Processor.
type Options struct {
	Transcriber stt.Transcriber
	Publisher   Publisher
	Sessions    Sessions
	// Spool receives segments of sessions that record without transcribing.
	Spool archive.Archiver
	// Archive, when set, receives the audio of every published segment.
	Archive  archive.Archiver
	Language string
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Stats counts processor outcomes since start.
type Stats struct {
	Transcribed int64 `json:"transcribed"`
	Published   int64 `json:"published"`
	Empty       int64 `json:"empty"`
	Spooled     int64 `json:"spooled"`
	Archived    int64 `json:"archived"`
}

type cachedTranscript struct {
	sessionID string
	sequence  int64
	result    stt.Result
}

// Processor resolves one segment: spool it, or transcribe it and publish the
// transcription to the session's ledger topic.
type Processor struct {
	transcriber stt.Transcriber
	publisher   Publisher
	sessions    Sessions
	spool       archive.Archiver
	archive     archive.Archiver
	language    string
	clock       func() time.Time
	logger      *slog.Logger

	// The queue retries the head segment, so a transcript whose publish
	// failed is kept for the next attempt.
	mu     sync.Mutex
	cached *cachedTranscript

	transcribed atomic.Int64
	published   atomic.Int64
	empty       atomic.Int64
	spooled     atomic.Int64
	archived    atomic.Int64
}

// NewProcessor builds a processor.
func NewProcessor(opts Options) *Processor {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Processor{
		transcriber: opts.Transcriber,
		publisher:   opts.Publisher,
		sessions:    opts.Sessions,
		spool:       opts.Spool,
		archive:     opts.Archive,
		language:    opts.Language,
		clock:       opts.Clock,
		logger:      logging.NewComponentLogger(opts.Logger, "workflow"),
	}
}

// Process implements queue.Processor.
func (p *Processor) Process(ctx context.Context, seg segment.Segment) error {
	target, ok := p.sessions.Target(seg.SessionID)
	if !ok {
		return services.Wrap(services.ErrPermanent, "workflow", "process",
			fmt.Sprintf("session %s is unknown", seg.SessionID), nil)
	}
	ctx = services.WithMeetingID(ctx, target.MeetingID)
	logger := logging.WithContext(ctx, p.logger)

	if !target.Transcribing {
		return p.spoolSegment(ctx, logger, target, seg)
	}
	if target.TopicID == "" {
		return services.Wrap(services.ErrValidation, "workflow", "process",
			fmt.Sprintf("session %s has no ledger topic", seg.SessionID), nil)
	}

	result, err := p.transcribe(ctx, seg)
	if err != nil {
		return err
	}
	if result.Empty() {
		p.empty.Add(1)
		p.forget()
		logger.Debug("segment transcribed to silence; nothing published")
		return nil
	}

	msg := ledger.NewTranscription(target.MeetingID, ledger.SegmentBody{
		Text:       result.Text,
		StartTime:  seg.StartTimeMs,
		EndTime:    seg.EndTimeMs,
		Confidence: result.Confidence,
		Sequence:   seg.Sequence,
	}, p.clock())
	encoded, err := msg.Encode()
	if err != nil {
		p.forget()
		return services.Wrap(services.ErrPermanent, "workflow", "format", "encode transcription", err)
	}

	pubCtx := services.WithIdempotencyKey(ctx, ledger.SegmentKey(seg.SessionID, seg.Sequence))
	receipt, err := p.publisher.SubmitMessage(pubCtx, target.TopicID, encoded)
	if err != nil {
		return fmt.Errorf("publish segment %d: %w", seg.Sequence, err)
	}
	p.forget()
	p.published.Add(1)
	p.sessions.SegmentPublished(seg.SessionID, seg.Sequence)
	logger.Info("segment published",
		logging.String("topic_id", receipt.TopicID),
		logging.Int64("ledger_sequence", receipt.SequenceNumber),
		logging.Int("chars", len(result.Text)),
		logging.Float64("confidence", result.Confidence),
	)

	p.archiveSegment(ctx, logger, target, seg, result)
	return nil
}

// Stats returns the outcome counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Transcribed: p.transcribed.Load(),
		Published:   p.published.Load(),
		Empty:       p.empty.Load(),
		Spooled:     p.spooled.Load(),
		Archived:    p.archived.Load(),
	}
}

func (p *Processor) transcribe(ctx context.Context, seg segment.Segment) (stt.Result, error) {
	p.mu.Lock()
	if c := p.cached; c != nil && c.sessionID == seg.SessionID && c.sequence == seg.Sequence {
		p.mu.Unlock()
		return c.result, nil
	}
	p.mu.Unlock()

	started := time.Now()
	result, err := p.transcriber.Transcribe(ctx, stt.Request{
		Audio:    seg.Audio,
		Format:   seg.Format,
		Language: p.language,
		Name:     fmt.Sprintf("%s-%06d", seg.SessionID, seg.Sequence),
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("transcribe segment %d with %s: %w", seg.Sequence, p.transcriber.Name(), err)
	}
	p.transcribed.Add(1)
	p.logger.Debug("segment transcribed",
		logging.String(logging.FieldSessionID, seg.SessionID),
		logging.Int64(logging.FieldSegmentSeq, seg.Sequence),
		logging.Duration("elapsed", time.Since(started)),
	)

	p.mu.Lock()
	p.cached = &cachedTranscript{sessionID: seg.SessionID, sequence: seg.Sequence, result: result}
	p.mu.Unlock()
	return result, nil
}

func (p *Processor) forget() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

func (p *Processor) spoolSegment(ctx context.Context, logger *slog.Logger, target Target, seg segment.Segment) error {
	if p.spool == nil {
		logger.Debug("transcription disabled and no spool configured; segment released")
		return nil
	}
	path, err := p.spool.Archive(ctx, seg, archive.Metadata{MeetingID: target.MeetingID})
	if err != nil {
		return fmt.Errorf("spool segment %d: %w", seg.Sequence, err)
	}
	p.spooled.Add(1)
	logger.Debug("segment spooled", logging.String("path", path))
	return nil
}

// archiveSegment never fails the segment: it is already on the ledger and a
// retry would publish it twice.
func (p *Processor) archiveSegment(ctx context.Context, logger *slog.Logger, target Target, seg segment.Segment, result stt.Result) {
	if p.archive == nil {
		return
	}
	location, err := p.archive.Archive(ctx, seg, archive.Metadata{
		MeetingID:  target.MeetingID,
		Transcript: result.Text,
		Confidence: result.Confidence,
	})
	if err != nil {
		logging.WarnWithContext(logger, "segment archive failed", "archive_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "transcript is published but the audio is not archived"),
			logging.String(logging.FieldErrorHint, "check archive bucket permissions"),
		)
		return
	}
	p.archived.Add(1)
	logger.Debug("segment archived", logging.String("location", location))
}
