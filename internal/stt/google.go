package stt

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"callscribe/internal/language"
	"callscribe/internal/services"
)

// GoogleOptions configures the Google Speech backend.
type GoogleOptions struct {
	CredentialsFile string
	SampleRate      int
	Channels        int
}

type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	Close() error
}

type speechClient struct{ c *speech.Client }

func (s speechClient) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return s.c.Recognize(ctx, req)
}

func (s speechClient) Close() error { return s.c.Close() }

// Google transcribes with Cloud Speech-to-Text synchronous recognition.
type Google struct {
	client     recognizer
	sampleRate int32
	channels   int32
}

// NewGoogle dials the Speech API. Credentials come from CredentialsFile when
// set, otherwise from application default credentials.
func NewGoogle(ctx context.Context, opts GoogleOptions) (*Google, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	c, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "stt", "google client", "create speech client", err)
	}
	return newGoogleWithClient(speechClient{c: c}, opts), nil
}

func newGoogleWithClient(client recognizer, opts GoogleOptions) *Google {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	return &Google{client: client, sampleRate: int32(opts.SampleRate), channels: int32(opts.Channels)}
}

// Name implements Transcriber.
func (g *Google) Name() string { return "google" }

// Close implements Transcriber.
func (g *Google) Close() error { return g.client.Close() }

// Transcribe sends the segment inline and keeps the most confident
// alternative of each result.
func (g *Google) Transcribe(ctx context.Context, req Request) (Result, error) {
	if len(req.Audio) == 0 {
		return Result{}, services.Wrap(services.ErrPermanent, "stt", "transcribe", "empty audio", nil)
	}
	encoding, ok := googleEncoding(req.Format)
	if !ok {
		return Result{}, services.Wrap(services.ErrPermanent, "stt", "transcribe",
			fmt.Sprintf("google speech cannot decode %q audio", req.Format), nil)
	}
	langCode := language.ToBCP47(req.Language, "en-US")

	recCfg := &speechpb.RecognitionConfig{
		Encoding:                   encoding,
		LanguageCode:               langCode,
		EnableAutomaticPunctuation: true,
		AudioChannelCount:          g.channels,
	}
	if encoding == speechpb.RecognitionConfig_LINEAR16 || encoding == speechpb.RecognitionConfig_OGG_OPUS || encoding == speechpb.RecognitionConfig_WEBM_OPUS {
		recCfg.SampleRateHertz = g.sampleRate
	}
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: recCfg,
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: req.Audio}},
	})
	if err != nil {
		return Result{}, classifyGRPC(err)
	}

	var (
		parts   []string
		confSum float64
		counted int
	)
	for _, r := range resp.GetResults() {
		var best *speechpb.SpeechRecognitionAlternative
		for _, alt := range r.GetAlternatives() {
			if alt.GetTranscript() == "" {
				continue
			}
			if best == nil || alt.GetConfidence() >= best.GetConfidence() {
				best = alt
			}
		}
		if best == nil {
			continue
		}
		parts = append(parts, strings.TrimSpace(best.GetTranscript()))
		confSum += float64(best.GetConfidence())
		counted++
	}
	result := Result{Text: strings.Join(parts, " "), Language: langCode}
	if counted > 0 {
		result.Confidence = confSum / float64(counted)
	}
	if billed := resp.GetTotalBilledTime(); billed != nil {
		result.Duration = billed.AsDuration().Round(time.Millisecond)
	}
	return result, nil
}

func googleEncoding(format string) (speechpb.RecognitionConfig_AudioEncoding, bool) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "wav", "pcm", "linear16":
		return speechpb.RecognitionConfig_LINEAR16, true
	case "flac":
		return speechpb.RecognitionConfig_FLAC, true
	case "ogg", "opus":
		return speechpb.RecognitionConfig_OGG_OPUS, true
	case "webm":
		return speechpb.RecognitionConfig_WEBM_OPUS, true
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, false
	}
}

func classifyGRPC(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return classifyTransport("google", err)
	}
	detail := fmt.Sprintf("google speech %s: %s", st.Code(), st.Message())
	switch st.Code() {
	case codes.InvalidArgument:
		if hasPermanentSignature(strings.ToLower(st.Message())) || strings.Contains(strings.ToLower(st.Message()), "encoding") {
			return services.Wrap(services.ErrPermanent, "stt", "transcribe", detail, nil)
		}
		return services.Wrap(services.ErrValidation, "stt", "transcribe", detail, nil)
	case codes.Unauthenticated, codes.PermissionDenied:
		return services.Wrap(services.ErrConfiguration, "stt", "transcribe", detail, nil)
	case codes.DeadlineExceeded:
		return services.Wrap(services.ErrTimeout, "stt", "transcribe", detail, nil)
	default:
		return services.Wrap(services.ErrTransient, "stt", "transcribe", detail, nil)
	}
}
