package stt

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"callscribe/internal/services"
)

type fakeRecognizer struct {
	req  *speechpb.RecognizeRequest
	resp *speechpb.RecognizeResponse
	err  error
}

func (f *fakeRecognizer) Recognize(_ context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	f.req = req
	return f.resp, f.err
}

func (f *fakeRecognizer) Close() error { return nil }

func TestGooglePicksMostConfidentAlternative(t *testing.T) {
	fake := &fakeRecognizer{resp: &speechpb.RecognizeResponse{Results: []*speechpb.SpeechRecognitionResult{
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{
			{Transcript: "wreck a nice beach", Confidence: 0.4},
			{Transcript: "recognize speech", Confidence: 0.9},
		}},
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{
			{Transcript: " today", Confidence: 0.7},
		}},
	}}}
	g := newGoogleWithClient(fake, GoogleOptions{})

	res, err := g.Transcribe(context.Background(), Request{Audio: []byte("pcm"), Format: "wav", Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "recognize speech today" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Confidence < 0.79 || res.Confidence > 0.81 {
		t.Fatalf("unexpected confidence %v", res.Confidence)
	}
	cfg := fake.req.GetConfig()
	if cfg.GetEncoding() != speechpb.RecognitionConfig_LINEAR16 || cfg.GetSampleRateHertz() != 16000 {
		t.Fatalf("unexpected recognition config %+v", cfg)
	}
	if cfg.GetLanguageCode() != "en-US" {
		t.Fatalf("unexpected language %q", cfg.GetLanguageCode())
	}
}

func TestGoogleRejectsUndecodableFormat(t *testing.T) {
	g := newGoogleWithClient(&fakeRecognizer{}, GoogleOptions{})
	_, err := g.Transcribe(context.Background(), Request{Audio: []byte("x"), Format: "m4a"})
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestClassifyGRPC(t *testing.T) {
	tests := []struct {
		err    error
		marker error
	}{
		{status.Error(codes.InvalidArgument, "bad encoding"), services.ErrPermanent},
		{status.Error(codes.InvalidArgument, "language_code is required"), services.ErrValidation},
		{status.Error(codes.PermissionDenied, "denied"), services.ErrConfiguration},
		{status.Error(codes.DeadlineExceeded, "slow"), services.ErrTimeout},
		{status.Error(codes.Unavailable, "down"), services.ErrTransient},
	}
	for _, tc := range tests {
		if got := classifyGRPC(tc.err); !errors.Is(got, tc.marker) {
			t.Errorf("%v: expected %v, got %v", tc.err, tc.marker, got)
		}
	}
}
