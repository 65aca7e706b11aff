package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"callscribe/internal/language"
	"callscribe/internal/services"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "whisper-1"
	openAITranscribePath = "/audio/transcriptions"
	defaultOpenAITimeout = 2 * time.Minute
)

// OpenAI calls an OpenAI-compatible transcription endpoint.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// OpenAIOption customizes an OpenAI client.
type OpenAIOption func(*OpenAI)

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) OpenAIOption {
	return func(o *OpenAI) {
		if strings.TrimSpace(baseURL) != "" {
			o.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithModel overrides the transcription model.
func WithModel(model string) OpenAIOption {
	return func(o *OpenAI) {
		if strings.TrimSpace(model) != "" {
			o.model = strings.TrimSpace(model)
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(timeout time.Duration) OpenAIOption {
	return func(o *OpenAI) {
		if timeout > 0 {
			o.http.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(o *OpenAI) {
		if client != nil {
			o.http = client
		}
	}
}

// NewOpenAI constructs the client.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	o := &OpenAI{
		baseURL: defaultOpenAIBaseURL,
		apiKey:  strings.TrimSpace(apiKey),
		model:   defaultOpenAIModel,
		http:    &http.Client{Timeout: defaultOpenAITimeout},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name implements Transcriber.
func (o *OpenAI) Name() string { return "openai" }

// Close implements Transcriber.
func (o *OpenAI) Close() error { return nil }

type openAISegment struct {
	AvgLogprob   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

type openAIResponse struct {
	Text     string          `json:"text"`
	Language string          `json:"language"`
	Duration float64         `json:"duration"`
	Segments []openAISegment `json:"segments"`
}

// Transcribe uploads the segment as multipart form data.
func (o *OpenAI) Transcribe(ctx context.Context, req Request) (Result, error) {
	if len(req.Audio) == 0 {
		return Result{}, services.Wrap(services.ErrPermanent, "stt", "transcribe", "empty audio", nil)
	}
	if o.apiKey == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "stt", "transcribe", "missing openai api key", nil)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", o.model); err != nil {
		return Result{}, fmt.Errorf("openai: write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return Result{}, fmt.Errorf("openai: write format field: %w", err)
	}
	if lang := language.ToISO2(req.Language); lang != "" {
		if err := writer.WriteField("language", lang); err != nil {
			return Result{}, fmt.Errorf("openai: write language field: %w", err)
		}
	}
	name := req.Name
	if name == "" {
		name = "segment"
	}
	field, err := writer.CreateFormFile("file", name+"."+extension(req.Format))
	if err != nil {
		return Result{}, fmt.Errorf("openai: create file field: %w", err)
	}
	if _, err := field.Write(req.Audio); err != nil {
		return Result{}, fmt.Errorf("openai: copy audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("openai: close multipart writer: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+openAITranscribePath, body)
	if err != nil {
		return Result{}, fmt.Errorf("openai: build request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.http.Do(request)
	if err != nil {
		return Result{}, classifyTransport("openai", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, classifyTransport("openai", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, classifyHTTP("openai", resp.StatusCode, string(payload))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "stt", "transcribe", "decode openai response", err)
	}
	return Result{
		Text:       strings.TrimSpace(parsed.Text),
		Confidence: confidenceFromSegments(parsed.Segments),
		Language:   parsed.Language,
		Duration:   secondsToDuration(parsed.Duration),
	}, nil
}

// confidenceFromSegments converts the mean average log probability into a
// 0..1 score, discounted by the no-speech probability. Plain json responses
// without segments report 1.
func confidenceFromSegments(segments []openAISegment) float64 {
	if len(segments) == 0 {
		return 1
	}
	var total float64
	for _, s := range segments {
		total += math.Exp(s.AvgLogprob) * (1 - s.NoSpeechProb)
	}
	score := total / float64(len(segments))
	return math.Max(0, math.Min(1, score))
}
