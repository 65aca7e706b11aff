package ledger

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"callscribe/internal/config"
	"callscribe/internal/services"
)

const userAgent = "callscribe-signer/0.1"

// Receipt is the relay's acknowledgement of a submitted message.
type Receipt struct {
	TopicID        string `json:"topic_id"`
	SequenceNumber int64  `json:"sequence_number"`
	TransactionID  string `json:"transaction_id,omitempty"`
}

// Signer performs the operations that need the account's signing key.
type Signer interface {
	CreateTopic(ctx context.Context, memo string) (string, error)
	SubmitMessage(ctx context.Context, topicID, message string) (Receipt, error)
}

// RelaySigner signs requests with an ed25519 key and posts them to a ledger
// relay over HTTP.
type RelaySigner struct {
	endpoint  *url.URL
	accountID string
	key       ed25519.PrivateKey
	client    *http.Client
	now       func() time.Time
}

// NewRelaySigner builds a RelaySigner from the [ledger] config section.
func NewRelaySigner(cfg *config.Config) (*RelaySigner, error) {
	if err := cfg.ValidateSigner(); err != nil {
		return nil, err
	}
	endpoint, err := url.Parse(strings.TrimRight(cfg.Ledger.RelayURL, "/"))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "ledger", "parse relay url", "invalid ledger.relay_url", err)
	}
	key, err := ParsePrivateKey(cfg.Ledger.PrivateKey)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "ledger", "parse key", "invalid ledger.private_key", err)
	}
	timeout := time.Duration(cfg.Ledger.TimeoutSeconds) * time.Second
	return &RelaySigner{
		endpoint:  endpoint,
		accountID: cfg.Ledger.AccountID,
		key:       key,
		client:    &http.Client{Timeout: timeout},
		now:       time.Now,
	}, nil
}

// ParsePrivateKey accepts a hex or base64 encoded 32-byte seed or 64-byte
// ed25519 private key.
func ParsePrivateKey(value string) (ed25519.PrivateKey, error) {
	value = strings.TrimSpace(value)
	raw, err := hex.DecodeString(value)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, errors.New("private key is neither hex nor base64")
		}
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("private key has %d bytes, want %d or %d", len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

// CreateTopic asks the relay to create a topic carrying memo.
func (s *RelaySigner) CreateTopic(ctx context.Context, memo string) (string, error) {
	var resp struct {
		TopicID string `json:"topic_id"`
	}
	body := map[string]string{"memo": memo, "account_id": s.accountID}
	if err := s.post(ctx, "topics", body, &resp); err != nil {
		return "", err
	}
	if resp.TopicID == "" {
		return "", services.Wrap(services.ErrTransient, "ledger", "create topic", "relay returned no topic id", nil)
	}
	return resp.TopicID, nil
}

// SubmitMessage posts message to topicID.
func (s *RelaySigner) SubmitMessage(ctx context.Context, topicID, message string) (Receipt, error) {
	var receipt Receipt
	body := map[string]string{"message": message, "account_id": s.accountID}
	if err := s.post(ctx, "topics/"+url.PathEscape(topicID)+"/messages", body, &receipt); err != nil {
		return Receipt{}, err
	}
	if receipt.TopicID == "" {
		receipt.TopicID = topicID
	}
	return receipt, nil
}

// Sign returns the base64 signature over timestamp and body as sent in the
// X-Callscribe-Signature header.
func Sign(key ed25519.PrivateKey, timestamp string, body []byte) string {
	msg := make([]byte, 0, len(timestamp)+1+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, '\n')
	msg = append(msg, body...)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, msg))
}

func (s *RelaySigner) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode relay request: %w", err)
	}
	target := s.endpoint.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Callscribe-Account", s.accountID)
	req.Header.Set("X-Callscribe-Timestamp", timestamp)
	req.Header.Set("X-Callscribe-Signature", Sign(s.key, timestamp, payload))
	if key, ok := services.IdempotencyKeyFromContext(ctx); ok {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "ledger", "relay request", "relay unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		marker := services.ErrTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			marker = services.ErrValidation
		}
		return services.Wrap(marker, "ledger", "relay request",
			fmt.Sprintf("relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrTransient, "ledger", "relay response", "decode relay response", err)
	}
	return nil
}
