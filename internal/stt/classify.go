package stt

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"callscribe/internal/services"
)

// Response fragments that mean the audio itself cannot be transcribed.
var permanentSignatures = []string{
	"unsupported",
	"invalid file format",
	"could not decode",
	"audio file is too short",
	"too short",
	"no audio",
	"corrupt",
}

// classifyHTTP maps a non-2xx transcription response to a marked error.
func classifyHTTP(backend string, status int, body string) error {
	detail := fmt.Sprintf("%s returned %d: %s", backend, status, strings.TrimSpace(body))
	lower := strings.ToLower(body)
	switch {
	case status == http.StatusRequestEntityTooLarge:
		return services.Wrap(services.ErrPermanent, "stt", "transcribe", detail, nil)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		if hasPermanentSignature(lower) {
			return services.Wrap(services.ErrPermanent, "stt", "transcribe", detail, nil)
		}
		return services.Wrap(services.ErrValidation, "stt", "transcribe", detail, nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "stt", "transcribe", detail, nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return services.Wrap(services.ErrTimeout, "stt", "transcribe", detail, nil)
	default:
		return services.Wrap(services.ErrTransient, "stt", "transcribe", detail, nil)
	}
}

// classifyTransport marks network failures as transient or timeouts.
func classifyTransport(backend string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, "stt", "transcribe", backend+" request timed out", err)
	}
	return services.Wrap(services.ErrTransient, "stt", "transcribe", backend+" request failed", err)
}

func hasPermanentSignature(lower string) bool {
	for _, sig := range permanentSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
