// Package language normalizes the configured speech-to-text language into
// the forms each backend expects: ISO 639-1 for OpenAI-compatible APIs and
// WhisperX, and a region-qualified BCP 47 tag for Google Speech.
package language
