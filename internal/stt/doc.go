// Package stt transcribes segment audio. Three backends share the
// Transcriber interface:
//
//   - openai: any OpenAI-compatible /audio/transcriptions endpoint
//   - google: Google Cloud Speech-to-Text synchronous recognition
//   - whisperx: a local WhisperX run through uvx
//
// Backend errors are marked with services.ErrPermanent when retrying cannot
// help (unsupported or undecodable audio) and services.ErrTransient for
// timeouts, rate limits and server errors, so the segment queue can choose
// between dropping and retrying.
package stt
