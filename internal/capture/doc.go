// Package capture opens live audio sources for the segmenter.
//
// FFmpeg runs ffmpeg against a platform input (pulse, alsa, avfoundation)
// and streams raw 16-bit PCM from its stdout. Merged segments are framed as
// WAV files, so every segment is independently decodable.
package capture
