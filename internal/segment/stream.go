package segment

import "errors"

// ErrNoStream is returned by Start when the stream carries no audio track.
var ErrNoStream = errors.New("no audio stream")

// Stream is a live audio capture source.
type Stream interface {
	// AudioTracks reports how many audio tracks the stream carries.
	AudioTracks() int
	// Chunks delivers encoded audio as it is produced. It is closed once the
	// capture ends, after any remaining audio has been delivered.
	Chunks() <-chan []byte
	// Format names the container of the delivered bytes (wav, webm, ...).
	Format() string
	Pause() error
	Resume() error
	// Stop ends the capture. Buffered audio is still delivered on Chunks.
	Stop() error
	// Release frees the capture device.
	Release() error
}
