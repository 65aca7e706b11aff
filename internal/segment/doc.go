// Package segment turns a continuous capture stream into an ordered sequence
// of bounded audio segments.
//
// A Segmenter buffers chunks delivered by a Stream and cuts them into a
// Segment on every tick of its interval timer. Segments carry offsets relative
// to the recording start and a monotonically increasing sequence number, and
// are delivered on a bounded channel. Pausing suspends the capture and the
// cuts without discarding buffered audio; stopping flushes whatever is left.
package segment
