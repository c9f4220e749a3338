// Package audio defines the audio chunk type, the source interfaces consumed
// by the pipeline, and the built-in sources (WAV files, raw PCM streams and a
// synthetic tone generator).
//
// Two acquisition styles are supported:
//
//   - Pull sources ([WAVSource]) produce chunks on demand from a finite
//     input and report [io.EOF] at the end.
//   - Push sources ([ReaderSource], [ToneSource]) run their own capture
//     goroutine, started via [Starter.Start], which pushes chunks into a
//     bounded [Queue]. The queue's [OverflowPolicy] makes backpressure an
//     explicit choice.
//
// Both styles present the same [Source] interface to the consumer.
package audio

import (
	"context"
	"time"
)

// Source yields chunks for a single consumer.
type Source interface {
	// Format returns the sample rate and channel count of every chunk this
	// source produces.
	Format() Format

	// NextChunk waits up to timeout for the next chunk. ok is false when no
	// chunk became available in time. It returns io.EOF once the stream is
	// exhausted; other errors are acquisition failures that the caller may
	// retry.
	NextChunk(ctx context.Context, timeout time.Duration) (chunk Chunk, ok bool, err error)

	// Close releases the source. Safe to call more than once.
	Close() error
}

// Starter is implemented by push sources whose capture goroutine must be
// started before chunks are produced. Start returns once capture is running;
// capture stops when ctx is cancelled or Close is called.
type Starter interface {
	Start(ctx context.Context) error
}
