// Package mock provides an in-memory [audio.Source] for unit tests.
//
// The mock is safe for concurrent use. It serves a scripted list of chunks
// and errors, records every call, and reports io.EOF once the script is
// exhausted (or blocks until Close when Hold is set, mimicking a live
// capture that never ends on its own).
//
// Typical usage:
//
//	src := &mock.Source{
//	    Fmt:    audio.Format{SampleRate: 16000, Channels: 1},
//	    Script: []mock.Step{{Chunk: c1}, {Err: errDevice}, {Chunk: c2}},
//	}
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/wakecmd/pkg/audio"
)

// Step is one scripted result of [Source.NextChunk]. When Err is non-nil it
// is returned instead of Chunk.
type Step struct {
	Chunk audio.Chunk
	Err   error
}

// Source is a mock implementation of [audio.Source] and [audio.Starter].
type Source struct {
	mu sync.Mutex

	// Fmt is returned by Format.
	Fmt audio.Format

	// Script is consumed in order by NextChunk.
	Script []Step

	// Hold makes NextChunk wait for the timeout (returning ok=false) instead
	// of io.EOF once Script is exhausted, until Close is called.
	Hold bool

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// --- Call records ---

	// NextChunkCalls is the number of NextChunk invocations.
	NextChunkCalls int

	// StartCalls is the number of Start invocations.
	StartCalls int

	// CloseCalls is the number of Close invocations.
	CloseCalls int

	pos    int
	closed bool
}

// Compile-time interface assertions.
var (
	_ audio.Source  = (*Source)(nil)
	_ audio.Starter = (*Source)(nil)
)

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Fmt
}

// Start implements [audio.Starter].
func (s *Source) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	return s.StartErr
}

// NextChunk implements [audio.Source].
func (s *Source) NextChunk(ctx context.Context, timeout time.Duration) (audio.Chunk, bool, error) {
	s.mu.Lock()
	s.NextChunkCalls++
	if s.closed {
		s.mu.Unlock()
		return audio.Chunk{}, false, io.EOF
	}
	if s.pos < len(s.Script) {
		step := s.Script[s.pos]
		s.pos++
		s.mu.Unlock()
		if step.Err != nil {
			return audio.Chunk{}, false, step.Err
		}
		return step.Chunk, true, nil
	}
	hold := s.Hold
	s.mu.Unlock()

	if !hold {
		return audio.Chunk{}, false, io.EOF
	}
	select {
	case <-ctx.Done():
		return audio.Chunk{}, false, ctx.Err()
	case <-time.After(timeout):
		return audio.Chunk{}, false, nil
	}
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	s.closed = true
	return nil
}

// Remaining returns the number of unconsumed script steps.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Script) - s.pos
}
