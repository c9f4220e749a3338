package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// DefaultChunkSamples is the number of samples per chunk emitted by the
// built-in sources.
const DefaultChunkSamples = 1024

const bitsPerSample = 16

// ErrUnsupportedWAV is returned for WAV input that is not 16-bit integer PCM.
var ErrUnsupportedWAV = errors.New("audio: unsupported wav format")

// WAVSource is a pull source that serves a WAV file as mono chunks at a
// target sample rate. The whole file is decoded up front; it is intended for
// replaying recordings, not for unbounded streams.
type WAVSource struct {
	format       Format
	chunkSamples int

	mu      sync.Mutex
	samples []int16
	pos     int
	start   time.Time
}

// Compile-time interface assertion.
var _ Source = (*WAVSource)(nil)

// WAVOption configures a [WAVSource].
type WAVOption func(*WAVSource)

// WithChunkSamples sets the number of samples per emitted chunk.
// Defaults to [DefaultChunkSamples].
func WithChunkSamples(n int) WAVOption {
	return func(s *WAVSource) {
		if n > 0 {
			s.chunkSamples = n
		}
	}
}

// OpenWAV reads the WAV file at path, mixes it down to mono and resamples it
// to targetRate.
func OpenWAV(path string, targetRate int, opts ...WAVOption) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open wav %q: %w", path, err)
	}
	defer f.Close()
	src, err := NewWAVSource(f, targetRate, opts...)
	if err != nil {
		return nil, fmt.Errorf("audio: read wav %q: %w", path, err)
	}
	return src, nil
}

// NewWAVSource decodes a WAV stream from r. See [OpenWAV].
func NewWAVSource(r io.Reader, targetRate int, opts ...WAVOption) (*WAVSource, error) {
	pcm, format, err := DecodeWAV(r)
	if err != nil {
		return nil, err
	}
	if format.Channels > 1 {
		pcm = MixDown(pcm, format.Channels)
	}
	if targetRate > 0 && format.SampleRate != targetRate {
		pcm = ResampleMono(pcm, format.SampleRate, targetRate)
	} else {
		targetRate = format.SampleRate
	}

	s := &WAVSource{
		format:       Format{SampleRate: targetRate, Channels: 1},
		chunkSamples: DefaultChunkSamples,
		samples:      pcm,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Format implements [Source].
func (s *WAVSource) Format() Format { return s.format }

// Duration returns the total playback length of the decoded audio.
func (s *WAVSource) Duration() time.Duration {
	return time.Duration(len(s.samples)) * time.Second / time.Duration(s.format.SampleRate)
}

// NextChunk implements [Source]. It never waits: the next chunk is either
// available immediately or the stream has ended. The final chunk may be
// shorter than the configured size.
func (s *WAVSource) NextChunk(ctx context.Context, _ time.Duration) (Chunk, bool, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.samples) {
		return Chunk{}, false, io.EOF
	}
	if s.start.IsZero() {
		s.start = time.Now()
	}
	end := min(s.pos+s.chunkSamples, len(s.samples))
	offset := time.Duration(s.pos) * time.Second / time.Duration(s.format.SampleRate)
	c := Chunk{
		Samples:    s.samples[s.pos:end],
		SampleRate: s.format.SampleRate,
		Channels:   1,
		Captured:   s.start.Add(offset),
	}
	s.pos = end
	return c, true, nil
}

// Close implements [Source].
func (s *WAVSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = len(s.samples)
	return nil
}

// DecodeWAV parses a RIFF/WAVE stream containing 16-bit integer PCM and
// returns the interleaved samples and their format. Unknown chunks between
// "fmt " and "data" are skipped.
func DecodeWAV(r io.Reader) ([]int16, Format, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, Format{}, fmt.Errorf("audio: read riff header: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrUnsupportedWAV)
	}

	var (
		format  Format
		haveFmt bool
	)
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return nil, Format{}, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(ch[0:4])
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: fmt chunk too short", ErrUnsupportedWAV)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, Format{}, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			format.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits := binary.LittleEndian.Uint16(body[14:16])
			if audioFormat != 1 || bits != bitsPerSample {
				return nil, Format{}, fmt.Errorf("%w: format=%d bits=%d (want PCM 16-bit)", ErrUnsupportedWAV, audioFormat, bits)
			}
			if format.Channels < 1 || format.SampleRate <= 0 {
				return nil, Format{}, fmt.Errorf("%w: channels=%d rate=%d", ErrUnsupportedWAV, format.Channels, format.SampleRate)
			}
			haveFmt = true
			if size%2 == 1 {
				_, _ = io.CopyN(io.Discard, r, 1)
			}

		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedWAV)
			}
			pcm, err := io.ReadAll(io.LimitReader(r, size))
			if err != nil {
				return nil, Format{}, fmt.Errorf("audio: read data chunk: %w", err)
			}
			return BytesToSamples(pcm), format, nil

		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return nil, Format{}, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}

// EncodeWAV wraps samples in a canonical 44-byte-header RIFF/WAV container.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(samples) * 2

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(s))
	}
	return buf
}
