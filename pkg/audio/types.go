package audio

import "time"

// Chunk is a block of signed 16-bit PCM samples as delivered by an audio
// source. Its length is arbitrary; consumers that need fixed-size frames must
// slice it themselves.
type Chunk struct {
	// Samples holds interleaved PCM samples. For the mono streams consumed by
	// the segmenter this is one sample per tick.
	Samples []int16

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Channels is 1 for mono. Multi-channel chunks must be mixed down before
	// segmentation.
	Channels int

	// Captured is the wall-clock time at which the first sample was acquired.
	// The zero value means unknown.
	Captured time.Time
}

// Format returns the chunk's sample rate and channel count.
func (c Chunk) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// Duration returns the playback length of the chunk. It is zero for an
// invalid format.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}
