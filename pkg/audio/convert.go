package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a compact description such as "16000Hz/mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// FormatConverter converts Chunks to a target format. It logs a warning on
// the first format mismatch. Create one per stream; not designed for shared
// use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert converts a chunk to the target format. If the source format already
// matches the target, the chunk is returned unchanged (zero allocation).
// Multi-channel input is mixed down before resampling so that only one
// channel is interpolated.
func (c *FormatConverter) Convert(chunk Chunk) Chunk {
	if chunk.SampleRate == c.Target.SampleRate && chunk.Channels == c.Target.Channels {
		return chunk
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(chunk.SampleRate, chunk.Channels),
			"to", c.Target.String(),
		)
	})

	samples := chunk.Samples
	channels := chunk.Channels

	if channels > 1 && c.Target.Channels == 1 {
		samples = MixDown(samples, channels)
		channels = 1
	}

	if chunk.SampleRate != c.Target.SampleRate {
		if channels == 1 {
			samples = ResampleMono(samples, chunk.SampleRate, c.Target.SampleRate)
		} else {
			samples = resampleInterleaved(samples, channels, chunk.SampleRate, c.Target.SampleRate)
		}
	}

	if channels == 1 && c.Target.Channels > 1 {
		samples = Upmix(samples, c.Target.Channels)
		channels = c.Target.Channels
	}

	return Chunk{
		Samples:    samples,
		SampleRate: c.Target.SampleRate,
		Channels:   channels,
		Captured:   chunk.Captured,
	}
}

// MixDown averages each group of channels interleaved samples into one mono
// sample. Uses int32 arithmetic to prevent overflow. A trailing incomplete
// group is dropped.
func MixDown(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(samples[i*channels+ch])
		}
		out[i] = clamp16(sum / int32(channels))
	}
	return out
}

// Upmix duplicates each mono sample into channels interleaved copies.
func Upmix(mono []int16, channels int) []int16 {
	if channels <= 1 {
		return mono
	}
	out := make([]int16, len(mono)*channels)
	for i, s := range mono {
		for ch := range channels {
			out[i*channels+ch] = s
		}
	}
	return out
}

// ResampleMono resamples mono samples from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]int16, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// resampleInterleaved resamples each channel independently and re-interleaves
// the result.
func resampleInterleaved(samples []int16, channels, srcRate, dstRate int) []int16 {
	frames := len(samples) / channels
	planes := make([][]int16, channels)
	for ch := range channels {
		plane := make([]int16, frames)
		for i := range frames {
			plane[i] = samples[i*channels+ch]
		}
		planes[ch] = ResampleMono(plane, srcRate, dstRate)
	}
	n := len(planes[0])
	out := make([]int16, n*channels)
	for i := range n {
		for ch := range channels {
			out[i*channels+ch] = planes[ch][i]
		}
	}
	return out
}

// BytesToSamples decodes little-endian 16-bit PCM. A trailing odd byte is
// ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func formatString(rate, channels int) string {
	switch channels {
	case 1:
		return fmt.Sprintf("%dHz/mono", rate)
	case 2:
		return fmt.Sprintf("%dHz/stereo", rate)
	default:
		return fmt.Sprintf("%dHz/%dch", rate, channels)
	}
}
