package energy_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/wakecmd/pkg/provider/vad"
	"github.com/MrWong99/wakecmd/pkg/provider/vad/energy"
)

func sine(n int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func TestRMS(t *testing.T) {
	if got := energy.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	full := []int16{-32768, -32768}
	if got := energy.RMS(full); math.Abs(got-1) > 1e-9 {
		t.Errorf("RMS(full scale) = %v, want 1", got)
	}
}

func TestClassifier_SpeechAndSilence(t *testing.T) {
	cls, err := energy.New().NewClassifier(vad.Config{SampleRate: 16000, Aggressiveness: 2})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	tests := []struct {
		name  string
		frame []int16
		want  bool
	}{
		{"loud tone", sine(480, 8000), true},
		{"digital silence", make([]int16, 480), false},
		{"quiet hiss", sine(480, 100), false},
		{"wrong frame length", sine(320, 8000), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cls.IsSpeech(tt.frame, 16000); got != tt.want {
				t.Errorf("IsSpeech = %v, want %v", got, tt.want)
			}
		})
	}
	if cls.IsSpeech(sine(480, 8000), 8000) {
		t.Error("mismatched sample rate should be treated as silence")
	}
}

func TestClassifier_AggressivenessRaisesThreshold(t *testing.T) {
	// Normalised RMS of a 600-amplitude sine is about 0.013.
	frame := sine(480, 600)
	lax, _ := energy.New().NewClassifier(vad.Config{SampleRate: 16000, Aggressiveness: 0})
	strict, _ := energy.New().NewClassifier(vad.Config{SampleRate: 16000, Aggressiveness: 3})
	if !lax.IsSpeech(frame, 16000) {
		t.Error("aggressiveness 0 should accept a moderate frame")
	}
	if strict.IsSpeech(frame, 16000) {
		t.Error("aggressiveness 3 should reject a moderate frame")
	}
}

func TestNewClassifier_RejectsUnsupportedRate(t *testing.T) {
	_, err := energy.New().NewClassifier(vad.Config{SampleRate: 44100})
	if !errors.Is(err, vad.ErrUnsupportedSampleRate) {
		t.Errorf("err = %v, want ErrUnsupportedSampleRate", err)
	}
}

func TestWithThreshold(t *testing.T) {
	cls, _ := energy.New(energy.WithThreshold(0.5)).NewClassifier(vad.Config{SampleRate: 16000})
	if cls.IsSpeech(sine(480, 8000), 16000) {
		t.Error("fixed threshold 0.5 should reject a quarter-scale tone")
	}
}
