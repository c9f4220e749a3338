package stt_test

import (
	"context"
	"math"
	"testing"

	"github.com/MrWong99/wakecmd/pkg/provider/stt"
)

func TestConfidenceFromLogProb(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 1},
		{0.5, 1},
		{-1, 0.75},
		{-2, 0.5},
		{-4, 0},
		{-9, 0},
	}
	for _, tt := range tests {
		if got := stt.ConfidenceFromLogProb(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ConfidenceFromLogProb(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMeanConfidence(t *testing.T) {
	if got := stt.MeanConfidence(nil); got != nil {
		t.Errorf("MeanConfidence(nil) = %v, want nil", *got)
	}
	got := stt.MeanConfidence([]float64{0, -2})
	if got == nil || math.Abs(*got-0.75) > 1e-9 {
		t.Errorf("MeanConfidence = %v, want 0.75", got)
	}
}

func TestMean(t *testing.T) {
	if stt.Mean(nil) != nil {
		t.Error("Mean(nil) should be nil")
	}
	if got := stt.Mean([]float64{0.5, 1}); *got != 0.75 {
		t.Errorf("Mean = %v, want 0.75", *got)
	}
}

func TestTranscriberFunc(t *testing.T) {
	var gotRate int
	f := stt.TranscriberFunc(func(_ context.Context, _ []int16, sampleRate int) (stt.Result, error) {
		gotRate = sampleRate
		return stt.Result{Text: "ok"}, nil
	})
	res, err := f.Transcribe(context.Background(), nil, 16000)
	if err != nil || res.Text != "ok" || gotRate != 16000 {
		t.Errorf("Transcribe = (%+v, %v), rate %d", res, err, gotRate)
	}
}
