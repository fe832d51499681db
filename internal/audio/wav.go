package audio

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// WAVInfo describes a finalized recording
type WAVInfo struct {
	SampleRate    int           `json:"sample_rate"`
	Channels      int           `json:"channels"`
	BitsPerSample int           `json:"bits_per_sample"`
	Duration      time.Duration `json:"duration"`
	Size          int           `json:"size_bytes"`
}

// Inspect validates data as a PCM WAV file and returns its format
func Inspect(data []byte) (*WAVInfo, error) {
	if len(data) < 44 {
		return nil, fmt.Errorf("WAV data too short: need at least 44 bytes, got %d", len(data))
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}

	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("failed to locate PCM data: %w", err)
	}

	bytesPerSecond := int(dec.SampleRate) * int(dec.NumChans) * int(dec.BitDepth) / 8
	if bytesPerSecond == 0 {
		return nil, fmt.Errorf("invalid WAV format: zero byte rate")
	}
	duration := time.Duration(float64(dec.PCMSize) / float64(bytesPerSecond) * float64(time.Second))

	return &WAVInfo{
		SampleRate:    int(dec.SampleRate),
		Channels:      int(dec.NumChans),
		BitsPerSample: int(dec.BitDepth),
		Duration:      duration,
		Size:          len(data),
	}, nil
}

// InspectFile reads path and inspects it as WAV
func InspectFile(path string) (*WAVInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Inspect(data)
}
