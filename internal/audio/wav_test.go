package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// sineWAV writes a mono 16-bit sine wave and returns the file contents
func sineWAV(t *testing.T, sampleRate int, duration time.Duration) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	n := int(float64(sampleRate) * duration.Seconds())
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, n),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = int(16383 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

func TestInspect(t *testing.T) {
	data := sineWAV(t, 16000, 1500*time.Millisecond)

	info, err := Inspect(data)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if info.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", info.SampleRate)
	}
	if info.Channels != 1 || info.BitsPerSample != 16 {
		t.Errorf("Unexpected format: %+v", info)
	}
	if diff := info.Duration - 1500*time.Millisecond; diff > 5*time.Millisecond || diff < -5*time.Millisecond {
		t.Errorf("Expected ~1.5s duration, got %s", info.Duration)
	}
	if info.Size != len(data) {
		t.Errorf("Expected size %d, got %d", len(data), info.Size)
	}
}

func TestInspect_RejectsGarbage(t *testing.T) {
	if _, err := Inspect([]byte("RIFF")); err == nil {
		t.Error("Expected error for short data")
	}

	garbage := make([]byte, 128)
	copy(garbage, "this is not a wav file at all")
	if _, err := Inspect(garbage); err == nil {
		t.Error("Expected error for invalid data")
	}
}

func TestInspectFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take.wav")
	if err := os.WriteFile(path, sineWAV(t, 22050, time.Second), 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := InspectFile(path)
	if err != nil {
		t.Fatalf("InspectFile failed: %v", err)
	}
	if info.SampleRate != 22050 {
		t.Errorf("Expected sample rate 22050, got %d", info.SampleRate)
	}

	if _, err := InspectFile(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing file")
	}
}
