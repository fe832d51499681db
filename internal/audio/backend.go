package audio

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePulse    BackendType = "pulse"
	BackendTypeALSA     BackendType = "alsa"
	BackendTypePipeWire BackendType = "pipewire"
)

// jackClientName is the JACK client ffmpeg registers when capturing through PipeWire
const jackClientName = "voxcollect"

// ParseBackend maps a config value to a BackendType
func ParseBackend(name string) (BackendType, error) {
	switch BackendType(strings.ToLower(strings.TrimSpace(name))) {
	case BackendTypePulse, "":
		return BackendTypePulse, nil
	case BackendTypeALSA:
		return BackendTypeALSA, nil
	case BackendTypePipeWire:
		return BackendTypePipeWire, nil
	}
	return "", fmt.Errorf("unsupported audio backend: %s", name)
}

// captureCommand builds the ffmpeg invocation that records one mono 16-bit WAV file
func captureCommand(backend BackendType, source string, sampleRate int, output string) []string {
	var args []string
	switch backend {
	case BackendTypePipeWire:
		// the source port is linked to voxcollect:input_1 once ffmpeg is up
		args = []string{"pw-jack", "ffmpeg", "-hide_banner", "-nostdin", "-f", "jack", "-channels", "1", "-i", jackClientName}
	case BackendTypeALSA:
		args = []string{"ffmpeg", "-hide_banner", "-nostdin", "-f", "alsa", "-i", source}
	default:
		args = []string{"ffmpeg", "-hide_banner", "-nostdin", "-f", "pulse", "-i", source}
	}

	return append(args,
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		"-y",
		output,
	)
}

// ListSources returns the capture sources the backend can record from
func ListSources(backend BackendType) ([]string, error) {
	switch backend {
	case BackendTypePipeWire:
		return NewPipeWire().ListPorts()
	case BackendTypeALSA:
		output, err := exec.Command("arecord", "-L").Output()
		if err != nil {
			return nil, fmt.Errorf("failed to list ALSA devices: %w", err)
		}
		return parseALSADevices(string(output)), nil
	default:
		output, err := exec.Command("pactl", "list", "short", "sources").Output()
		if err != nil {
			return nil, fmt.Errorf("failed to list PulseAudio sources: %w", err)
		}
		return parsePulseSources(string(output)), nil
	}
}

// parsePulseSources extracts source names from `pactl list short sources`
func parsePulseSources(output string) []string {
	var sources []string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			sources = append(sources, fields[1])
		}
	}
	return sources
}

// parseALSADevices extracts device names from `arecord -L`; descriptions are indented
func parseALSADevices(output string) []string {
	var devices []string
	for _, line := range strings.Split(output, "\n") {
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		devices = append(devices, strings.TrimSpace(line))
	}
	return devices
}
