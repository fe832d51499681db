package audio

import (
	"strings"
	"testing"
)

func TestParseBackend(t *testing.T) {
	tests := map[string]BackendType{
		"":          BackendTypePulse,
		"pulse":     BackendTypePulse,
		"ALSA":      BackendTypeALSA,
		" pipewire": BackendTypePipeWire,
	}
	for input, want := range tests {
		got, err := ParseBackend(input)
		if err != nil {
			t.Errorf("ParseBackend(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Errorf("ParseBackend(%q) = %s, want %s", input, got, want)
		}
	}

	if _, err := ParseBackend("coreaudio"); err == nil {
		t.Error("Expected error for unsupported backend")
	}
}

func TestCaptureCommand(t *testing.T) {
	args := captureCommand(BackendTypePulse, "default", 16000, "/tmp/out.wav")
	cmdline := strings.Join(args, " ")

	if args[0] != "ffmpeg" {
		t.Errorf("Expected ffmpeg, got %s", args[0])
	}
	if !strings.Contains(cmdline, "-f pulse -i default") {
		t.Errorf("Missing pulse input: %s", cmdline)
	}
	if !strings.Contains(cmdline, "-ac 1 -ar 16000 -c:a pcm_s16le") {
		t.Errorf("Missing output format: %s", cmdline)
	}
	if args[len(args)-1] != "/tmp/out.wav" {
		t.Errorf("Expected output path last, got %s", args[len(args)-1])
	}
}

func TestCaptureCommand_PipeWire(t *testing.T) {
	args := captureCommand(BackendTypePipeWire, "alsa_input.usb:capture_FL", 48000, "out.wav")
	cmdline := strings.Join(args, " ")

	if args[0] != "pw-jack" || args[1] != "ffmpeg" {
		t.Errorf("Expected pw-jack ffmpeg, got %v", args[:2])
	}
	if !strings.Contains(cmdline, "-f jack -channels 1 -i voxcollect") {
		t.Errorf("Missing jack input: %s", cmdline)
	}
	if strings.Contains(cmdline, "alsa_input.usb") {
		t.Errorf("Source port should be linked, not passed to ffmpeg: %s", cmdline)
	}
}

func TestCaptureCommand_ALSA(t *testing.T) {
	args := captureCommand(BackendTypeALSA, "hw:1,0", 44100, "out.wav")
	if !strings.Contains(strings.Join(args, " "), "-f alsa -i hw:1,0") {
		t.Errorf("Missing alsa input: %v", args)
	}
}

func TestParsePulseSources(t *testing.T) {
	output := "0\talsa_output.pci.monitor\tmodule-alsa-card.c\ts16le 2ch 44100Hz\tSUSPENDED\n" +
		"1\talsa_input.usb-Blue_Yeti.analog-stereo\tmodule-alsa-card.c\ts16le 2ch 48000Hz\tRUNNING\n"
	sources := parsePulseSources(output)
	if len(sources) != 2 || sources[1] != "alsa_input.usb-Blue_Yeti.analog-stereo" {
		t.Errorf("Unexpected sources: %v", sources)
	}
}

func TestParseALSADevices(t *testing.T) {
	output := "null\n    Discard all samples\ndefault\n    Default Audio Device\nhw:CARD=Yeti,DEV=0\n    Yeti Stereo Microphone\n"
	devices := parseALSADevices(output)
	if strings.Join(devices, ",") != "null,default,hw:CARD=Yeti,DEV=0" {
		t.Errorf("Unexpected devices: %v", devices)
	}
}
