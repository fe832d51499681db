package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/voxcollect/internal/config"
	"github.com/audiolibrelab/voxcollect/internal/session"
)

// Device captures microphone audio by running ffmpeg against the configured backend.
// It implements session.CaptureDevice.
type Device struct {
	backend    BackendType
	source     string
	sampleRate int
	pipewire   *PipeWire

	// overridable in tests
	lookPath     func(string) (string, error)
	listSources  func(BackendType) ([]string, error)
	startupGrace time.Duration
	stopTimeout  time.Duration

	mu      sync.Mutex
	capture *capture
}

// capture is one running ffmpeg process
type capture struct {
	cmd    *exec.Cmd
	output string
	stderr *bytes.Buffer
	done   chan error
}

type handle struct {
	backend BackendType
	source  string
}

func (h *handle) Source() string { return string(h.backend) + ":" + h.source }

// NewDevice creates a capture device from the audio configuration
func NewDevice(cfg *config.Config) (*Device, error) {
	backend, err := ParseBackend(cfg.Audio.Backend)
	if err != nil {
		return nil, err
	}

	return &Device{
		backend:      backend,
		source:       cfg.Audio.Source,
		sampleRate:   cfg.Audio.SampleRate,
		pipewire:     NewPipeWire(),
		lookPath:     exec.LookPath,
		listSources:  ListSources,
		startupGrace: 300 * time.Millisecond,
		stopTimeout:  5 * time.Second,
	}, nil
}

// Acquire checks that the capture tools and the configured source are available
func (d *Device) Acquire(ctx context.Context) (session.Handle, error) {
	tools := []string{"ffmpeg"}
	if d.backend == BackendTypePipeWire {
		tools = append(tools, "pw-jack", "pw-link")
	}
	for _, tool := range tools {
		if _, err := d.lookPath(tool); err != nil {
			return nil, fmt.Errorf("%s not found in PATH: %w", tool, err)
		}
	}

	if err := d.checkSource(); err != nil {
		return nil, err
	}

	slog.Info("Capture device ready", "backend", d.backend, "source", d.source, "sample_rate", d.sampleRate)
	return &handle{backend: d.backend, source: d.source}, nil
}

func (d *Device) checkSource() error {
	if d.backend == BackendTypePipeWire {
		if d.source == "" || d.source == "default" {
			return fmt.Errorf("pipewire backend needs an explicit source port (see 'voxcollect sources')")
		}
		ports, err := d.listSources(d.backend)
		if err != nil {
			return err
		}
		return validatePortIn(d.source, ports)
	}

	if d.source == "default" {
		return nil
	}
	sources, err := d.listSources(d.backend)
	if err != nil {
		// listing tools are optional for pulse/alsa, ffmpeg reports bad sources itself
		slog.Debug("Could not list capture sources", "backend", d.backend, "error", err)
		return nil
	}
	if !slices.Contains(sources, d.source) {
		return fmt.Errorf("capture source not found: %s", d.source)
	}
	return nil
}

// StartCapture launches ffmpeg writing to a temporary WAV file
func (d *Device) StartCapture(ctx context.Context, h session.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture != nil {
		return fmt.Errorf("capture already in progress")
	}

	tmp, err := os.CreateTemp("", "voxcollect-*.wav")
	if err != nil {
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	output := tmp.Name()
	tmp.Close()

	args := captureCommand(d.backend, d.source, d.sampleRate, output)
	slog.Debug("Starting ffmpeg capture", "command", strings.Join(args, " "))

	// not bound to ctx: capture outlives the request that started it
	cmd := exec.Command(args[0], args[1:]...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		os.Remove(output)
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	// ffmpeg exits right away when the source is busy or missing
	select {
	case err := <-done:
		os.Remove(output)
		return fmt.Errorf("ffmpeg exited during startup: %v: %s", err, lastLine(stderr.String()))
	case <-time.After(d.startupGrace):
	}

	if d.backend == BackendTypePipeWire {
		go d.linkSource()
	}

	d.capture = &capture{cmd: cmd, output: output, stderr: stderr, done: done}
	return nil
}

// linkSource connects the configured port to ffmpeg's JACK input
func (d *Device) linkSource() {
	dest := jackClientName + ":input_1"
	if err := d.pipewire.WaitForPort(dest, 5*time.Second); err != nil {
		slog.Error("FFmpeg JACK port did not appear", "port", dest, "error", err)
		return
	}
	if err := d.pipewire.ConnectPortsWithRetry(d.source, dest); err != nil {
		slog.Error("Failed to connect capture source", "source", d.source, "dest", dest, "error", err)
		return
	}
	slog.Info("Connected capture source", "source", d.source, "dest", dest)
}

// StopCapture interrupts ffmpeg and finalizes the WAV file asynchronously
func (d *Device) StopCapture(h session.Handle) <-chan session.Finalized {
	result := make(chan session.Finalized, 1)

	d.mu.Lock()
	c := d.capture
	d.capture = nil
	d.mu.Unlock()

	if c == nil {
		result <- session.Finalized{Err: errors.New("no capture in progress")}
		return result
	}

	go func() {
		result <- d.finalize(c)
	}()
	return result
}

func (d *Device) finalize(c *capture) session.Finalized {
	defer os.Remove(c.output)

	if err := d.stopProcess(c); err != nil {
		return session.Finalized{Err: err}
	}

	data, err := os.ReadFile(c.output)
	if err != nil {
		return session.Finalized{Err: fmt.Errorf("failed to read capture file: %w", err)}
	}

	info, err := Inspect(data)
	if err != nil {
		return session.Finalized{Err: fmt.Errorf("capture produced no usable audio: %w (ffmpeg: %s)", err, lastLine(c.stderr.String()))}
	}

	slog.Debug("Capture finalized", "bytes", info.Size, "duration", info.Duration, "sample_rate", info.SampleRate)
	return session.Finalized{Audio: data, SampleRate: info.SampleRate}
}

// stopProcess sends SIGINT so ffmpeg writes the WAV trailer, then force kills after a timeout
func (d *Device) stopProcess(c *capture) error {
	if err := c.cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to interrupt ffmpeg, killing", "error", err)
		c.cmd.Process.Kill()
	}

	select {
	case err := <-c.done:
		if err == nil || interruptedExit(err) {
			return nil
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(c.stderr.String()))
	case <-time.After(d.stopTimeout):
		slog.Warn("ffmpeg did not exit within timeout, force killing")
		c.cmd.Process.Kill()
		<-c.done
		return nil
	}
}

// interruptedExit reports whether err is ffmpeg's normal exit after SIGINT
func interruptedExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if exitErr.ExitCode() == 255 {
		return true
	}
	state := exitErr.ProcessState.String()
	return state == "signal: interrupt" || state == "signal: killed"
}

// Release kills any capture still running
func (d *Device) Release(h session.Handle) error {
	d.mu.Lock()
	c := d.capture
	d.capture = nil
	d.mu.Unlock()

	if c == nil {
		return nil
	}

	c.cmd.Process.Kill()
	<-c.done
	os.Remove(c.output)
	slog.Debug("Capture process killed on release")
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
