package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// PipeWire manages PipeWire/JACK port operations through pw-link
type PipeWire struct {
	listPorts func() ([]string, error)
	connect   func(sourcePort, destPort string) error
	pollEvery time.Duration
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{
		listPorts: listJackPorts,
		connect:   connectPorts,
		pollEvery: 100 * time.Millisecond,
	}
}

// ListPorts returns all available JACK ports via PipeWire
func (pw *PipeWire) ListPorts() ([]string, error) {
	return pw.listPorts()
}

func listJackPorts() ([]string, error) {
	output, err := exec.Command("pw-link", "-io").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePorts(string(output)), nil
}

// parsePorts extracts port names from pw-link -io output
func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Input ports:") || strings.HasPrefix(line, "Output ports:") {
			continue
		}
		ports = append(ports, line)
	}
	return ports
}

// validatePortIn checks that portName appears exactly once in ports
func validatePortIn(portName string, ports []string) error {
	matches := 0
	for _, port := range ports {
		if port == portName {
			matches++
		}
	}

	switch {
	case matches == 0:
		return fmt.Errorf("port not found: %s", portName)
	case matches > 1:
		return fmt.Errorf("duplicate sources detected for '%s' (%d ports). Please close conflicting applications", portName, matches)
	}
	return nil
}

// ConnectPortsWithRetry links sourcePort to destPort, waiting for either to appear
func (pw *PipeWire) ConnectPortsWithRetry(sourcePort, destPort string) error {
	maxRetries, retryDelay := 5, 500*time.Millisecond
	if isEphemeralPort(sourcePort) {
		// Browsers and streaming apps may take longer to appear
		maxRetries, retryDelay = 15, time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if lastErr = pw.connect(sourcePort, destPort); lastErr == nil {
			slog.Debug("Connected ports", "source", sourcePort, "dest", destPort, "attempt", attempt)
			return nil
		}
		slog.Debug("Port connection attempt failed", "source", sourcePort, "dest", destPort, "attempt", attempt, "error", lastErr)

		if attempt < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	return fmt.Errorf("failed to connect %s to %s after %d attempts: %w", sourcePort, destPort, maxRetries, lastErr)
}

// WaitForPort polls until portName appears or timeout expires
func (pw *PipeWire) WaitForPort(portName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ports, err := pw.ListPorts(); err == nil && validatePortIn(portName, ports) == nil {
			return nil
		}
		time.Sleep(pw.pollEvery)
	}
	return fmt.Errorf("timeout waiting for JACK port: %s", portName)
}

func connectPorts(sourcePort, destPort string) error {
	output, err := exec.Command("pw-link", sourcePort, destPort).CombinedOutput()
	if err != nil {
		return fmt.Errorf("pw-link failed: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// isEphemeralPort reports whether a port belongs to an application that may come and go
func isEphemeralPort(portName string) bool {
	lowerPort := strings.ToLower(portName)
	for _, app := range []string{"chrome", "firefox", "zoom", "teams", "discord", "obs"} {
		if strings.Contains(lowerPort, app) {
			return true
		}
	}
	return false
}
