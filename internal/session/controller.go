package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Option configures a Controller
type Option func(*Controller)

// WithIdentity enables logged-in/logged-out mode backed by store
func WithIdentity(store IdentityStore) Option {
	return func(c *Controller) { c.identity = store }
}

// WithNotifier sets where user-facing errors are reported
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithAccent sets the accent tag used when Submit receives none
func WithAccent(accent string) Option {
	return func(c *Controller) { c.accent = accent }
}

// WithUser sets the user identifier used when no identity store is configured
func WithUser(userID string) Option {
	return func(c *Controller) { c.userID = strings.TrimSpace(userID) }
}

// Controller drives a single recording session through
// IDLE -> CAPTURING -> PREVIEWING -> SUBMITTING -> IDLE.
//
// Triggers are serialized by op. A trigger arriving while another one is in
// flight is dropped, so repeated clicks never finalize or upload twice.
type Controller struct {
	device   CaptureDevice
	prompts  PromptProvider
	sink     UploadSink
	identity IdentityStore
	notifier Notifier
	accent   string

	op sync.Mutex

	mu        sync.RWMutex
	state     State
	handle    Handle
	buffered  *Recording
	prompt    Prompt
	userID    string
	lastError string

	observers []func(from, to State)
}

// New creates a controller in the IDLE state
func New(device CaptureDevice, prompts PromptProvider, sink UploadSink, opts ...Option) *Controller {
	c := &Controller{
		device:   device,
		prompts:  prompts,
		sink:     sink,
		notifier: logNotifier{},
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnTransition registers fn to be called after every state change
func (c *Controller) OnTransition(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Init loads the stored identity and fetches the first prompt
func (c *Controller) Init(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	if c.identity != nil {
		userID, err := c.identity.Load()
		if err != nil {
			return fmt.Errorf("failed to load identity: %w", err)
		}
		c.mu.Lock()
		c.userID = strings.TrimSpace(userID)
		c.mu.Unlock()
	}

	c.fetchPrompt(ctx, false)
	return nil
}

// Login stores userID and fetches a prompt for it
func (c *Controller) Login(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	c.op.Lock()
	defer c.op.Unlock()

	if c.identity != nil {
		if err := c.identity.Save(userID); err != nil {
			return fmt.Errorf("failed to save identity: %w", err)
		}
	}

	c.mu.Lock()
	previous := c.userID
	c.userID = userID
	c.mu.Unlock()

	if previous != userID {
		c.releasePrompt(previous)
	}
	slog.Info("User logged in", "user", userID)
	c.fetchPrompt(ctx, false)
	return nil
}

// Logout resets the session and forgets the stored identity
func (c *Controller) Logout() error {
	c.op.Lock()
	defer c.op.Unlock()

	c.resetLocked()

	if c.identity != nil {
		if err := c.identity.Clear(); err != nil {
			return fmt.Errorf("failed to clear identity: %w", err)
		}
	}

	c.mu.Lock()
	previous := c.userID
	c.userID = ""
	c.prompt = Prompt{}
	c.mu.Unlock()

	c.releasePrompt(previous)
	slog.Info("User logged out")
	return nil
}

// releasePrompt hands the user's reserved prompt back to the provider
func (c *Controller) releasePrompt(userID string) {
	r, ok := c.prompts.(PromptReleaser)
	if !ok || userID == "" {
		return
	}
	if err := r.ReleasePrompt(userID); err != nil {
		slog.Warn("Failed to release prompt", "user", userID, "error", err)
	}
}

// Start begins capturing from IDLE. Calls from any other state are ignored.
func (c *Controller) Start(ctx context.Context) error {
	if !c.op.TryLock() {
		slog.Debug("Start ignored, another operation is in progress")
		return nil
	}
	defer c.op.Unlock()

	if c.State() != StateIdle {
		slog.Debug("Start ignored", "state", c.State())
		return nil
	}

	handle, err := c.acquire(ctx)
	if err != nil {
		return c.report(err)
	}

	if err := c.device.StartCapture(ctx, handle); err != nil {
		return c.report(fmt.Errorf("%w: %v", ErrCaptureUnavailable, err))
	}

	c.transition(StateCapturing, nil)
	slog.Info("Capture started", "source", handle.Source())
	return nil
}

// acquire returns the existing handle or acquires a new one
func (c *Controller) acquire(ctx context.Context) (Handle, error) {
	c.mu.RLock()
	handle := c.handle
	c.mu.RUnlock()
	if handle != nil {
		return handle, nil
	}

	handle, err := c.device.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	if handle == nil {
		return nil, ErrCaptureUnavailable
	}

	c.mu.Lock()
	c.handle = handle
	c.mu.Unlock()
	slog.Debug("Capture device acquired", "source", handle.Source())
	return handle, nil
}

// Stop ends capture and waits for the recording to be finalized.
// Calls outside CAPTURING are ignored.
func (c *Controller) Stop(ctx context.Context) error {
	if !c.op.TryLock() {
		slog.Debug("Stop ignored, another operation is in progress")
		return nil
	}
	defer c.op.Unlock()

	if c.State() != StateCapturing {
		slog.Debug("Stop ignored", "state", c.State())
		return nil
	}

	c.mu.RLock()
	handle := c.handle
	c.mu.RUnlock()

	var result Finalized
	select {
	case result = <-c.device.StopCapture(handle):
	case <-ctx.Done():
		c.transition(StateIdle, nil)
		return c.report(fmt.Errorf("recording finalization interrupted: %w", ctx.Err()))
	}

	if result.Err == nil && len(result.Audio) == 0 {
		result.Err = fmt.Errorf("recording is empty")
	}
	if result.Err != nil {
		c.transition(StateIdle, nil)
		return c.report(fmt.Errorf("failed to finalize recording: %w", result.Err))
	}

	rec := &Recording{
		ID:         uuid.NewString(),
		Audio:      result.Audio,
		SampleRate: result.SampleRate,
		CreatedAt:  time.Now(),
	}
	c.transition(StatePreviewing, rec)
	slog.Info("Recording ready for preview", "recording_id", rec.ID, "bytes", len(rec.Audio))
	return nil
}

// Submit uploads the buffered recording from PREVIEWING.
// Without a buffered recording or a user identifier it does nothing.
func (c *Controller) Submit(ctx context.Context, meta Metadata) error {
	if !c.op.TryLock() {
		slog.Debug("Submit ignored, another operation is in progress")
		return nil
	}
	defer c.op.Unlock()

	c.mu.RLock()
	state, rec, userID := c.state, c.buffered, c.userID
	c.mu.RUnlock()

	if state != StatePreviewing || rec == nil || len(rec.Audio) == 0 {
		slog.Debug("Submit ignored, nothing to upload", "state", state)
		return nil
	}

	if strings.TrimSpace(meta.UserID) == "" || c.identity != nil {
		meta.UserID = userID
	}
	if meta.UserID == "" {
		slog.Debug("Submit ignored, no user logged in")
		return nil
	}
	if meta.SampleRate == 0 {
		meta.SampleRate = rec.SampleRate
	}
	if meta.AccentTag == "" {
		meta.AccentTag = c.accent
	}

	c.transition(StateSubmitting, rec)
	slog.Info("Uploading recording", "recording_id", rec.ID, "user", meta.UserID, "accent", meta.AccentTag)

	if err := c.sink.Upload(ctx, rec.Audio, meta); err != nil {
		c.transition(StatePreviewing, rec)
		return c.report(fmt.Errorf("%w: %v", ErrUploadFailed, err))
	}

	c.transition(StateIdle, nil)
	c.clearError()
	c.fetchPrompt(ctx, false)
	return nil
}

// Cancel discards the buffered recording from PREVIEWING
func (c *Controller) Cancel() error {
	if !c.op.TryLock() {
		slog.Debug("Cancel ignored, another operation is in progress")
		return nil
	}
	defer c.op.Unlock()

	if c.State() != StatePreviewing {
		slog.Debug("Cancel ignored", "state", c.State())
		return nil
	}

	c.transition(StateIdle, nil)
	slog.Info("Recording discarded")
	return nil
}

// Skip replaces the current prompt. Only allowed while IDLE.
func (c *Controller) Skip(ctx context.Context) error {
	if !c.op.TryLock() {
		slog.Debug("Skip ignored, another operation is in progress")
		return nil
	}
	defer c.op.Unlock()

	if c.State() != StateIdle {
		slog.Debug("Skip ignored", "state", c.State())
		return nil
	}

	c.fetchPrompt(ctx, true)
	return nil
}

// Reset forces the session back to IDLE from any state.
// The capture handle is kept for reuse.
func (c *Controller) Reset() {
	c.op.Lock()
	defer c.op.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.mu.RLock()
	state, handle := c.state, c.handle
	c.mu.RUnlock()

	if state == StateCapturing && handle != nil {
		// drain the finalization so the device is free for the next cycle
		if result := <-c.device.StopCapture(handle); result.Err != nil {
			slog.Debug("Discarded capture finished with error", "error", result.Err)
		}
	}
	if state != StateIdle {
		c.transition(StateIdle, nil)
	}
}

// Close resets the session and releases the capture device
func (c *Controller) Close() error {
	c.op.Lock()
	defer c.op.Unlock()

	c.resetLocked()

	c.mu.Lock()
	handle := c.handle
	c.handle = nil
	c.mu.Unlock()

	if handle == nil {
		return nil
	}
	if err := c.device.Release(handle); err != nil {
		return fmt.Errorf("failed to release capture device: %w", err)
	}
	slog.Debug("Capture device released", "source", handle.Source())
	return nil
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Preview returns the buffered recording, if any
func (c *Controller) Preview() (Recording, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.buffered == nil {
		return Recording{}, false
	}
	return *c.buffered, true
}

// Snapshot returns a copy of the session state for display
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		State:     c.state,
		Prompt:    c.prompt,
		UserID:    c.userID,
		LoggedIn:  c.active(),
		HasDevice: c.handle != nil,
		LastError: c.lastError,
	}
	if c.buffered != nil {
		snap.RecordingID = c.buffered.ID
	}
	return snap
}

// active reports whether prompt fetching and upload are enabled. Callers hold mu.
func (c *Controller) active() bool {
	return c.identity == nil || c.userID != ""
}

// fetchPrompt replaces the current prompt. Failures fall back to placeholder text.
func (c *Controller) fetchPrompt(ctx context.Context, skip bool) {
	c.mu.RLock()
	userID, active := c.userID, c.active()
	c.mu.RUnlock()

	if !active {
		slog.Debug("Prompt fetch skipped, no user logged in")
		return
	}

	prompt, err := c.prompts.FetchPrompt(ctx, skip, userID)
	if err != nil {
		c.mu.Lock()
		c.prompt.Text = PromptFallbackText
		c.mu.Unlock()
		c.report(fmt.Errorf("%w: %v", ErrPromptFetchFailed, err))
		return
	}

	c.mu.Lock()
	c.prompt = prompt
	c.mu.Unlock()
	slog.Debug("Prompt updated", "skip", skip, "completed", prompt.CompletedCount)
}

// transition moves to state to, storing rec as the buffered recording.
// rec must be nil for IDLE and CAPTURING.
func (c *Controller) transition(to State, rec *Recording) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.buffered = rec
	observers := make([]func(from, to State), len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	slog.Debug("Session state changed", "from", from, "to", to)
	for _, fn := range observers {
		fn(from, to)
	}
}

func (c *Controller) report(err error) error {
	slog.Error("Recording session error", "error", err)
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
	c.notifier.Notify(err)
	return err
}

func (c *Controller) clearError() {
	c.mu.Lock()
	c.lastError = ""
	c.mu.Unlock()
}
