package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// State represents the current state of a recording session
type State string

const (
	StateIdle       State = "IDLE"
	StateCapturing  State = "CAPTURING"
	StatePreviewing State = "PREVIEWING"
	StateSubmitting State = "SUBMITTING"
)

// PromptFallbackText is shown when a prompt cannot be fetched
const PromptFallbackText = "Error loading sentence"

var (
	// ErrCaptureUnavailable is returned when the capture device is denied or absent
	ErrCaptureUnavailable = errors.New("capture device unavailable")
	// ErrPromptFetchFailed is reported when the prompt provider fails
	ErrPromptFetchFailed = errors.New("prompt fetch failed")
	// ErrUploadFailed is returned when the upload sink rejects a recording
	ErrUploadFailed = errors.New("upload failed")
)

// Prompt is the sentence the user is asked to read aloud
type Prompt struct {
	Text           string `json:"text"`
	CompletedCount int    `json:"completed_count"`
}

// Metadata accompanies an uploaded recording
type Metadata struct {
	SampleRate int    `json:"sample_rate"`
	AccentTag  string `json:"accent"`
	UserID     string `json:"user"`
}

// Recording is a finalized, encoded capture awaiting submission or discard
type Recording struct {
	ID         string    `json:"id"`
	Audio      []byte    `json:"-"`
	SampleRate int       `json:"sample_rate"`
	CreatedAt  time.Time `json:"created_at"`
}

// Handle is an acquired capture device
type Handle interface {
	Source() string
}

// Finalized is the result of an asynchronous capture finalization
type Finalized struct {
	Audio      []byte
	SampleRate int
	Err        error
}

// CaptureDevice is the microphone input abstraction
type CaptureDevice interface {
	Acquire(ctx context.Context) (Handle, error)
	StartCapture(ctx context.Context, h Handle) error
	// StopCapture ends capture and returns a channel that receives exactly one result
	StopCapture(h Handle) <-chan Finalized
	Release(h Handle) error
}

// PromptProvider delivers prompt sentences
type PromptProvider interface {
	FetchPrompt(ctx context.Context, skipCurrent bool, userID string) (Prompt, error)
}

// PromptReleaser is implemented by providers that reserve a prompt for each user
type PromptReleaser interface {
	ReleasePrompt(userID string) error
}

// UploadSink accepts finished recordings
type UploadSink interface {
	Upload(ctx context.Context, audio []byte, meta Metadata) error
}

// IdentityStore persists the user identifier across sessions
type IdentityStore interface {
	Load() (string, error)
	Save(userID string) error
	Clear() error
}

// Notifier surfaces errors to the user
type Notifier interface {
	Notify(err error)
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(err error)

// Notify calls f(err)
func (f NotifierFunc) Notify(err error) { f(err) }

type logNotifier struct{}

func (logNotifier) Notify(err error) {
	slog.Warn("Recording session notice", "error", err)
}

// Snapshot is a read-only view of the session
type Snapshot struct {
	State       State  `json:"state"`
	Prompt      Prompt `json:"prompt"`
	UserID      string `json:"user,omitempty"`
	LoggedIn    bool   `json:"logged_in"`
	HasDevice   bool   `json:"has_device"`
	RecordingID string `json:"recording_id,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}
