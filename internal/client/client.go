// Package client talks to a voxcollect collection server. It provides the
// prompt provider and upload sink used by the recording client.
package client

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/audiolibrelab/voxcollect/internal/config"
	"github.com/audiolibrelab/voxcollect/internal/session"
)

const userHeader = "X-Username"

type sentenceResponse struct {
	Sentence string `json:"sentence"`
	Count    string `json:"count"`
}

type uploadResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client talks to a collection server's prompt and upload endpoints
type Client struct {
	http *resty.Client
}

// New creates a Client for cfg.ServerURL, using basic auth when a password is set
func New(cfg config.ClientConfig) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.ServerURL, "/")).
		SetHeader("Accept", "application/json")

	if cfg.Timeout > 0 {
		c.SetTimeout(cfg.Timeout)
	}
	if cfg.Password != "" {
		// the server expects the shared password as both user and password
		c.SetBasicAuth(cfg.Password, cfg.Password)
	}

	return &Client{http: c}
}

// FetchPrompt asks the server for the user's current sentence, or a new one when skip is set
func (c *Client) FetchPrompt(ctx context.Context, skip bool, userID string) (session.Prompt, error) {
	var body sentenceResponse
	var apiErr errorResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(userHeader, userID).
		SetQueryParam("skip", strconv.FormatBool(skip)).
		SetResult(&body).
		SetError(&apiErr).
		Get("/get-sentence")
	if err != nil {
		return session.Prompt{}, fmt.Errorf("get-sentence request failed: %w", err)
	}
	if resp.IsError() {
		return session.Prompt{}, responseError(resp.StatusCode(), apiErr.Error)
	}

	count := 0
	if body.Count != "" {
		count, err = strconv.Atoi(body.Count)
		if err != nil {
			return session.Prompt{}, fmt.Errorf("invalid count %q in response: %w", body.Count, err)
		}
	}

	return session.Prompt{Text: body.Sentence, CompletedCount: count}, nil
}

// Upload posts a recording as multipart form data
func (c *Client) Upload(ctx context.Context, audio []byte, meta session.Metadata) error {
	var body uploadResponse
	var apiErr errorResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(userHeader, meta.UserID).
		SetFileReader("audio", "recording.wav", bytes.NewReader(audio)).
		SetFormData(map[string]string{
			"sampleRate": strconv.Itoa(meta.SampleRate),
			"accent":     meta.AccentTag,
		}).
		SetResult(&body).
		SetError(&apiErr).
		Post("/upload-audio")
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	if resp.IsError() {
		return responseError(resp.StatusCode(), apiErr.Error)
	}
	// older servers answer 200 with an error field
	if body.Error != "" {
		return fmt.Errorf("server rejected upload: %s", body.Error)
	}
	return nil
}

// Health checks that the server is reachable
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.IsError() {
		return responseError(resp.StatusCode(), "")
	}
	return nil
}

func responseError(status int, msg string) error {
	if msg == "" {
		return fmt.Errorf("server returned status %d", status)
	}
	return fmt.Errorf("server returned status %d: %s", status, msg)
}
