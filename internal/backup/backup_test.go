package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/voxcollect/internal/config"
)

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func (f *fakeUploader) UploadWithContext(ctx aws.Context, in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string]string)
	}
	f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)] = string(data)
	return &s3manager.UploadOutput{}, nil
}

func (f *fakeUploader) keys() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.objects))
	for k, v := range f.objects {
		out[k] = v
	}
	return out
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Backup.Bucket = "corpus-bucket"
	cfg.Corpus.RecordingsDir = filepath.Join(dir, "recordings")
	cfg.Corpus.MetadataFile = filepath.Join(dir, "metadata.json")
	cfg.Corpus.ActiveFile = filepath.Join(dir, "active_utterances.txt")

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Corpus.RecordingsDir, "extra"), 0o755))
	require.NoError(t, os.WriteFile(cfg.Corpus.MetadataFile, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Corpus.RecordingsDir, "utt-1_alice.wav"), []byte("wav1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Corpus.RecordingsDir, "extra", "note.txt"), []byte("n"), 0o644))
	return cfg
}

func TestOnce(t *testing.T) {
	cfg := testConfig(t)
	up := &fakeUploader{}
	b := New(up, cfg)

	var reported int
	b.OnPass = func(files int, err error) { reported = files }

	n, err := b.Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, reported)

	assert.Equal(t, map[string]string{
		"corpus-bucket/labelled_audio_v2/metadata.json":              "{}",
		"corpus-bucket/labelled_audio_v2/recordings/utt-1_alice.wav": "wav1",
		"corpus-bucket/labelled_audio_v2/recordings/extra/note.txt":  "n",
	}, up.keys())
}

func TestOnceUploadError(t *testing.T) {
	up := &fakeUploader{err: errors.New("access denied")}
	b := New(up, testConfig(t))

	var passErr error
	b.OnPass = func(files int, err error) { passErr = err }

	_, err := b.Once(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "access denied")
	assert.Equal(t, err, passErr)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup.Interval = 10 * time.Millisecond
	up := &fakeUploader{}
	b := New(up, cfg)

	passes := make(chan struct{}, 16)
	b.OnPass = func(int, error) {
		select {
		case passes <- struct{}{}:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	<-passes
	<-passes
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunRejectsNonPositiveInterval(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup.Interval = 0
	up := &fakeUploader{}

	err := New(up, cfg).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval must be positive")
	assert.Empty(t, up.keys())
}

func TestNewS3RequiresBucket(t *testing.T) {
	cfg := config.Default()
	_, err := NewS3(cfg)
	assert.Error(t, err)
}
