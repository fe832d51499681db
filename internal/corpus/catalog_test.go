package corpus

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/voxcollect/internal/config"
	"github.com/audiolibrelab/voxcollect/internal/session"
)

const cutsetJSONL = `{"id": "utt-1", "supervisions": [{"text": "Call Ada Lovelace.", "custom": {"NE_text": "Ada Lovelace", "NE_id": "Q7259"}}]}
{"id": "utt-2", "supervisions": [{"text": "Fly to Reykjavik.", "custom": {"NE_text": "Reykjavik", "NE_id": 1486}}]}

{"id": "utt-3", "supervisions": [{"text": "Ask Grace Hopper.", "custom": {"NE_text": "Grace Hopper", "NE_id": "Q11641"}}]}
`

func testUtterances(t *testing.T) []Utterance {
	t.Helper()
	utts, err := parseCutset(strings.NewReader(cutsetJSONL))
	require.NoError(t, err)
	return utts
}

func testConfig(t *testing.T) config.CorpusConfig {
	dir := t.TempDir()
	return config.CorpusConfig{
		RecordingsDir: filepath.Join(dir, "recordings"),
		MetadataFile:  filepath.Join(dir, "metadata.json"),
		ActiveFile:    filepath.Join(dir, "active_utterances.txt"),
	}
}

// firstPick makes assignment deterministic
func firstPick(n int) int { return 0 }

func openCatalog(t *testing.T, cfg config.CorpusConfig) *Catalog {
	t.Helper()
	c, err := Open(cfg, testUtterances(t))
	require.NoError(t, err)
	c.pick = firstPick
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func testWAV(t *testing.T, rate int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, rate/2),
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func readActive(t *testing.T, cfg config.CorpusConfig) []string {
	t.Helper()
	data, err := os.ReadFile(cfg.ActiveFile)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Fields(string(data))
}

func TestLoadCutset_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cuts.jsonl.gz")
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(cutsetJSONL))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	utts, err := LoadCutset(path)
	require.NoError(t, err)
	require.Len(t, utts, 3)
	assert.Equal(t, "utt-2", utts[1].ID)
	assert.Equal(t, "Fly to Reykjavik.", utts[1].Text())
	assert.Equal(t, "Reykjavik", utts[1].EntityText())
	assert.Equal(t, float64(1486), utts[1].EntityID())
}

func TestParseCutset_Errors(t *testing.T) {
	_, err := parseCutset(strings.NewReader(`{"id": "a", "supervisions": [{"text": "x"}]}` + "\n{not json}\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = parseCutset(strings.NewReader(`{"supervisions": [{"text": "x"}]}`))
	assert.ErrorContains(t, err, "missing id")
}

func TestPromptAssignsOncePerUser(t *testing.T) {
	cfg := testConfig(t)
	c := openCatalog(t, cfg)

	text, count, err := c.Prompt("alice")
	require.NoError(t, err)
	assert.Equal(t, "Call Ada Lovelace.", text)
	assert.Equal(t, 0, count)

	again, _, err := c.Prompt("alice")
	require.NoError(t, err)
	assert.Equal(t, text, again)

	other, _, err := c.Prompt("bob")
	require.NoError(t, err)
	assert.Equal(t, "Fly to Reykjavik.", other)

	assert.ElementsMatch(t, []string{"utt-1", "utt-2"}, readActive(t, cfg))
	assert.Equal(t, 2, c.Stats().Active)

	_, _, err = c.Prompt("  ")
	assert.ErrorIs(t, err, ErrUserRequired)
}

func TestSkipReleasesAndKeepsCount(t *testing.T) {
	cfg := testConfig(t)
	c := openCatalog(t, cfg)

	first, _, err := c.Prompt("alice")
	require.NoError(t, err)

	second, count, err := c.Skip("alice")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 0, count)
	assert.Equal(t, []string{"utt-2"}, readActive(t, cfg))
}

func TestSkipLastUtteranceComesBack(t *testing.T) {
	cfg := testConfig(t)
	c, err := Open(cfg, testUtterances(t)[:1])
	require.NoError(t, err)

	first, _, err := c.Prompt("alice")
	require.NoError(t, err)
	again, _, err := c.Skip("alice")
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestSaveWritesRecordingAndMetadata(t *testing.T) {
	cfg := testConfig(t)
	c := openCatalog(t, cfg)

	_, _, err := c.Prompt("alice")
	require.NoError(t, err)
	require.NoError(t, c.Save("alice", testWAV(t, 16000), 0, "scottish"))

	_, err = os.Stat(filepath.Join(cfg.RecordingsDir, "utt-1_alice.wav"))
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.MetadataFile)
	require.NoError(t, err)
	var meta map[string]Entry
	require.NoError(t, json.Unmarshal(data, &meta))

	entry, ok := meta["utt-1.wav"]
	require.True(t, ok)
	assert.Equal(t, "Call Ada Lovelace.", entry.SentenceText)
	assert.Equal(t, "Ada Lovelace", entry.EntityText)
	assert.Equal(t, "Q7259", entry.EntityID)
	assert.Equal(t, "utt-1", entry.RecordingID)
	assert.Equal(t, "human", entry.Engine)
	assert.Equal(t, "scottish", entry.Accent)
	assert.Equal(t, "alice", entry.User)
	assert.Equal(t, "2024-05-01T12:00:00Z", entry.RecordedAt)
	assert.Equal(t, 16000, entry.SampleRate)

	text, count, err := c.Prompt("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "Fly to Reykjavik.", text)
	assert.Equal(t, []string{"utt-2"}, readActive(t, cfg))
}

func TestSaveRejectsBadInput(t *testing.T) {
	c := openCatalog(t, testConfig(t))

	assert.ErrorIs(t, c.Save("alice", testWAV(t, 16000), 0, ""), ErrNoCurrentUtterance)

	_, _, err := c.Prompt("alice")
	require.NoError(t, err)
	assert.ErrorIs(t, c.Save("alice", []byte("not a wav file at all, definitely not one"), 0, ""), ErrInvalidAudio)
	assert.ErrorIs(t, c.Save("", testWAV(t, 16000), 0, ""), ErrUserRequired)
	assert.Equal(t, 0, c.Stats().Recorded)
}

func TestExhaustedCorpus(t *testing.T) {
	c := openCatalog(t, testConfig(t))
	wavData := testWAV(t, 16000)

	for i := 0; i < 3; i++ {
		_, _, err := c.Prompt("alice")
		require.NoError(t, err)
		require.NoError(t, c.Save("alice", wavData, 16000, ""))
	}

	text, count, err := c.Prompt("alice")
	require.NoError(t, err)
	assert.Equal(t, NoMoreUtterances, text)
	assert.Equal(t, 3, count)

	assert.ErrorIs(t, c.Save("alice", wavData, 16000, ""), ErrNoCurrentUtterance)
}

func TestReopenRebuildsCountsAndClearsActive(t *testing.T) {
	cfg := testConfig(t)
	c := openCatalog(t, cfg)

	_, _, err := c.Prompt("alice")
	require.NoError(t, err)
	require.NoError(t, c.Save("alice", testWAV(t, 16000), 16000, ""))
	_, _, err = c.Prompt("bob")
	require.NoError(t, err)
	require.NotEmpty(t, readActive(t, cfg))

	stats, err := ReadStats(cfg, testUtterances(t))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Recorded)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, map[string]int{"alice": 1}, stats.Users)

	reopened := openCatalog(t, cfg)
	assert.Empty(t, readActive(t, cfg))

	text, count, err := reopened.Prompt("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NotEqual(t, "Call Ada Lovelace.", text)
}

func TestReleasePromptFreesUtteranceForOthers(t *testing.T) {
	cfg := testConfig(t)
	c, err := Open(cfg, testUtterances(t)[:1])
	require.NoError(t, err)

	first, _, err := c.Prompt("alice")
	require.NoError(t, err)
	assert.Len(t, readActive(t, cfg), 1)

	require.NoError(t, c.ReleasePrompt("alice"))
	assert.Empty(t, readActive(t, cfg))
	require.NoError(t, c.ReleasePrompt("alice"))

	got, _, err := c.Prompt("bob")
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestCatalogAsSessionCollaborators(t *testing.T) {
	var provider session.PromptProvider = openCatalog(t, testConfig(t))
	sink := provider.(session.UploadSink)
	ctx := context.Background()

	p, err := provider.FetchPrompt(ctx, false, "carol")
	require.NoError(t, err)
	assert.Equal(t, "Call Ada Lovelace.", p.Text)

	require.NoError(t, sink.Upload(ctx, testWAV(t, 22050), session.Metadata{UserID: "carol", AccentTag: "welsh"}))

	p, err = provider.FetchPrompt(ctx, true, "carol")
	require.NoError(t, err)
	assert.Equal(t, 1, p.CompletedCount)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "__etc_passwd", safeName("../etc/passwd"))
	assert.Equal(t, "alice", safeName("alice"))
}
