package corpus

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Utterance is one cutset entry
type Utterance struct {
	ID           string        `json:"id"`
	Supervisions []Supervision `json:"supervisions"`
}

type Supervision struct {
	Text   string `json:"text"`
	Custom struct {
		EntityText string `json:"NE_text"`
		EntityID   any    `json:"NE_id"`
	} `json:"custom"`
}

// Text returns the prompt sentence, or "" when the entry has no supervision
func (u *Utterance) Text() string {
	if len(u.Supervisions) == 0 {
		return ""
	}
	return u.Supervisions[0].Text
}

func (u *Utterance) EntityText() string {
	if len(u.Supervisions) == 0 {
		return ""
	}
	return u.Supervisions[0].Custom.EntityText
}

func (u *Utterance) EntityID() any {
	if len(u.Supervisions) == 0 {
		return nil
	}
	return u.Supervisions[0].Custom.EntityID
}

// LoadCutset reads a JSON-lines cutset, gunzipping it when the name ends in .gz
func LoadCutset(path string) ([]Utterance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cutset: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip cutset %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	utterances, err := parseCutset(r)
	if err != nil {
		return nil, fmt.Errorf("cutset %s: %w", path, err)
	}

	slog.Info("Loaded cutset", "path", path, "utterances", len(utterances))
	return utterances, nil
}

func parseCutset(r io.Reader) ([]Utterance, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var utterances []Utterance
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var u Utterance
		if err := json.Unmarshal([]byte(text), &u); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if u.ID == "" {
			return nil, fmt.Errorf("line %d: missing id", line)
		}
		if u.Text() == "" {
			slog.Warn("Skipping utterance without text", "id", u.ID)
			continue
		}
		utterances = append(utterances, u)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return utterances, nil
}
