package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxcollect.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	return path
}

const profilesConfig = `
active_config: studio

configs:
  default:
    server:
      port: 9000
      password: hunter2
    corpus:
      cutset: /data/cutset.jsonl.gz
      recordings_dir: /data/recordings
    audio:
      backend: alsa
      sample_rate: 48000
      accent: scottish
  studio:
    audio:
      backend: pipewire
      source: "Scarlett 2i2 USB:capture_FL"
    backup:
      bucket: voice-backups
      interval: 5m
  laptop:
    client:
      server_url: https://collect.example.com:7861
      timeout: 10s
`

func TestMergeConfigs_SelectionAndFallback(t *testing.T) {
	base := Default()
	profile := &Config{
		Server: ServerConfig{Port: 8443},
		Audio:  AudioConfig{Backend: "pipewire", Accent: "welsh"},
	}

	result := mergeConfigs(base, profile)

	if result.Server.Port != 8443 {
		t.Errorf("Expected port 8443, got %d", result.Server.Port)
	}
	if result.Server.Address != base.Server.Address {
		t.Errorf("Expected inherited address %s, got %s", base.Server.Address, result.Server.Address)
	}
	if result.Audio.Backend != "pipewire" || result.Audio.Accent != "welsh" {
		t.Errorf("Audio overrides not applied: %+v", result.Audio)
	}
	if result.Audio.SampleRate != 16000 || result.Audio.Source != "default" {
		t.Errorf("Audio defaults not inherited: %+v", result.Audio)
	}
	if base.Server.Port != 7861 {
		t.Errorf("Base config was mutated: port %d", base.Server.Port)
	}
}

func TestMergeConfigs_NilProfile(t *testing.T) {
	base := Default()
	if result := mergeConfigs(base, nil); result != base {
		t.Errorf("Expected base config to be returned unchanged")
	}
}

func TestLoadWithProfile_ActiveProfileInheritsDefault(t *testing.T) {
	configFile := createTempConfig(t, profilesConfig)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// studio-specific values
	if cfg.Audio.Backend != "pipewire" {
		t.Errorf("Expected backend pipewire, got %s", cfg.Audio.Backend)
	}
	if cfg.Audio.Source != "Scarlett 2i2 USB:capture_FL" {
		t.Errorf("Expected studio source, got %s", cfg.Audio.Source)
	}
	if cfg.Backup.Bucket != "voice-backups" || cfg.Backup.Interval != 5*time.Minute {
		t.Errorf("Backup settings not loaded: %+v", cfg.Backup)
	}

	// inherited from the default profile
	if cfg.Server.Port != 9000 || cfg.Server.Password != "hunter2" {
		t.Errorf("Server settings not inherited: %+v", cfg.Server)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.Accent != "scottish" {
		t.Errorf("Audio settings not inherited: %+v", cfg.Audio)
	}
	if cfg.Corpus.RecordingsDir != "/data/recordings" {
		t.Errorf("Expected recordings dir /data/recordings, got %s", cfg.Corpus.RecordingsDir)
	}

	// inherited from the built-in defaults
	if cfg.Corpus.MetadataFile != "metadata.json" {
		t.Errorf("Expected metadata.json, got %s", cfg.Corpus.MetadataFile)
	}
	if cfg.LocalDev() {
		t.Errorf("Expected production mode with password and bucket set")
	}
}

func TestLoadWithProfile_ExplicitProfile(t *testing.T) {
	configFile := createTempConfig(t, profilesConfig)

	cfg, err := LoadWithProfile(configFile, "laptop")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Client.ServerURL != "https://collect.example.com:7861" {
		t.Errorf("Expected laptop server url, got %s", cfg.Client.ServerURL)
	}
	if cfg.Client.Timeout != 10*time.Second {
		t.Errorf("Expected 10s timeout, got %s", cfg.Client.Timeout)
	}
	if cfg.Audio.Backend != "alsa" {
		t.Errorf("Expected backend inherited from default profile, got %s", cfg.Audio.Backend)
	}
	if !cfg.LocalDev() {
		t.Errorf("Expected local dev mode without a backup bucket")
	}
}

func TestLoadWithProfile_UnknownProfile(t *testing.T) {
	configFile := createTempConfig(t, profilesConfig)

	_, err := LoadWithProfile(configFile, "missing")
	if err == nil {
		t.Fatal("Expected error for unknown profile")
	}
	if !strings.Contains(err.Error(), "'missing' not found") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestLoadWithProfile_MissingFileUsesDefaults(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected defaults, got error: %v", err)
	}
	if cfg.Server.Port != 7861 || cfg.Audio.Backend != "pulse" {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}

	if _, err := LoadWithProfile(configFile, "studio"); err == nil {
		t.Error("Expected error when requesting a profile without a config file")
	}
}

func TestLoadWithProfile_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "unknown backend",
			content: `
configs:
  default:
    audio:
      backend: coreaudio
`,
			want: "Backend",
		},
		{
			name: "sample rate too low",
			content: `
configs:
  default:
    audio:
      sample_rate: 4000
`,
			want: "SampleRate",
		},
		{
			name: "tls key without cert",
			content: `
configs:
  default:
    server:
      tls_key: key.pem
`,
			want: "tls_cert and tls_key",
		},
		{
			name: "bad server url",
			content: `
configs:
  default:
    client:
      server_url: not a url
`,
			want: "ServerURL",
		},
		{
			name: "negative backup interval",
			content: `
configs:
  default:
    backup:
      interval: -1s
`,
			want: "Interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := createTempConfig(t, tt.content)
			_, err := LoadWithProfile(configFile, "")
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_ZeroBackupInterval(t *testing.T) {
	cfg := Default()
	cfg.Backup.Interval = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected zero backup interval to be rejected")
	}
	if !strings.Contains(err.Error(), "Interval") {
		t.Errorf("Expected error mentioning Interval, got: %v", err)
	}
}

func TestListProfilesAndUpdateActiveConfig(t *testing.T) {
	configFile := createTempConfig(t, profilesConfig)

	profiles, err := ListProfiles(configFile)
	if err != nil {
		t.Fatalf("ListProfiles failed: %v", err)
	}
	if strings.Join(profiles, ",") != "default,laptop,studio" {
		t.Errorf("Unexpected profiles: %v", profiles)
	}

	if err := UpdateActiveConfig(configFile, "laptop"); err != nil {
		t.Fatalf("UpdateActiveConfig failed: %v", err)
	}
	if active := ActiveProfile(configFile); active != "laptop" {
		t.Errorf("Expected active profile laptop, got %s", active)
	}

	if err := UpdateActiveConfig(configFile, "nope"); err == nil {
		t.Error("Expected error for unknown profile")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/voice/recordings"); got != filepath.Join(home, "voice", "recordings") {
		t.Errorf("Unexpected expansion: %s", got)
	}
	if got := expandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("Absolute path changed: %s", got)
	}
}
