package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// RootConfig is the on-disk layout: named profiles plus the active one
type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Corpus  CorpusConfig  `mapstructure:"corpus" yaml:"corpus"`
	Backup  BackupConfig  `mapstructure:"backup" yaml:"backup"`
	Client  ClientConfig  `mapstructure:"client" yaml:"client"`
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Address  string `mapstructure:"address" yaml:"address"`
	Port     int    `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	Password string `mapstructure:"password" yaml:"password,omitempty"` // empty means local dev mode
	TLSCert  string `mapstructure:"tls_cert" yaml:"tls_cert,omitempty"`
	TLSKey   string `mapstructure:"tls_key" yaml:"tls_key,omitempty"`
}

type CorpusConfig struct {
	Cutset        string `mapstructure:"cutset" yaml:"cutset"`
	RecordingsDir string `mapstructure:"recordings_dir" yaml:"recordings_dir" validate:"required"`
	MetadataFile  string `mapstructure:"metadata_file" yaml:"metadata_file" validate:"required"`
	ActiveFile    string `mapstructure:"active_file" yaml:"active_file" validate:"required"`
}

type BackupConfig struct {
	Bucket   string        `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Region   string        `mapstructure:"region" yaml:"region"`
	Prefix   string        `mapstructure:"prefix" yaml:"prefix"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`
}

type ClientConfig struct {
	ServerURL    string        `mapstructure:"server_url" yaml:"server_url" validate:"required,url"`
	Password     string        `mapstructure:"password" yaml:"password,omitempty"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=0"`
	IdentityFile string        `mapstructure:"identity_file" yaml:"identity_file" validate:"required"`
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend" validate:"oneof=pulse alsa pipewire"`
	Source     string `mapstructure:"source" yaml:"source"` // "default" or a backend-specific device/port name
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate" validate:"min=8000,max=192000"`
	Accent     string `mapstructure:"accent" yaml:"accent"`
	Player     string `mapstructure:"player" yaml:"player,omitempty"`
}

type LoggingConfig struct {
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"min=0"`
}

// Default returns the built-in configuration
func Default() *Config {
	home := os.Getenv("HOME")
	return &Config{
		Server: ServerConfig{
			Address: "0.0.0.0",
			Port:    7861,
		},
		Corpus: CorpusConfig{
			RecordingsDir: "recordings",
			MetadataFile:  "metadata.json",
			ActiveFile:    "active_utterances.txt",
		},
		Backup: BackupConfig{
			Region:   "us-east-1",
			Prefix:   "labelled_audio_v2",
			Interval: 180 * time.Second,
		},
		Client: ClientConfig{
			ServerURL:    "http://localhost:7861",
			Timeout:      30 * time.Second,
			IdentityFile: filepath.Join(home, ".config", "voxcollect", "identity.yaml"),
		},
		Audio: AudioConfig{
			Backend:    "pulse",
			Source:     "default",
			SampleRate: 16000,
		},
		Logging: LoggingConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// LocalDev reports whether the server runs without password and backup
func (c *Config) LocalDev() bool {
	return c.Server.Password == "" || c.Backup.Bucket == ""
}

// LoadWithProfile loads configFile and resolves profile (or the active one).
// A missing file yields the built-in defaults.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		if profile != "" && profile != "default" {
			return nil, fmt.Errorf("configuration profile '%s' not found: %s does not exist", profile, configFile)
		}
		slog.Debug("Config file not found, using defaults", "path", configFile)
		return finalize(Default())
	}

	rootConfig, err := readRootConfig(configFile)
	if err != nil {
		return nil, err
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists {
		if configName == "default" && len(rootConfig.Configs) == 0 {
			return finalize(Default())
		}
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Profiles inherit from "default", which itself inherits from the built-in defaults
	merged := Default()
	if base, ok := rootConfig.Configs["default"]; ok && configName != "default" {
		merged = mergeConfigs(merged, base)
	}
	merged = mergeConfigs(merged, selected)

	return finalize(merged)
}

// ListProfiles returns the profile names defined in configFile, sorted
func ListProfiles(configFile string) ([]string, error) {
	rootConfig, err := readRootConfig(configFile)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(rootConfig.Configs))
	for name := range rootConfig.Configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ActiveProfile returns the active_config value of configFile, or "default"
func ActiveProfile(configFile string) string {
	rootConfig, err := readRootConfig(configFile)
	if err != nil || rootConfig.ActiveConfig == "" {
		return "default"
	}
	return rootConfig.ActiveConfig
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	profiles, err := ListProfiles(configFile)
	if err != nil {
		return err
	}
	idx := sort.SearchStrings(profiles, newActiveConfig)
	if idx == len(profiles) || profiles[idx] != newActiveConfig {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	// Use a dedicated viper instance so the write does not pick up env overrides
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

func readRootConfig(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	// Allow environment variable overrides (VOXCOLLECT_ACTIVE_CONFIG, ...)
	v.SetEnvPrefix("VOXCOLLECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", configFile, err)
	}
	if active := v.GetString("active_config"); active != "" {
		rootConfig.ActiveConfig = active
	}

	return &rootConfig, nil
}

// pick returns override unless it is the zero value
func pick[T comparable](base, override T) T {
	var zero T
	if override == zero {
		return base
	}
	return override
}

// mergeConfigs overlays the non-zero fields of profile onto base
func mergeConfigs(base, profile *Config) *Config {
	if profile == nil {
		return base
	}

	merged := *base

	merged.Server.Address = pick(base.Server.Address, profile.Server.Address)
	merged.Server.Port = pick(base.Server.Port, profile.Server.Port)
	merged.Server.Password = pick(base.Server.Password, profile.Server.Password)
	merged.Server.TLSCert = pick(base.Server.TLSCert, profile.Server.TLSCert)
	merged.Server.TLSKey = pick(base.Server.TLSKey, profile.Server.TLSKey)

	merged.Corpus.Cutset = pick(base.Corpus.Cutset, profile.Corpus.Cutset)
	merged.Corpus.RecordingsDir = pick(base.Corpus.RecordingsDir, profile.Corpus.RecordingsDir)
	merged.Corpus.MetadataFile = pick(base.Corpus.MetadataFile, profile.Corpus.MetadataFile)
	merged.Corpus.ActiveFile = pick(base.Corpus.ActiveFile, profile.Corpus.ActiveFile)

	merged.Backup.Bucket = pick(base.Backup.Bucket, profile.Backup.Bucket)
	merged.Backup.Region = pick(base.Backup.Region, profile.Backup.Region)
	merged.Backup.Prefix = pick(base.Backup.Prefix, profile.Backup.Prefix)
	merged.Backup.Interval = pick(base.Backup.Interval, profile.Backup.Interval)

	merged.Client.ServerURL = pick(base.Client.ServerURL, profile.Client.ServerURL)
	merged.Client.Password = pick(base.Client.Password, profile.Client.Password)
	merged.Client.Timeout = pick(base.Client.Timeout, profile.Client.Timeout)
	merged.Client.IdentityFile = pick(base.Client.IdentityFile, profile.Client.IdentityFile)

	merged.Audio.Backend = pick(base.Audio.Backend, profile.Audio.Backend)
	merged.Audio.Source = pick(base.Audio.Source, profile.Audio.Source)
	merged.Audio.SampleRate = pick(base.Audio.SampleRate, profile.Audio.SampleRate)
	merged.Audio.Accent = pick(base.Audio.Accent, profile.Audio.Accent)
	merged.Audio.Player = pick(base.Audio.Player, profile.Audio.Player)

	merged.Logging.File = pick(base.Logging.File, profile.Logging.File)
	merged.Logging.MaxSizeMB = pick(base.Logging.MaxSizeMB, profile.Logging.MaxSizeMB)
	merged.Logging.MaxBackups = pick(base.Logging.MaxBackups, profile.Logging.MaxBackups)

	return &merged
}

func finalize(cfg *Config) (*Config, error) {
	cfg.Corpus.Cutset = expandPath(cfg.Corpus.Cutset)
	cfg.Corpus.RecordingsDir = expandPath(cfg.Corpus.RecordingsDir)
	cfg.Corpus.MetadataFile = expandPath(cfg.Corpus.MetadataFile)
	cfg.Corpus.ActiveFile = expandPath(cfg.Corpus.ActiveFile)
	cfg.Client.IdentityFile = expandPath(cfg.Client.IdentityFile)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.Audio.Backend = strings.ToLower(cfg.Audio.Backend)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed '%s' check (value: %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		return fmt.Errorf("server: tls_cert and tls_key must be set together")
	}
	if cfg.Audio.Source == "" {
		return fmt.Errorf("audio: source is required (use \"default\" for the system default)")
	}
	return nil
}

// expandPath expands a leading ~ to the user's home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
