// Package config provides configuration management for snuttify.
// Configuration is read from an optional TOML file, then overridden by
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// Environment variable names
	EnvConfigPath = "SNUTTIFY_CONFIG"
	EnvPort       = "SNUTTIFY_PORT"
	EnvBind       = "SNUTTIFY_BIND"
	EnvAuthToken  = "SNUTTIFY_AUTH_TOKEN"
	EnvWorkers    = "SNUTTIFY_WORKERS"
	EnvLogLevel   = "SNUTTIFY_LOG_LEVEL"
	EnvLibraryDir = "SNUTTIFY_LIBRARY_DIR"
	EnvUploadsDir = "SNUTTIFY_UPLOADS_DIR"
	EnvDataDir    = "SNUTTIFY_DATA_DIR"
	EnvFFmpeg     = "SNUTTIFY_FFMPEG"
	EnvFFprobe    = "SNUTTIFY_FFPROBE"
	EnvOpenAIKey  = "SNUTTIFY_OPENAI_API_KEY"
	EnvOpenAIBase = "SNUTTIFY_OPENAI_BASE_URL"
	EnvModel      = "SNUTTIFY_ANALYSIS_MODEL"

	// EnvOpenAIKeyFallback is the key variable the OpenAI tooling uses.
	EnvOpenAIKeyFallback = "OPENAI_API_KEY"

	// Database filename
	DBFilename = "snuttify.db"
)

// Server holds the HTTP listener and worker pool settings.
type Server struct {
	Bind      string `toml:"bind"`
	Port      int    `toml:"port"`
	AuthToken string `toml:"auth_token"`
	Workers   int    `toml:"workers"`
	QueueSize int    `toml:"queue_size"`
}

// Paths holds the on-disk locations.
type Paths struct {
	LibraryDir string `toml:"library_dir"`
	UploadsDir string `toml:"uploads_dir"`
	DataDir    string `toml:"data_dir"`
}

// Media names the ffmpeg tool binaries.
type Media struct {
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
}

// Cut holds the clip rendering settings.
type Cut struct {
	Width            int    `toml:"width"`
	Height           int    `toml:"height"`
	ForceAspectRatio bool   `toml:"force_aspect_ratio"`
	VideoCodec       string `toml:"video_codec"`
	Preset           string `toml:"preset"`
	CRF              int    `toml:"crf"`
	AudioCodec       string `toml:"audio_codec"`
	AudioBitrate     string `toml:"audio_bitrate"`
}

// OpenAI configures the transcription and analysis capabilities.
type OpenAI struct {
	APIKey             string `toml:"api_key"`
	BaseURL            string `toml:"base_url"`
	TranscriptionModel string `toml:"transcription_model"`
	AnalysisModel      string `toml:"analysis_model"`
	Language           string `toml:"language"`
	SystemPrompt       string `toml:"system_prompt"`
	JSONObjectMode     bool   `toml:"json_object_mode"`
}

// Pipeline holds orchestration settings.
type Pipeline struct {
	// StageTimeoutSeconds bounds each external call; 0 leaves calls unbounded.
	StageTimeoutSeconds int `toml:"stage_timeout_seconds"`
}

// Logging configures the slog handler.
type Logging struct {
	Level string `toml:"level"`
}

// Config is the full application configuration.
type Config struct {
	Server   Server   `toml:"server"`
	Paths    Paths    `toml:"paths"`
	Media    Media    `toml:"media"`
	Cut      Cut      `toml:"cut"`
	OpenAI   OpenAI   `toml:"openai"`
	Pipeline Pipeline `toml:"pipeline"`
	Logging  Logging  `toml:"logging"`
}

// Load locates, parses, and validates a configuration file, then applies
// environment overrides. A missing file is not an error: defaults are used.
// It returns the resolved path and whether that file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = "snuttify.toml"
	}

	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %q is a directory", expanded)
	}
	return expanded, true, nil
}

func (c *Config) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	if w := os.Getenv(EnvWorkers); w != "" {
		workers, err := strconv.Atoi(w)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvWorkers, err)
		}
		c.Server.Workers = workers
	}

	overrides := []struct {
		env    string
		target *string
	}{
		{EnvBind, &c.Server.Bind},
		{EnvAuthToken, &c.Server.AuthToken},
		{EnvLogLevel, &c.Logging.Level},
		{EnvLibraryDir, &c.Paths.LibraryDir},
		{EnvUploadsDir, &c.Paths.UploadsDir},
		{EnvDataDir, &c.Paths.DataDir},
		{EnvFFmpeg, &c.Media.FFmpeg},
		{EnvFFprobe, &c.Media.FFprobe},
		{EnvOpenAIBase, &c.OpenAI.BaseURL},
		{EnvModel, &c.OpenAI.AnalysisModel},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.target = v
		}
	}

	if key := strings.TrimSpace(os.Getenv(EnvOpenAIKey)); key != "" {
		c.OpenAI.APIKey = key
	} else if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = strings.TrimSpace(os.Getenv(EnvOpenAIKeyFallback))
	}
	return nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if c.Paths.UploadsDir, err = expandPath(c.Paths.UploadsDir); err != nil {
		return fmt.Errorf("paths.uploads_dir: %w", err)
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = DefaultBind
	}
	if c.Server.Workers <= 0 {
		c.Server.Workers = DefaultWorkers
	}
	if c.Server.QueueSize <= 0 {
		c.Server.QueueSize = DefaultQueueSize
	}
	if strings.TrimSpace(c.Media.FFmpeg) == "" {
		c.Media.FFmpeg = "ffmpeg"
	}
	if strings.TrimSpace(c.Media.FFprobe) == "" {
		c.Media.FFprobe = "ffprobe"
	}
	c.OpenAI.BaseURL = strings.TrimSpace(c.OpenAI.BaseURL)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	return nil
}

// Validate reports configuration values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Paths.LibraryDir == "" {
		return errors.New("paths.library_dir: must not be empty")
	}
	if c.Paths.UploadsDir == "" {
		return errors.New("paths.uploads_dir: must not be empty")
	}
	if c.Cut.Width <= 0 || c.Cut.Height <= 0 {
		return fmt.Errorf("cut: width and height must be positive, got %dx%d", c.Cut.Width, c.Cut.Height)
	}
	if c.Cut.CRF < 0 || c.Cut.CRF > 51 {
		return fmt.Errorf("cut.crf: must be between 0 and 51, got %d", c.Cut.CRF)
	}
	if c.Pipeline.StageTimeoutSeconds < 0 {
		return errors.New("pipeline.stage_timeout_seconds: must not be negative")
	}
	return nil
}

// DBPath returns the full path to the SQLite database file
func (c *Config) DBPath() string {
	return filepath.Join(c.Paths.DataDir, DBFilename)
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// StageTimeout returns the per-call timeout, zero meaning none.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Pipeline.StageTimeoutSeconds) * time.Second
}

// EnsureDirectories creates the library, uploads and data directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LibraryDir, c.Paths.UploadsDir, c.Paths.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", nil
	}
	if pathValue == "~" || strings.HasPrefix(pathValue, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		pathValue = filepath.Join(home, strings.TrimPrefix(pathValue, "~"))
	}
	return filepath.Clean(pathValue), nil
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
