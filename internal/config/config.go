package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Extraction modes.
const (
	ModeDirect = "direct" // call Gemini from this process
	ModeRemote = "remote" // proxy to another koredoko/Flask backend
)

// Map URL modes.
const (
	MapURLModel = "model"
	MapURLLocal = "local"
)

// Storage drivers.
const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageS3    = "s3"
)

// AppConfig holds infrastructure config from standard env vars
type AppConfig struct {
	ConfigPath       string // Path to the YAML settings file
	DBPath           string
	GeminiAPIKey     string
	BackendURL       string
	Port             string
	LogLevel         string
	LogFormat        string
	StorageAccessKey string
	StorageSecretKey string
}

// Settings holds the tunable behaviour of the service (from YAML)
type Settings struct {
	Server     ServerSettings     `yaml:"server"`
	Extraction ExtractionSettings `yaml:"extraction"`
	Model      ModelSettings      `yaml:"model"`
	MapURL     MapURLSettings     `yaml:"map_url"`
	Storage    StorageSettings    `yaml:"storage"`
	History    HistorySettings    `yaml:"history"`
}

type ServerSettings struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxUploadMB    int64         `yaml:"max_upload_mb"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type ExtractionSettings struct {
	Mode              string        `yaml:"mode"`
	BackendURL        string        `yaml:"backend_url"`
	BackendTimeout    time.Duration `yaml:"backend_timeout"`
	MaxImageDimension int           `yaml:"max_image_dimension"`
	MaxImagePixels    int64         `yaml:"max_image_pixels"`
	JPEGQuality       int           `yaml:"jpeg_quality"`
}

type ModelSettings struct {
	Name              string        `yaml:"name"`
	Temperature       float32       `yaml:"temperature"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout"`
}

type MapURLSettings struct {
	Mode string `yaml:"mode"`
}

type StorageSettings struct {
	Driver        string `yaml:"driver"`
	Dir           string `yaml:"dir"`
	Bucket        string `yaml:"bucket"`
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type HistorySettings struct {
	Enabled bool `yaml:"enabled"`
}

// LoadDotEnv reads a .env file into the process environment if one exists.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// GetAppConfig reads basic infrastructure settings from environment variables.
func GetAppConfig() (AppConfig, error) {
	cfg := AppConfig{
		ConfigPath:       os.Getenv("CONFIG_PATH"),
		DBPath:           os.Getenv("DB_PATH"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		BackendURL:       os.Getenv("BACKEND_URL"),
		Port:             os.Getenv("PORT"),
		LogLevel:         strings.ToLower(os.Getenv("LOG_LEVEL")),
		LogFormat:        strings.ToLower(os.Getenv("LOG_FORMAT")),
		StorageAccessKey: os.Getenv("STORAGE_ACCESS_KEY"),
		StorageSecretKey: os.Getenv("STORAGE_SECRET_KEY"),
	}

	// Set defaults if not provided
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = "config.yaml"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./local-data/koredoko.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}

	return cfg, nil
}

// DefaultSettings returns the settings used when no YAML file is present.
func DefaultSettings() *Settings {
	s := &Settings{}
	s.applyDefaults()
	return s
}

// LoadSettings reads the YAML file at path. A missing file yields defaults.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at '%s': %w", path, err)
	}
	return ParseSettings(data)
}

// ParseSettings decodes YAML settings and fills in defaults.
func ParseSettings(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	s.applyDefaults()
	return &s, nil
}

// ApplyEnv lets environment variables override file settings.
func (s *Settings) ApplyEnv(app AppConfig) {
	if app.BackendURL != "" {
		s.Extraction.BackendURL = app.BackendURL
	}
	if app.Port != "" {
		s.Server.Addr = ":" + strings.TrimPrefix(app.Port, ":")
	}
}

// Validate checks the settings for unknown modes and missing values.
func (s *Settings) Validate() error {
	switch s.Extraction.Mode {
	case ModeDirect:
	case ModeRemote:
		if s.Extraction.BackendURL == "" {
			return errors.New("extraction.backend_url (or BACKEND_URL) is required in remote mode")
		}
	default:
		return fmt.Errorf("unknown extraction.mode %q", s.Extraction.Mode)
	}

	switch s.MapURL.Mode {
	case MapURLModel, MapURLLocal:
	default:
		return fmt.Errorf("unknown map_url.mode %q", s.MapURL.Mode)
	}

	switch s.Storage.Driver {
	case StorageNone:
	case StorageLocal:
		if s.Storage.Dir == "" {
			return errors.New("storage.dir is required for the local driver")
		}
	case StorageS3:
		if s.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", s.Storage.Driver)
	}

	if s.Extraction.JPEGQuality < 1 || s.Extraction.JPEGQuality > 100 {
		return fmt.Errorf("extraction.jpeg_quality must be 1-100, got %d", s.Extraction.JPEGQuality)
	}
	return nil
}

// MaxUploadBytes is the request body limit for uploads.
func (s *Settings) MaxUploadBytes() int64 {
	return s.Server.MaxUploadMB << 20
}

func (s *Settings) applyDefaults() {
	if s.Server.Addr == "" {
		s.Server.Addr = ":8080"
	}
	if s.Server.ReadTimeout == 0 {
		s.Server.ReadTimeout = 15 * time.Second
	}
	// Model calls on large images regularly take tens of seconds.
	if s.Server.WriteTimeout == 0 {
		s.Server.WriteTimeout = 90 * time.Second
	}
	if s.Server.MaxUploadMB == 0 {
		s.Server.MaxUploadMB = 16
	}

	if s.Extraction.Mode == "" {
		s.Extraction.Mode = ModeDirect
	}
	if s.Extraction.BackendTimeout == 0 {
		s.Extraction.BackendTimeout = 60 * time.Second
	}
	if s.Extraction.MaxImageDimension == 0 {
		s.Extraction.MaxImageDimension = 1600
	}
	if s.Extraction.MaxImagePixels == 0 {
		s.Extraction.MaxImagePixels = 50_000_000
	}
	if s.Extraction.JPEGQuality == 0 {
		s.Extraction.JPEGQuality = 90
	}

	if s.Model.Name == "" {
		s.Model.Name = "gemini-2.0-flash"
	}
	if s.Model.Timeout == 0 {
		s.Model.Timeout = 60 * time.Second
	}

	if s.MapURL.Mode == "" {
		s.MapURL.Mode = MapURLModel
	}

	if s.Storage.Driver == "" {
		s.Storage.Driver = StorageNone
	}
	if s.Storage.Driver == StorageLocal && s.Storage.Dir == "" {
		s.Storage.Dir = "static/uploads"
	}
	if s.Storage.Region == "" {
		s.Storage.Region = "auto"
	}
}
