package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config contains the settings for the backend, the camera and the session
type Config struct {
	API     APIConfig     `yaml:"api"`
	Capture CaptureConfig `yaml:"capture"`
	Session SessionConfig `yaml:"session"`
	Display DisplayConfig `yaml:"display"`
	Journal JournalConfig `yaml:"journal"`
}

// APIConfig contains the attendance backend connection
type APIConfig struct {
	BaseURL string        `yaml:"base_url"` // e.g. http://localhost:8000
	Token   string        `yaml:"token"`    // bearer token from `rollcall login`
	Timeout time.Duration `yaml:"timeout"`
}

// CaptureConfig contains the webcam settings handed to ffmpeg
type CaptureConfig struct {
	Device      string `yaml:"device"`       // /dev/video0, "0" on macOS, "video=..." on Windows
	InputFormat string `yaml:"input_format"` // v4l2, avfoundation, dshow; empty picks the OS default
	Framerate   int    `yaml:"framerate"`
}

// SessionConfig contains the polling and merge settings
type SessionConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	PresenceThreshold int           `yaml:"presence_threshold"` // positive detections before a student counts as present
}

// DisplayConfig describes the surface the overlay is drawn for
type DisplayConfig struct {
	Width    int  `yaml:"width"` // 0 keeps the native frame size
	Height   int  `yaml:"height"`
	Mirrored bool `yaml:"mirrored"`
}

// JournalConfig enables the PostgreSQL journal of confirmed sessions
type JournalConfig struct {
	URL string `yaml:"url"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 10 * time.Second,
		},
		Capture: CaptureConfig{
			Device:    "/dev/video0",
			Framerate: 15,
		},
		Session: SessionConfig{
			PollInterval:      3 * time.Second,
			PresenceThreshold: 1,
		},
		Display: DisplayConfig{
			Mirrored: true,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (a
// missing file is fine unless required), then .env, then the environment.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("config read error: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	// .env is optional, like in development checkouts
	_ = godotenv.Load()

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	cfg.API.BaseURL = getEnv("ROLLCALL_API_URL", cfg.API.BaseURL)
	cfg.API.Token = getEnv("ROLLCALL_TOKEN", cfg.API.Token)
	cfg.Capture.Device = getEnv("ROLLCALL_DEVICE", cfg.Capture.Device)
	cfg.Capture.InputFormat = getEnv("ROLLCALL_INPUT_FORMAT", cfg.Capture.InputFormat)

	if v := os.Getenv("ROLLCALL_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ROLLCALL_POLL_INTERVAL: %w", err)
		}
		cfg.Session.PollInterval = d
	}
	if v := os.Getenv("ROLLCALL_PRESENCE_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ROLLCALL_PRESENCE_THRESHOLD: %w", err)
		}
		cfg.Session.PresenceThreshold = n
	}

	// Build the journal connection string from the environment if the file did not set one
	if cfg.Journal.URL == "" {
		cfg.Journal.URL = os.Getenv("ROLLCALL_JOURNAL_URL")
	}
	if cfg.Journal.URL == "" {
		if host := os.Getenv("POSTGRES_HOST"); host != "" {
			user := os.Getenv("POSTGRES_USER")
			pass := os.Getenv("POSTGRES_PASSWORD")
			name := getEnv("POSTGRES_DB", "rollcall")
			port := getEnv("POSTGRES_PORT", "5432")
			cfg.Journal.URL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
		}
	}
	return nil
}

// Validate rejects settings the session cannot run with.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.Session.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("session.poll_interval must be at least 100ms, got %s", c.Session.PollInterval)
	}
	if c.Session.PresenceThreshold < 1 {
		return fmt.Errorf("session.presence_threshold must be >= 1, got %d", c.Session.PresenceThreshold)
	}
	if c.Display.Width < 0 || c.Display.Height < 0 {
		return fmt.Errorf("display size must not be negative, got %dx%d", c.Display.Width, c.Display.Height)
	}
	if (c.Display.Width == 0) != (c.Display.Height == 0) {
		return fmt.Errorf("display width and height must be set together, got %dx%d", c.Display.Width, c.Display.Height)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
