package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the process-level settings for the stream command.
type Config struct {
	TargetHost string
	TargetPort int

	CameraIndex int
	FilePath    string // empty = camera
	Width       int
	Height      int
	CameraFPS   float64
	PlaybackFPS float64 // file playback override, 0 = source rate

	Headless bool

	EngineCommand      string
	EngineScript       string
	EngineStartTimeout time.Duration

	IdleInterval time.Duration
	MetricsAddr  string
	LogLevel     string
	LogFormat    string
}

// LoadEnvFile reads a .env style file into the process environment.
// A missing file is not an error; existing variables are not overridden.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from ECHOFACE_* environment variables with defaults.
func Load() *Config {
	return &Config{
		TargetHost:         getEnv("ECHOFACE_HOST", "127.0.0.1"),
		TargetPort:         getEnvAsInt("ECHOFACE_PORT", 12345),
		CameraIndex:        getEnvAsInt("ECHOFACE_CAMERA", 0),
		FilePath:           getEnv("ECHOFACE_FILE", ""),
		Width:              getEnvAsInt("ECHOFACE_WIDTH", 640),
		Height:             getEnvAsInt("ECHOFACE_HEIGHT", 480),
		CameraFPS:          getEnvAsFloat("ECHOFACE_CAMERA_FPS", 30),
		PlaybackFPS:        getEnvAsFloat("ECHOFACE_PLAYBACK_FPS", 0),
		Headless:           getEnvAsBool("ECHOFACE_HEADLESS", false),
		EngineCommand:      getEnv("ECHOFACE_ENGINE", "python3"),
		EngineScript:       getEnv("ECHOFACE_ENGINE_SCRIPT", "python/face_worker.py"),
		EngineStartTimeout: getEnvAsDuration("ECHOFACE_ENGINE_START_TIMEOUT", 30*time.Second),
		IdleInterval:       getEnvAsDuration("ECHOFACE_IDLE_INTERVAL", 30*time.Millisecond),
		MetricsAddr:        getEnv("ECHOFACE_METRICS_ADDR", ""),
		LogLevel:           getEnv("ECHOFACE_LOG_LEVEL", "info"),
		LogFormat:          getEnv("ECHOFACE_LOG_FORMAT", "text"),
	}
}

// Validate checks the settings before any device or process is opened.
func (c *Config) Validate() error {
	if c.TargetHost == "" {
		return fmt.Errorf("target host must not be empty")
	}
	if c.TargetPort < 1 || c.TargetPort > 65535 {
		return fmt.Errorf("target port must be between 1 and 65535, got %d", c.TargetPort)
	}
	if c.FilePath == "" && c.CameraIndex < 0 {
		return fmt.Errorf("camera index must be >= 0, got %d", c.CameraIndex)
	}
	if c.Width < 2 || c.Height < 2 {
		return fmt.Errorf("resolution must be at least 2x2, got %dx%d", c.Width, c.Height)
	}
	if c.CameraFPS <= 0 {
		return fmt.Errorf("camera fps must be positive, got %v", c.CameraFPS)
	}
	if c.PlaybackFPS < 0 {
		return fmt.Errorf("playback fps must be >= 0, got %v", c.PlaybackFPS)
	}
	if c.FilePath != "" {
		info, err := os.Stat(c.FilePath)
		if err != nil {
			return fmt.Errorf("unable to access input file: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("input path %s is a directory, expected a video file", c.FilePath)
		}
	}
	if c.IdleInterval <= 0 {
		return fmt.Errorf("idle interval must be positive, got %v", c.IdleInterval)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// TargetAddress is the host:port telemetry is sent to.
func (c *Config) TargetAddress() string {
	return fmt.Sprintf("%s:%d", c.TargetHost, c.TargetPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
