package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port        int
	MaxUploadMB int

	// Engine timing
	Lookahead    time.Duration // delay before a scheduled start
	Ramp         time.Duration // parameter ramp length
	ExportBuffer time.Duration // recorded past the end of an export

	// Storage
	DataDir string
	DBFile  string

	// External tools
	FFmpegPath string

	// Video export
	VideoWidth      int
	VideoHeight     int
	VideoFPS        int
	VideoTitle      string
	VideoBackground string // PNG or JPEG, empty for a plain frame

	// Drop folder separation, disabled when InboxDir is empty
	InboxDir  string
	OutboxDir string

	// Play the master bus on the local speakers
	LocalMonitor bool
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is applied first; variables already
// set in the environment win.
func Load() Config {
	_ = godotenv.Load(envStr("DUET_ENV_FILE", ".env"))

	return Config{
		Port:        envInt("DUET_PORT", 8080),
		MaxUploadMB: envInt("DUET_MAX_UPLOAD_MB", 100),

		Lookahead:    time.Duration(envInt("DUET_LOOKAHEAD_MS", 100)) * time.Millisecond,
		Ramp:         time.Duration(envInt("DUET_RAMP_MS", 100)) * time.Millisecond,
		ExportBuffer: time.Duration(envInt("DUET_EXPORT_BUFFER_MS", 500)) * time.Millisecond,

		DataDir: envStr("DUET_DATA_DIR", "./data"),
		DBFile:  envStr("DUET_DB_FILE", "duet.db"),

		FFmpegPath: envStr("DUET_FFMPEG_PATH", "ffmpeg"),

		VideoWidth:      envInt("DUET_VIDEO_WIDTH", 1080),
		VideoHeight:     envInt("DUET_VIDEO_HEIGHT", 1080),
		VideoFPS:        envInt("DUET_VIDEO_FPS", 30),
		VideoTitle:      envStr("DUET_VIDEO_TITLE", "DUET MIX"),
		VideoBackground: envStr("DUET_VIDEO_BACKGROUND", ""),

		InboxDir:  envStr("DUET_INBOX_DIR", ""),
		OutboxDir: envStr("DUET_OUTBOX_DIR", ""),

		LocalMonitor: envBool("DUET_LOCAL_MONITOR", false),
	}
}

// DBPath is the SQLite file inside the data directory.
func (c Config) DBPath() string {
	if filepath.IsAbs(c.DBFile) {
		return c.DBFile
	}
	return filepath.Join(c.DataDir, c.DBFile)
}

// MaxUploadBytes is the request body limit for uploads.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
