// Package config loads runtime settings for the objcrop service from the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Processing defaults shared by the HTTP API and the CLI.
const (
	DefaultThreshold       = 240
	DefaultPadding         = 8
	DefaultCLIPadding      = 0
	DefaultConfidence      = 0.5
	DefaultCLIConfidence   = 0.7
	DefaultDETRConfidence  = 0.7
	CannyLow               = 50
	CannyHigh              = 150
	DilateIterations       = 2
	GrabCutIterations      = 5
	GrabCutMargin          = 0.1
	JPEGQuality            = 95
	WarmupImageSize        = 100
	InfoSeparatorWidth     = 12
	AspectRatioPrecision   = 2
	AspectRatioTolerance   = 0.01
	LargeCropAreaThreshold = 0.95
)

// ValidExtensions lists the accepted upload extensions.
var ValidExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// Config holds settings resolved from environment variables.
type Config struct {
	Host            string
	Port            int
	DataDir         string
	UploadDir       string
	OutputDir       string
	ModelDir        string
	DBPath          string
	YOLOModel       string
	DetectionScript string
	Python          string
	StaticDir       string
	CORSOrigins     []string
	RateLimit       int
	RateWindow      time.Duration
	MaxUploadMB     int
	LogLevel        string
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded settings from .env")
	}

	dataDir := getEnv("DATA_DIR", filepath.Join(".", "data"))
	modelDir := getEnv("MODEL_DIR", filepath.Join(dataDir, "models"))

	return &Config{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnvAsInt("PORT", 8000),
		DataDir:         dataDir,
		UploadDir:       getEnv("UPLOAD_DIR", filepath.Join(dataDir, "uploads")),
		OutputDir:       getEnv("OUTPUT_DIR", filepath.Join(dataDir, "outputs")),
		ModelDir:        modelDir,
		DBPath:          getEnv("DB_PATH", filepath.Join(dataDir, "objcrop.db")),
		YOLOModel:       getEnv("YOLO_MODEL", filepath.Join(modelDir, "yolo12x.onnx")),
		DetectionScript: getEnv("DETECTION_SCRIPT", ""),
		Python:          getEnv("PYTHON", ""),
		StaticDir:       getEnv("STATIC_DIR", ""),
		CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{
			"http://localhost:5173",
			"http://localhost:3000",
			"http://localhost:8080",
		}),
		RateLimit:   getEnvAsInt("RATE_LIMIT", 30),
		RateWindow:  time.Minute,
		MaxUploadMB: getEnvAsInt("MAX_UPLOAD_MB", 50),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// EnsureDirs creates the data, upload and output directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.UploadDir, c.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// SetupLogging configures the global logrus logger from the configured level.
func SetupLogging(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown log level %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// IsValidExtension reports whether ext (with leading dot) is an accepted image type.
func IsValidExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, v := range ValidExtensions {
		if v == ext {
			return true
		}
	}
	return false
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

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
