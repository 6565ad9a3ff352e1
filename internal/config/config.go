// Package config holds the bridge runtime configuration.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// Config defines the runtime configuration of the detection bridge.
type Config struct {
	HTTPAddr    string
	MetricsAddr string // empty serves /metrics on HTTPAddr
	AssetsDir   string

	ConfidenceThreshold float64
	DebounceInterval    time.Duration
	WatchLabels         []string

	InferenceURL string // ws:// URL of the inference engine, empty disables the feed

	STUNServers   []string
	MaxRTCClients int

	RecentDetections int
	StreamWidth      int
	StreamHeight     int

	LogLevel string
	LogColor bool
}

// DefaultConfig returns the stock bridge settings.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		MetricsAddr:         ":9090",
		AssetsDir:           filepath.Clean("./assets"),
		ConfidenceThreshold: 0.5,
		DebounceInterval:    0,
		WatchLabels:         []string{"face"},
		STUNServers:         []string{"stun:stun.l.google.com:19302"},
		MaxRTCClients:       10,
		RecentDetections:    5,
		StreamWidth:         640,
		StreamHeight:        480,
		LogLevel:            "info",
		LogColor:            true,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var err error
	if c.HTTPAddr == "" {
		err = multierr.Append(err, errors.New("http address is required"))
	}
	if math.IsNaN(c.ConfidenceThreshold) || c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		err = multierr.Append(err, fmt.Errorf("confidence threshold %v out of range [0, 1]", c.ConfidenceThreshold))
	}
	if c.DebounceInterval < 0 {
		err = multierr.Append(err, fmt.Errorf("debounce interval %v is negative", c.DebounceInterval))
	}
	if c.MaxRTCClients < 0 {
		err = multierr.Append(err, fmt.Errorf("max webrtc clients %d is negative", c.MaxRTCClients))
	}
	if c.RecentDetections <= 0 {
		err = multierr.Append(err, fmt.Errorf("recent detections %d must be positive", c.RecentDetections))
	}
	if c.StreamWidth <= 0 || c.StreamHeight <= 0 {
		err = multierr.Append(err, fmt.Errorf("stream size %dx%d must be positive", c.StreamWidth, c.StreamHeight))
	}
	if c.InferenceURL != "" && !strings.HasPrefix(c.InferenceURL, "ws://") && !strings.HasPrefix(c.InferenceURL, "wss://") {
		err = multierr.Append(err, fmt.Errorf("inference url %q must use ws:// or wss://", c.InferenceURL))
	}
	return err
}

// LoadEnv loads the given .env files (missing ones are skipped) and applies
// BRIDGE_* variables on top of cfg. Variables already set in the process
// environment win over .env values.
func LoadEnv(cfg *Config, files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return fmt.Errorf("load env files: %w", err)
		}
	}

	var err error
	cfg.HTTPAddr = getEnv("BRIDGE_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = getEnv("BRIDGE_METRICS_ADDR", cfg.MetricsAddr)
	cfg.AssetsDir = getEnv("BRIDGE_ASSETS_DIR", cfg.AssetsDir)
	cfg.InferenceURL = getEnv("BRIDGE_INFERENCE_URL", cfg.InferenceURL)
	cfg.LogLevel = getEnv("BRIDGE_LOG_LEVEL", cfg.LogLevel)
	cfg.WatchLabels = getEnvAsList("BRIDGE_WATCH_LABELS", cfg.WatchLabels)
	cfg.STUNServers = getEnvAsList("BRIDGE_STUN", cfg.STUNServers)

	var e error
	cfg.ConfidenceThreshold, e = getEnvAsFloat("BRIDGE_CONFIDENCE", cfg.ConfidenceThreshold)
	err = multierr.Append(err, e)
	cfg.DebounceInterval, e = getEnvAsDuration("BRIDGE_DEBOUNCE", cfg.DebounceInterval)
	err = multierr.Append(err, e)
	cfg.MaxRTCClients, e = getEnvAsInt("BRIDGE_MAX_RTC_CLIENTS", cfg.MaxRTCClients)
	err = multierr.Append(err, e)
	cfg.RecentDetections, e = getEnvAsInt("BRIDGE_RECENT_DETECTIONS", cfg.RecentDetections)
	err = multierr.Append(err, e)
	cfg.StreamWidth, e = getEnvAsInt("BRIDGE_STREAM_WIDTH", cfg.StreamWidth)
	err = multierr.Append(err, e)
	cfg.StreamHeight, e = getEnvAsInt("BRIDGE_STREAM_HEIGHT", cfg.StreamHeight)
	err = multierr.Append(err, e)
	cfg.LogColor, e = getEnvAsBool("BRIDGE_LOG_COLOR", cfg.LogColor)
	err = multierr.Append(err, e)

	return err
}

// SplitList splits a comma-separated value, dropping blanks.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		return SplitList(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// getEnvAsDuration accepts Go durations ("250ms") or plain seconds ("0.5").
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
