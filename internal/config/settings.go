package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/handiism/download-manager/internal/download"
	ioutils "github.com/handiism/download-manager/internal/io"
	"github.com/handiism/download-manager/internal/model"
	"gopkg.in/yaml.v3"
)

// AppName is used for default config and state locations.
const AppName = "download-manager"

// Settings holds all configuration options.
type Settings struct {
	// Engine connection
	EngineURL      string  `json:"engine_url" yaml:"engine_url"` // empty runs the engine in-process
	ListenAddr     string  `json:"listen_addr" yaml:"listen_addr"`
	RequestTimeout float64 `json:"request_timeout" yaml:"request_timeout"` // seconds

	// Download settings
	DownloadDir            string  `json:"download_dir" yaml:"download_dir"`
	StatePath              string  `json:"state_path" yaml:"state_path"`
	MaxConcurrentDownloads int     `json:"max_concurrent_downloads" yaml:"max_concurrent_downloads"`
	MaxRetries             int     `json:"max_retries" yaml:"max_retries"`
	RetryCooldown          float64 `json:"retry_cooldown" yaml:"retry_cooldown"` // seconds
	RetryExponent          float64 `json:"retry_exponent" yaml:"retry_exponent"`
	SpeedLimitKBps         float64 `json:"speed_limit_kbps" yaml:"speed_limit_kbps"` // 0 = unlimited

	// Notifications
	DedupeNotifications bool `json:"dedupe_notifications" yaml:"dedupe_notifications"`

	// Logging
	LogLevel string `json:"log_level" yaml:"log_level"` // debug, info, warn, error
	LogFile  string `json:"log_file" yaml:"log_file"`
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	return &Settings{
		ListenAddr:     "127.0.0.1:52345",
		RequestTimeout: 60,

		DownloadDir:            filepath.Join(homeDir, "Downloads"),
		StatePath:              filepath.Join(configDir(), "state.json"),
		MaxConcurrentDownloads: 3,
		MaxRetries:             10,
		RetryCooldown:          1,
		RetryExponent:          2,
		SpeedLimitKBps:         0,

		DedupeNotifications: false,

		LogLevel: "info",
		LogFile:  filepath.Join(configDir(), AppName+".log"),
	}
}

// DefaultPath returns the default location of the settings file.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.json")
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, AppName)
}

// Load reads settings from a JSON or YAML file; the format is chosen by
// extension (.yaml/.yml for YAML, anything else JSON). A missing file
// yields the defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if isYAML(path) {
		err = yaml.Unmarshal(data, settings)
	} else {
		err = json.Unmarshal(data, settings)
	}
	if err != nil {
		return nil, err
	}

	return settings, nil
}

// Save writes settings to a JSON or YAML file, chosen by extension.
func (s *Settings) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(s)
	} else {
		data, err = json.MarshalIndent(s, "", "  ")
	}
	if err != nil {
		return err
	}

	return ioutils.WriteFileAtomic(path, data)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Timeout returns RequestTimeout as a duration.
func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.RequestTimeout * float64(time.Second))
}

// ToEngineOptions converts settings to the local engine's Options.
func (s *Settings) ToEngineOptions() *download.Options {
	speedLimit := model.Unlimited()
	if s.SpeedLimitKBps > 0 {
		speedLimit = model.LimitKBps(s.SpeedLimitKBps)
	}

	return &download.Options{
		DownloadDir:            s.DownloadDir,
		StatePath:              s.StatePath,
		MaxConcurrentDownloads: s.MaxConcurrentDownloads,
		MaxRetries:             s.MaxRetries,
		RetryCooldown:          time.Duration(s.RetryCooldown * float64(time.Second)),
		RetryExponent:          s.RetryExponent,
		SpeedLimit:             speedLimit,
		RequestTimeout:         s.Timeout(),
	}
}

// NewLogger returns a logger writing to w at the configured level.
// Unknown levels fall back to info.
func (s *Settings) NewLogger(w io.Writer) *log.Logger {
	level, err := log.ParseLevel(s.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}

	return log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		Prefix:          "dm",
	})
}
