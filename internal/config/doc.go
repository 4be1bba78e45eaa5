// Package config provides configuration management for download-manager.
//
// This package handles:
//   - Loading and saving settings from JSON or YAML files
//   - Default configuration values
//   - Conversion to download.Options for the local engine
//   - Building the application logger
//
// # Default Settings
//
// Use DefaultSettings() to get sensible defaults:
//
//	settings := config.DefaultSettings()
//	// Downloads to ~/Downloads
//	// 3 concurrent downloads, 10 retries
//	// In-process engine, HTTP API on 127.0.0.1:52345
//
// # Loading from File
//
//	settings, err := config.Load("/path/to/config.yaml")
//	if err != nil {
//	    // Uses defaults if file doesn't exist
//	}
//
// # Saving Settings
//
//	settings.DownloadDir = "/data/downloads"
//	err := settings.Save("/path/to/config.json")
//
// # Configuration Options
//
// Settings includes options for:
//   - Engine location (in-process or remote URL) and request timeout
//   - Download directory and state file
//   - Concurrency, retry count and retry cooldown
//   - Global speed limit
//   - Notification de-duplication
//   - Log level and log file
package config
