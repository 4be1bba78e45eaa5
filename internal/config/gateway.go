package config

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/handiism/download-manager/internal/download"
	"github.com/handiism/download-manager/internal/engine"
)

// IsRemote reports whether the settings point at an engine served elsewhere.
func (s *Settings) IsRemote() bool {
	return strings.TrimSpace(s.EngineURL) != ""
}

// ClientURL returns the engine URL clients connect to: EngineURL when set,
// otherwise the address a local "serve" listens on.
func (s *Settings) ClientURL() string {
	if s.IsRemote() {
		return strings.TrimSpace(s.EngineURL)
	}
	return "http://" + s.ListenAddr
}

// Dial returns a client for the engine at ClientURL.
func (s *Settings) Dial(logger *log.Logger) *engine.Client {
	return engine.NewClient(s.ClientURL(), s.Timeout(), logger)
}

// OpenGateway connects to the engine at EngineURL, or starts a local engine
// when EngineURL is empty. The returned close function releases it.
func (s *Settings) OpenGateway(logger *log.Logger) (engine.Gateway, func() error, error) {
	if s.IsRemote() {
		return s.Dial(logger), func() error { return nil }, nil
	}

	eng, err := download.NewEngine(s.ToEngineOptions(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("start engine: %w", err)
	}
	return eng, eng.Close, nil
}
