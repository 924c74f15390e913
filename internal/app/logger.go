package app

import (
	"strings"

	"github.com/candorhq/candor/pkg/logger"
)

// ConfigureLogging initialises the global logger, defaulting to info level
// and JSON output.
func ConfigureLogging(cfg ServerConfig) error {
	level := strings.TrimSpace(cfg.LogLevel)
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(cfg.LogFormat)
	if format == "" {
		format = "json"
	}
	return logger.Init(level, format)
}
