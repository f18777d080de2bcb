package main

import (
	"flag"
	"log/slog"
	"os"

	"lealone/pkg/config"
)

// configPath resolves the -config flag, defaulting to lealone.yaml in the
// working directory; a missing file falls back to config.Default().
func configPath() string {
	path := flag.String("config", "lealone.yaml", "path to the node's YAML config file")
	flag.Parse()
	return *path
}

// initConfig loads path, falling back to config.Default() when the file does
// not exist, matching the teacher's initConfig.
func initConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return config.Default(), nil
		}
		return config.Config{}, err
	}
	return config.Load(path)
}

// initLogger installs the process-wide slog.Logger, JSON or text depending
// on cfg.Logger.JSON, matching the teacher's initLogger.
func initLogger(cfg *config.Config) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{AddSource: true, Level: logLevel(cfg.Logger.Level)}
	if cfg.Logger.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)
}

func logLevel(level string) slog.Level {
	switch level {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARN", "warn":
		return slog.LevelWarn
	case "ERROR", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
