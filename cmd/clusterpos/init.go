package main

import (
	"log/slog"
	"os"

	"clusterpos/pkg/config"
)

// initLogger настраивает глобальный slog.Logger (JSON или текстовый).
func initLogger(cfg *config.LoggerConfig) {
	opts := &slog.HandlerOptions{AddSource: true, Level: cfg.SlogLevel()}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", "level", cfg.Level, "json", cfg.JSON)
}
