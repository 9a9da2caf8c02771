// skinvoice runs the voice skincare consultant: a Gemini Live audio session
// driven over a small HTTP control API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-skinvoice/internal/config"
	"github.com/teslashibe/go-skinvoice/internal/log"
	"github.com/teslashibe/go-skinvoice/pkg/app"
)

func main() {
	cfg := parseFlags()

	var logger *slog.Logger
	if cfg.LogJSON {
		logger = log.New(os.Stdout, cfg.LogLevel, true)
		slog.SetDefault(logger)
	} else {
		log.Init(cfg.LogLevel)
		logger = log.L()
	}

	a, err := app.New(cfg, app.WithLogger(logger))
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Init(ctx); err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer a.Shutdown()

	if err := a.Run(ctx); err != nil {
		logger.Error("runtime error", "error", err)
		os.Exit(1)
	}
}

// parseFlags loads file and environment configuration, then applies flags.
func parseFlags() config.Config {
	configPath := flag.String("config", "", "YAML config file")
	envFile := flag.String("env", ".env", "dotenv file (missing is fine)")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	listen := flag.String("listen", "", "Control API listen address")
	backend := flag.String("backend", "", "Live backend: websocket or genai")
	personaFlag := flag.String("persona", "", "Form of address: female, male or neutral")
	audioIn := flag.String("audio-in", "", "Capture backend: auto, malgo, rtp, mock")
	audioOut := flag.String("audio-out", "", "Playback backend: auto, oto, mock")
	camera := flag.Bool("camera", false, "Enable still capture for /api/photo")
	autoConnect := flag.Bool("connect", false, "Connect on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if *debug {
		cfg.LogLevel = "debug"
	}
	setIf(&cfg.Listen, *listen)
	setIf(&cfg.Backend, *backend)
	setIf(&cfg.Persona, *personaFlag)
	setIf(&cfg.Audio.Input, *audioIn)
	setIf(&cfg.Audio.Output, *audioOut)
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "camera":
			cfg.Camera.Enabled = *camera
		case "connect":
			cfg.AutoConnect = *autoConnect
		}
	})
	return cfg
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
