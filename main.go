package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/virtcam/virtcamd/cmd"
	"github.com/virtcam/virtcamd/internal/broadcast"
	"github.com/virtcam/virtcamd/internal/camera"
	"github.com/virtcam/virtcamd/internal/config"
	"github.com/virtcam/virtcamd/internal/events"
	"github.com/virtcam/virtcamd/internal/logging"
	"github.com/virtcam/virtcamd/internal/messages"
	"github.com/virtcam/virtcamd/internal/metrics"
	"github.com/virtcam/virtcamd/internal/server"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8889" toml:"server.port" env:"SERVER_PORT"`

	// Camera settings
	Rate        int    `help:"Target frame rate in frames per second" default:"10" toml:"camera.rate" env:"CAMERA_RATE"`
	SourceDir   string `help:"Directory of images to cycle; empty selects the synthetic source" toml:"camera.source_dir" env:"CAMERA_SOURCE_DIR"`
	FilePattern string `help:"Glob pattern for directory source files" default:"*.png" toml:"camera.file_pattern" env:"CAMERA_FILE_PATTERN"`
	Cycle       bool   `help:"Restart the directory sequence when it ends" default:"true" toml:"camera.cycle" env:"CAMERA_CYCLE"`
	Resolution  string `help:"Synthetic source resolution as height,width" default:"480,640" toml:"camera.resolution" env:"CAMERA_RESOLUTION"`
	SaveDir     string `help:"Directory where synthetic frames are written" default:"frames" toml:"camera.save_dir" env:"CAMERA_SAVE_DIR"`

	// Observability settings
	PrometheusEnabled bool `help:"Enable Prometheus metrics" default:"true" toml:"obs.prometheus_enabled" env:"OBS_PROMETHEUS_ENABLED"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCamera    string `help:"Camera logging level" default:"info" toml:"logging.camera" env:"LOGGING_CAMERA"`
	LoggingBroadcast string `help:"Broadcast logging level" default:"info" toml:"logging.broadcast" env:"LOGGING_BROADCAST"`
	LoggingServer    string `help:"Server logging level" default:"info" toml:"logging.server" env:"LOGGING_SERVER"`
	LoggingConfig    string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"camera":    opts.LoggingCamera,
				"broadcast": opts.LoggingBroadcast,
				"server":    opts.LoggingServer,
				"config":    opts.LoggingConfig,
			},
		})
		logger := logging.GetLogger("main")

		// Validate everything before any goroutine starts. Bad
		// configuration never reaches streaming.
		stream := config.Stream{
			Rate:        opts.Rate,
			SourceDir:   opts.SourceDir,
			FilePattern: opts.FilePattern,
			Cycle:       opts.Cycle,
			Resolution:  opts.Resolution,
			SaveDir:     opts.SaveDir,
		}
		if err := stream.Validate(); err != nil {
			logger.Error("Invalid configuration", "error", err)
			os.Exit(1)
		}

		source, imageDir, err := buildSource(&stream)
		if err != nil {
			logger.Error("Cannot open frame source", "error", err)
			os.Exit(1)
		}

		registry := broadcast.NewRegistry()
		eventBus := events.New()

		scheduler, err := camera.NewScheduler(source, registry.Channel("camera"), stream.Rate, eventBus, logging.GetLogger("camera"))
		if err != nil {
			logger.Error("Invalid configuration", "error", err)
			os.Exit(1)
		}

		serverOpts := &server.Options{
			Registry: registry,
			EventBus: eventBus,
			ImageDir: imageDir,
		}

		var meter *metrics.Metrics
		if opts.PrometheusEnabled {
			meter = metrics.New()
			meter.Observe(eventBus)
			for _, name := range []string{"camera", "shoot", "mode"} {
				meter.RegisterChannel(registry.Channel(name))
			}
			serverOpts.PrometheusHandler = meter.Handler()
		}

		httpServer := server.NewServer(serverOpts)
		watcher := newModeWatcher(opts.Config, registry, eventBus)

		schedCtx, stopScheduler := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			if watcher != nil {
				if startErr := watcher.Start(); startErr != nil {
					logger.Warn("Settings watcher failed to start", "error", startErr)
				}
			}

			go func() {
				if runErr := scheduler.Run(schedCtx); runErr != nil && !errors.Is(runErr, context.Canceled) {
					logger.Error("Scheduler stopped", "error", runErr)
				}
			}()

			logger.Info("Starting camera server", "port", opts.Port, "source_dir", imageDir, "rate", stream.Rate)
			if startErr := httpServer.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			stopScheduler()
			if watcher != nil {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Warn("Error stopping settings watcher", "error", stopErr)
				}
			}
			if stopErr := httpServer.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			registry.Close()
			if meter != nil {
				meter.Close()
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateViewCmd())
	cli.Root().AddCommand(cmd.CreateGenImagesCmd())

	cli.Run()
}

// buildSource selects and opens the configured frame source. The second
// return value is the directory the HTTP server serves under /images/.
func buildSource(stream *config.Stream) (camera.FrameSource, string, error) {
	if !stream.Synthetic() {
		source, err := camera.NewDirectorySource(stream.SourceDir, stream.FilePattern, stream.Cycle)
		return source, stream.SourceDir, err
	}

	if err := os.MkdirAll(stream.SaveDir, 0o755); err != nil {
		return nil, "", err
	}
	source, err := camera.NewSyntheticSource(stream.Width, stream.Height, stream.SaveDir)
	return source, stream.SaveDir, err
}

// newModeWatcher wires config file changes to the mode channel. A mode
// edit in the [camera] table reaches attached viewers without a restart.
func newModeWatcher(path string, registry *broadcast.Registry, eventBus *events.Bus) *config.Watcher {
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	logger := logging.GetLogger("config")
	watcher := config.NewWatcher(path, logger)

	var lastMode string
	watcher.OnReload(func(settings config.Settings) {
		mode := messages.ModeType(settings.Mode)
		if settings.Mode == "" || settings.Mode == lastMode {
			return
		}
		if !mode.Valid() {
			logger.Warn("Ignoring unknown camera mode from config", "mode", settings.Mode)
			return
		}
		lastMode = settings.Mode

		registry.Channel("mode").Publish(messages.Mode{Type: mode})
		eventBus.Publish(events.ModeChangedEvent{Mode: settings.Mode, Source: "config"})
		logger.Info("Camera mode updated from config", "mode", mode)
	})

	return watcher
}
