package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/missileglobe/globe-client/internal/client"
	"github.com/missileglobe/globe-client/internal/config"
	"github.com/missileglobe/globe-client/internal/logging"
	intOtel "github.com/missileglobe/globe-client/internal/otel"
	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// build info - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "globe_client"
)

var SessionStartTime = time.Now()

// app holds the ambient services shared by the subcommands.
type app struct {
	slog     *logging.SlogManager
	logger   *slog.Logger
	dbLogger zerolog.Logger
	otel     *intOtel.Provider
	logFile  *os.File
	client   *client.Client
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// setupApp loads the config and sets up logging and OTel.
func setupApp(opts globalOptions, stderr io.Writer) (*app, error) {
	rt := &app{slog: logging.NewSlogManager()}
	rt.slog.Setup(nil, "info", nil)
	rt.logger = rt.slog.Logger()

	if err := config.Load(opts.configDir); err != nil {
		rt.logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		rt.logger.Info("Loaded config", "dir", opts.configDir)
	}

	logsDir := config.GetString("logsDir")
	level := config.GetString("logLevel")
	if opts.logLevel != "" {
		level = opts.logLevel
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		fmt.Fprintf(stderr, "Failed to create logs dir: %v\n", err)
	} else {
		path := logging.LogFilePath(logsDir, AppName, SessionStartTime)
		if _, err := os.Stat(path); err == nil {
			_ = os.Rename(path, path+".old")
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			rt.logger.Error("Failed to create/open log file!", "error", err, "path", path)
		} else {
			rt.logFile = f
		}
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var otelOut io.Writer
		if rt.logFile != nil {
			otelOut = rt.logFile
		}
		nation := opts.nation
		if nation == "" {
			nation = config.GetString("nation")
		}
		p, err := intOtel.New(intOtel.Config{
			Enabled:        otelCfg.Enabled,
			ServiceName:    otelCfg.ServiceName,
			ServiceVersion: CurrentVersion,
			ServerURL:      config.GetServerConfig().URL,
			Nation:         nation,
			BatchTimeout:   otelCfg.BatchTimeout,
			MetricInterval: otelCfg.MetricInterval,
			LogWriter:      otelOut,
			Endpoint:       otelCfg.Endpoint,
			Insecure:       otelCfg.Insecure,
			SetGlobal:      true,
		})
		if err != nil {
			rt.logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			rt.otel = p
			rt.logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	provider := func() []slog.Attr {
		if rt.client == nil {
			return nil
		}
		return rt.client.LogAttrs()
	}
	rt.slog.SetContextProvider(provider)

	var otelLogProvider *sdklog.LoggerProvider
	if rt.otel != nil {
		otelLogProvider = rt.otel.LoggerProvider()
	}
	var out io.Writer = os.Stdout
	if rt.logFile != nil {
		out = io.MultiWriter(os.Stdout, rt.logFile)
	}
	rt.slog.Setup(out, level, otelLogProvider)
	rt.logger = rt.slog.Logger()
	rt.logger.Info("Starting", "app", AppName, "version", CurrentVersion, "build", BuildDate)

	var fileWriter io.Writer
	if rt.logFile != nil {
		fileWriter = rt.logFile
	}
	rt.dbLogger = logging.NewZerolog(level, provider, fileWriter)
	return rt, nil
}

func (rt *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.slog.Flush(ctx); err != nil {
		rt.logger.Debug("Failed to flush logs", "error", err)
	}
	if rt.otel != nil {
		if err := rt.otel.Shutdown(ctx); err != nil {
			rt.logger.Debug("Failed to shut down OTel", "error", err)
		}
	}
	if rt.logFile != nil {
		_ = rt.logFile.Close()
	}
}

// runClient runs the game client until interrupted.
func runClient(rt *app, opts globalOptions) error {
	cfg := client.ConfigFromViper()
	if opts.nation != "" {
		cfg.Nation = opts.nation
	}

	catalog, err := config.GetNations()
	if err != nil {
		return err
	}

	deps := client.Dependencies{
		Logger:   rt.logger,
		DBLogger: rt.dbLogger,
		Catalog:  catalog,
	}
	if rt.otel != nil {
		deps.Flusher = rt.otel
	}

	c, err := client.New(cfg, deps)
	if err != nil {
		return err
	}
	rt.client = c
	defer func() {
		if err := c.Close(); err != nil {
			rt.logger.Error("Error during shutdown", "error", err)
		}
		rt.logger.Info("Client stopped")
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.logger.Info("Connecting", "server", cfg.Server.URL, "backend", cfg.Persist.Backend)
	if err := c.Run(ctx); err != nil {
		return err
	}
	return nil
}
