package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/0ri0nRo/offline-cache"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	hostFlag           string
	generationFlag     string
	providerFlag       string
	dbFilenameFlag     string
	fetchTimeoutFlag   string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL of the dashboard (overrides config)")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin (overrides config)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&generationFlag, "generation", "", "Cache generation name (overrides config)")
	flag.StringVar(&providerFlag, "provider", "", "Storage provider: sqlite, leveldb, memory or minio (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file or directory (overrides config)")
	flag.StringVar(&fetchTimeoutFlag, "fetch-timeout", "", "Network timeout, 0 to disable (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()
	setupLogging()

	config, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	storage, closer, err := offlinecache.OpenStorage(ctx, config.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache storage")
	}
	defer closer.Close()

	serviceConfig := config.ServiceConfig(storage)
	serviceConfig.Logger = &log.Logger
	service, err := offlinecache.New(serviceConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create service")
	}
	if _, err := service.Register(ctx, ""); err != nil {
		log.Fatal().Err(err).Msg("Could not install worker")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Server.Port),
		Handler:           router(service),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", config.Server.Port, config.OriginURL(), config.Server.Host)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Could not shut down gracefully")
	}
}

// setupLogging configures the global logger.
// Output goes to stdout, and also to the log file if specified.
func setupLogging() {
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
}

// loadConfig reads the config file, if any, and applies the flags on top.
func loadConfig() (offlinecache.FileConfig, error) {
	var config offlinecache.FileConfig
	if configFilenameFlag != "" {
		var err error
		if config, err = offlinecache.LoadConfig(configFilenameFlag); err != nil {
			return config, err
		}
	}

	if originFlag != "" {
		config.Server.Origin = originFlag
	}
	if hostFlag != "" {
		config.Server.Host = hostFlag
	}
	if portFlag != 0 {
		config.Server.Port = portFlag
	}
	if generationFlag != "" {
		config.Cache.Generation = generationFlag
	}
	if providerFlag != "" {
		config.Storage.Provider = providerFlag
	}
	if dbFilenameFlag != "" {
		config.Storage.Path = dbFilenameFlag
	}
	if fetchTimeoutFlag != "" {
		config.Cache.FetchTimeout = fetchTimeoutFlag
	}
	return config, config.Validate()
}

// router serves the control channel under its own path
// and everything else through the caching layer.
func router(service *offlinecache.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request served")
	}))
	r.Mount(offlinecache.ControlPath, service.ControlHandler())
	r.Handle("/*", service)
	return r
}
