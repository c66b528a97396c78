package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"

	"github.com/urbanviz/mobview/internal/api"
	"github.com/urbanviz/mobview/internal/cache"
	"github.com/urbanviz/mobview/internal/config"
	"github.com/urbanviz/mobview/internal/database"
	"github.com/urbanviz/mobview/internal/dataset"
	"github.com/urbanviz/mobview/internal/dispatcher"
	"github.com/urbanviz/mobview/internal/influx"
	"github.com/urbanviz/mobview/internal/loader"
	"github.com/urbanviz/mobview/internal/logging"
	"github.com/urbanviz/mobview/internal/markers"
	"github.com/urbanviz/mobview/internal/monitor"
	"github.com/urbanviz/mobview/internal/normalize"
	intOtel "github.com/urbanviz/mobview/internal/otel"
	"github.com/urbanviz/mobview/internal/playback"
	"github.com/urbanviz/mobview/internal/session"
	"github.com/urbanviz/mobview/internal/state"
)

// CurrentVersion can be set at build time via ldflags.
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "mobview"
)

// global variables
var (
	SessionStartTime time.Time = time.Now()

	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	LogFile *os.File

	// Services
	apiClient       *api.Client
	eventDispatcher *dispatcher.Dispatcher
	pointStore      *cache.PointStore
	normalizer      *normalize.Normalizer
	engine          *playback.Engine
	viewState       *state.Store
	loaderManager   *loader.Manager
	markerManager   *markers.Manager
	datasetCtx      *dataset.Context
	monitorService  *monitor.Service
	sessionBackend  session.Backend
	influxManager   *influx.Manager
)

func setup() error {
	// Bootstrap logging to stdout until config tells us where the log file goes
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "info", nil)
	Logger = SlogManager.Logger()

	if err := config.Load("."); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config")
	}

	logsDir := viper.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		os.Mkdir(logsDir, 0755)
	}

	logPath := logging.LogFilePath(logsDir, AppName, SessionStartTime)
	var err error
	LogFile, err = os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", logPath)
	}

	// Initialize OTel provider if enabled (after log file is created)
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    LogFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		}
	}

	// Optional GELF shipping to Graylog
	var extraWriters []io.Writer
	if viper.GetBool("graylog.enabled") {
		gw, err := gelf.NewWriter(viper.GetString("graylog.address"))
		if err != nil {
			Logger.Error("Failed to connect GELF writer", "error", err,
				"address", viper.GetString("graylog.address"))
		} else {
			extraWriters = append(extraWriters, gw)
		}
	}

	// Re-setup logging with file output and optional OTel
	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	SlogManager.Setup(LogFile, viper.GetString("logLevel"), otelLogProvider, extraWriters...)
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", logPath)

	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if viper.GetBool("influx.enabled") {
		influxManager = influx.NewManager(zl, filepath.Join(logsDir, "influx_backup.gz"))
		if err := influxManager.Connect(); err != nil {
			Logger.Warn("InfluxDB metrics disabled", "error", err)
			influxManager = nil
		}
	}

	apiClient = api.New(viper.GetString("api.serverUrl"), viper.GetString("api.apiKey"))

	eventDispatcher, err = dispatcher.New(logging.NewDispatcherLogger(zl))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	// Session recording backend; a gorm backend that cannot reach its
	// database degrades to the memory backend instead of failing startup.
	sessionCfg := config.GetSessionConfig()
	var sessionDB *gorm.DB
	if sessionCfg.Type == "gorm" {
		dbManager := database.NewManager(zl)
		if err := dbManager.Connect(); err != nil {
			Logger.Error("Session store unreachable, using memory backend", "error", err)
			sessionCfg.Type = "memory"
		} else if err := dbManager.Setup(); err != nil {
			Logger.Error("Session store migration failed, using memory backend", "error", err)
			sessionCfg.Type = "memory"
		} else {
			sessionDB = dbManager.DB
		}
	}
	sessionBackend, err = session.NewBackend(sessionCfg, sessionDB)
	if err != nil {
		return fmt.Errorf("failed to create session backend: %w", err)
	}
	if err := sessionBackend.Init(); err != nil {
		return fmt.Errorf("failed to init session backend: %w", err)
	}

	pointStore = cache.NewPointStore()
	normalizer = normalize.New(Logger)
	datasetCtx = dataset.NewContext()
	markerManager = markers.NewManager(&consoleSurface{logger: Logger}, Logger)

	engine = playback.New(playback.Config{
		Tick:   time.Duration(viper.GetInt("playback.tickMs")) * time.Millisecond,
		Step:   time.Duration(viper.GetInt("playback.stepMs")) * time.Millisecond,
		Logger: Logger,
		OnChange: func(snap playback.Snapshot) {
			markerManager.ApplyVisibility(engine.Visible)
		},
	})

	loaderManager = loader.NewManager(loader.Dependencies{
		Fetcher:    apiClient,
		Normalizer: normalizer,
		Store:      pointStore,
		Dispatcher: eventDispatcher,
		Logger:     Logger,
		Recorder:   sessionBackend,
		Query: loader.QueryOptions{
			BboxLimit:   viper.GetInt("map.bboxLimit"),
			EntityLimit: viper.GetInt("map.entityLimit"),
			OnlyValid:   viper.GetBool("map.onlyValid"),
		},
	})

	viewState = state.NewStore(engine, eventDispatcher, Logger)

	wireSubscriptions()

	monitorService = monitor.NewService(monitor.Dependencies{
		Store:      pointStore,
		Loader:     loaderManager,
		Engine:     engine,
		DatasetCtx: datasetCtx,
		LogManager: SlogManager,
		Influx:     influxManager,
		Session:    sessionBackend,
		StatusDir:  logsDir,
	})

	return nil
}

// wireSubscriptions couples state changes to the loader and the loader to
// the marker layer.
func wireSubscriptions() {
	refresh := func(e dispatcher.Event) error {
		v, sel, w, ds := viewState.Scope()
		loaderManager.Refresh(loader.Scope{
			Viewport:   v,
			Selection:  sel,
			Window:     w,
			Dataset:    ds,
			EntityType: viper.GetString("map.entityType"),
		})
		return nil
	}
	eventDispatcher.Subscribe(state.TopicViewportChanged, refresh, dispatcher.Logged())
	eventDispatcher.Subscribe(state.TopicSelectionChanged, refresh, dispatcher.Logged())
	eventDispatcher.Subscribe(state.TopicWindowChanged, refresh, dispatcher.Logged())
	eventDispatcher.Subscribe(state.TopicDatasetChanged, refresh, dispatcher.Logged())

	eventDispatcher.Subscribe(loader.TopicPointsLoaded, func(e dispatcher.Event) error {
		trs := pointStore.Trajectories()
		if err := markerManager.Reconcile(trs, engine.Visible); err != nil {
			return err
		}
		return markerManager.RebuildLines(trs, viewState.Selection())
	}, dispatcher.Logged())

	eventDispatcher.Subscribe(loader.TopicFetchFailed, func(e dispatcher.Event) error {
		markerManager.Clear()
		return nil
	}, dispatcher.Logged())

	if influxManager != nil {
		eventDispatcher.Subscribe(loader.TopicPointsLoaded, func(e dispatcher.Event) error {
			res, ok := e.Payload.(loader.LoadResult)
			if !ok {
				return nil
			}
			return influxManager.WriteLoadResult(context.Background(),
				res.Generation, res.Points, res.Entities, res.Elapsed,
				viewState.Selection() != "")
		}, dispatcher.Buffered(100))
	}
}

func teardown() {
	if sessionBackend != nil {
		if err := sessionBackend.Close(); err != nil {
			Logger.Error("Failed to close session backend", "error", err)
		}
	}
	if OTelProvider != nil {
		_ = OTelProvider.Shutdown(context.Background())
	}
	if LogFile != nil {
		LogFile.Close()
	}
}

func main() {
	if err := setup(); err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}
	defer teardown()

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return
	}

	var err error
	switch strings.ToLower(args[0]) {
	case "version":
		fmt.Printf("%s %s (built %s)\n", AppName, CurrentVersion, BuildDate)
	case "healthcheck":
		err = cmdHealthcheck()
	case "datasets":
		err = cmdDatasets()
	case "stats":
		err = cmdStats(args[1:])
	case "import":
		err = cmdImport(args[1:])
	case "fetch":
		err = cmdFetch(args[1:])
	case "replay":
		err = cmdReplay(args[1:])
	default:
		printUsage()
	}
	if err != nil {
		Logger.Error("Command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}
