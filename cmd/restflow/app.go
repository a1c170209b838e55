package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/restflow/internal/config"
	"github.com/unkn0wn-root/restflow/internal/history"
	"github.com/unkn0wn-root/restflow/internal/httpclient"
	"github.com/unkn0wn-root/restflow/internal/logging"
	"github.com/unkn0wn-root/restflow/internal/oauth"
	"github.com/unkn0wn-root/restflow/internal/pipeline"
	"github.com/unkn0wn-root/restflow/internal/records"
	"github.com/unkn0wn-root/restflow/internal/scripts"
	"github.com/unkn0wn-root/restflow/internal/storage"
	"github.com/unkn0wn-root/restflow/internal/telemetry"
	"github.com/unkn0wn-root/restflow/internal/vars"
)

type globalFlags struct {
	configDir     string
	envName       string
	envFiles      []string
	logLevel      string
	storageDriver string
	storagePath   string
	noColor       bool
}

// app is everything a command needs, built once per process on first use.
type app struct {
	settings  config.Settings
	handle    config.SettingsHandle
	logger    *zap.Logger
	backend   storage.Backend
	history   *history.Store
	records   *records.Store
	vars      *vars.Store
	envID     string
	client    *httpclient.Client
	telemetry telemetry.Instrumenter
	executor  *pipeline.Executor
}

func newApp(ctx context.Context, flags globalFlags) (*app, error) {
	dir := flags.configDir
	if dir == "" {
		dir = config.Dir()
	}
	settings, handle, err := config.LoadSettingsFrom(dir)
	if err != nil {
		return nil, err
	}
	if flags.configDir != "" && settings.Storage.Path == config.DataDir() {
		settings.Storage.Path = filepath.Join(dir, "data")
	}
	if flags.logLevel != "" {
		settings.Log.Level = flags.logLevel
	}
	if flags.storageDriver != "" {
		settings.Storage.Driver = flags.storageDriver
	}
	if flags.storagePath != "" {
		settings.Storage.Path = flags.storagePath
	}

	logger, err := logging.New(settings.Log)
	if err != nil {
		return nil, err
	}

	a := &app{settings: settings, handle: handle, logger: logger}
	a.backend = storage.OpenOrMemory(ctx, settings.StorageConfig(), logger)

	a.history = history.NewStore(a.backend,
		history.WithMaxEntries(settings.History.MaxEntries),
		history.WithLogger(logger),
	)
	if err := a.history.Load(ctx); err != nil {
		logger.Warn("history load failed", zap.Error(err))
	}
	a.records = records.NewStore(a.backend, records.WithLogger(logger))
	if err := a.records.Load(ctx); err != nil {
		logger.Warn("records load failed", zap.Error(err))
	}

	a.vars = vars.NewStore(vars.Scopes{Global: settings.Vars.Global})
	files := append(append([]string(nil), settings.Vars.Files...), flags.envFiles...)
	for _, path := range files {
		set, err := vars.LoadEnvironmentFile(path)
		if err != nil {
			a.close()
			return nil, err
		}
		a.vars.AddEnvironments(set)
	}
	a.envID = selectEnvironment(a.vars.Environments(), flags.envName, settings.Vars.Environment)

	a.client, err = httpclient.NewClient(settings.HTTPOptions())
	if err != nil {
		a.close()
		return nil, err
	}
	a.client.SetLogger(logger)

	a.telemetry, err = telemetry.New(settings.TelemetryConfig(os.Getenv, version))
	if err != nil {
		logger.Warn("telemetry init failed", zap.Error(err))
		a.telemetry = telemetry.Noop()
	}
	a.client.SetTelemetry(a.telemetry)

	runner := scripts.NewRunner(
		scripts.WithTimeout(settings.Scripts.Timeout.Duration),
		scripts.WithLogger(logger),
	)
	a.executor = pipeline.New(a.client,
		pipeline.WithVars(a.vars),
		pipeline.WithScripts(runner),
		pipeline.WithAuthorizer(oauth.NewManager(a.client.HTTPClient(), logger), settings.HTTP.OAuthClientAuth),
		pipeline.WithHistory(a.history),
		pipeline.WithRecords(a.records),
		pipeline.WithLogger(logger),
	)
	return a, nil
}

func (a *app) close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("history close failed", zap.Error(err))
		}
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Warn("storage close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// selectEnvironment prefers an explicit choice, then the configured default,
// then a conventional name, then the first environment alphabetically.
func selectEnvironment(names []string, explicit, configured string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured
	}
	if len(names) == 0 {
		return ""
	}
	for _, preferred := range []string{"dev", "default", "local"} {
		for _, name := range names {
			if name == preferred {
				return name
			}
		}
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return sorted[0]
}

// session defers building the app until a command needs it, so --help and
// version never touch storage.
type session struct {
	flags  globalFlags
	app    *app
	out    io.Writer
	errOut io.Writer
}

func (s *session) open(ctx context.Context) (*app, error) {
	if s.app != nil {
		return s.app, nil
	}
	a, err := newApp(ctx, s.flags)
	if err != nil {
		return nil, err
	}
	s.app = a
	return a, nil
}

func (s *session) close() {
	if s.app != nil {
		s.app.close()
		s.app = nil
	}
}

func (s *session) styles() styles {
	return newStyles(s.out, s.flags.noColor)
}
