package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/jeremyhahn/go-trusted-relay/pkg/config"
	"github.com/jeremyhahn/go-trusted-relay/pkg/connector"
	"github.com/jeremyhahn/go-trusted-relay/pkg/credential"
	"github.com/jeremyhahn/go-trusted-relay/pkg/logging"
	"github.com/jeremyhahn/go-trusted-relay/pkg/store/requeststore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	ErrConfigNotFound    = errors.New("trusted-relay: configuration file not found")
	ErrConnectorNotFound = errors.New("trusted-relay: connector not found")
	ErrNoConnectors      = errors.New("trusted-relay: no connectors available")

	ENV_DEV     Environment = "dev"
	ENV_PREPROD Environment = "preprod"
	ENV_PROD    Environment = "prod"
	ENV_TEST    Environment = "test"
)

type Environment string

func (e Environment) String() string {
	return string(e)
}

func ParseEnvironment(env string) Environment {
	switch env {
	case string(ENV_DEV):
		return ENV_DEV
	case string(ENV_PREPROD):
		return ENV_PREPROD
	case string(ENV_PROD):
		return ENV_PROD
	case string(ENV_TEST):
		return ENV_TEST
	default:
		return Environment(env)
	}
}

type App struct {
	Config      config.Relay
	Connectors  []*connector.Connector
	Credentials credential.Provider
	Environment Environment
	Logger      *logging.Logger
	Registry    *prometheus.Registry
	Store       *requeststore.Store

	configFile string
	fs         afero.Fs
	logFile    afero.File
	running    atomic.Bool
}

func NewApp() *App {
	return new(App)
}

type AppInitParams struct {
	ConfigDir   string
	Debug       bool
	Env         string
	LogDir      string
	PlatformDir string
	// Prompts for the password of an encrypted private key. Optional;
	// the key password in the configuration file is used when nil.
	KeyPassword credential.PasswordFunc
	// Filesystem holding the log and credential files. Defaults to
	// the operating system filesystem.
	Fs afero.Fs
	// Defaults to the global viper instance, which carries the bound
	// command line flags
	Viper *viper.Viper
}

// Initialize the relay by loading the configuration file, opening the log
// file and request store, and preparing the credential provider. The
// connectors are created separately by InitConnectors.
func (app *App) Init(initParams *AppInitParams) (*App, error) {
	if initParams == nil {
		initParams = &AppInitParams{}
	}
	app.fs = initParams.Fs
	if app.fs == nil {
		app.fs = afero.NewOsFs()
	}
	app.Environment = ParseEnvironment(initParams.Env)

	if err := app.initConfig(initParams); err != nil {
		return nil, err
	}
	if err := app.initLogger(); err != nil {
		return nil, err
	}

	store, err := requeststore.NewFromConfig(app.Logger, &app.Config.RequestStore)
	if err != nil {
		app.Logger.Error(err)
		return nil, err
	}
	app.Store = store

	app.Credentials = credential.NewFileProvider(
		app.Logger,
		app.fs,
		app.Config.Credentials,
		app.passwordFunc(initParams.KeyPassword))

	app.Registry = prometheus.NewRegistry()

	return app, nil
}

// Reads config.yaml from the config directory, the platform etc
// directory, the user's home directory or the working directory, in
// that order. When none is found, config.<env>.yaml is tried instead.
func (app *App) initConfig(initParams *AppInitParams) error {

	v := initParams.Viper
	if v == nil {
		v = viper.GetViper()
	}

	app.Config = config.DefaultConfig
	if initParams.PlatformDir != "" {
		app.Config.PlatformDir = initParams.PlatformDir
	}
	if initParams.ConfigDir != "" {
		app.Config.ConfigDir = initParams.ConfigDir
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if app.Config.ConfigDir != "" {
		v.AddConfigPath(app.Config.ConfigDir)
	}
	v.AddConfigPath(fmt.Sprintf("%s/etc", app.Config.PlatformDir))
	v.AddConfigPath(fmt.Sprintf("$HOME/.%s/", Name))
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Try to load a config based on the environment
		v.SetConfigName(fmt.Sprintf("config.%s", app.Environment))
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				return ErrConfigNotFound
			}
			return err
		}
	}

	app.configFile = v.ConfigFileUsed()
	if err := v.Unmarshal(&app.Config); err != nil {
		return err
	}

	// Command line options override the config file
	if initParams.Debug {
		app.Config.Debug = true
	}
	if initParams.LogDir != "" {
		app.Config.LogDir = initParams.LogDir
	}
	if initParams.PlatformDir != "" {
		app.Config.PlatformDir = initParams.PlatformDir
	}
	if initParams.ConfigDir != "" {
		app.Config.ConfigDir = initParams.ConfigDir
	}

	return app.Config.Validate()
}

// Creates a new file and STDOUT logger. If debug is enabled, the logger
// is initialized in debug mode and also writes to STDOUT.
func (app *App) initLogger() error {
	f, err := app.InitLogFile()
	if err != nil {
		return err
	}
	app.logFile = f

	level := slog.LevelInfo
	if app.Config.Debug {
		level = slog.LevelDebug
	}
	app.Logger = logging.NewLogger(level, f)
	app.Logger.Debug("Starting logger in debug mode...")
	app.Logger.Info("Using configuration file",
		slog.String("file", app.configFile),
		slog.String("environment", app.Environment.String()))
	return nil
}

// Opens the relay log file in append mode, creating it and the log
// directory if they don't exist.
func (app *App) InitLogFile() (afero.File, error) {
	if err := app.fs.MkdirAll(app.Config.LogDir, os.ModePerm); err != nil {
		return nil, err
	}
	perm := os.FileMode(0644)
	if app.Config.Debug {
		perm = os.ModePerm
	}
	logFile := filepath.Join(app.Config.LogDir, fmt.Sprintf("%s.log", Name))
	return app.fs.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, perm)
}

// Creates a connector for every configured remote authority. A connector
// that can not be created is logged and its remote authority disabled;
// the remaining connectors are still created.
func (app *App) InitConnectors() error {
	app.Connectors = app.Connectors[:0]
	for i := range app.Config.Connectors {
		connectorConfig := &app.Config.Connectors[i]
		c, err := connector.New(&connector.Params{
			Logger:      app.Logger,
			Config:      connectorConfig,
			Store:       app.Store,
			Credentials: app.Credentials,
			Liveness:    connector.LivenessFunc(app.IsRunning),
			Registerer:  app.Registry,
		})
		if err != nil {
			app.Logger.Error(err,
				slog.String("connector", config.ConnectorName(connectorConfig)),
				slog.String("authority", connectorConfig.Authority.Host))
			continue
		}
		app.Connectors = append(app.Connectors, c)
	}
	if len(app.Connectors) == 0 {
		return ErrNoConnectors
	}
	return nil
}

// Returns the named connector. An empty name selects the connector
// when exactly one is available.
func (app *App) Connector(name string) (*connector.Connector, error) {
	if name == "" && len(app.Connectors) == 1 {
		return app.Connectors[0], nil
	}
	for _, c := range app.Connectors {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrConnectorNotFound, name)
}

// Starts the resend task of every connector
func (app *App) Start() {
	app.running.Store(true)
	for _, c := range app.Connectors {
		c.Start()
	}
}

// Stops the connectors, waiting for in-flight resend ticks, then closes
// the log file
func (app *App) Stop() {
	app.running.Store(false)
	// Each connector waits for its in-flight resend tick
	var g errgroup.Group
	for _, c := range app.Connectors {
		g.Go(func() error {
			c.Stop()
			return nil
		})
	}
	g.Wait()
	if app.logFile != nil {
		app.Logger.Info("Graceful shutdown complete")
		app.Logger.MaybeError(app.logFile.Close())
		app.logFile = nil
	}
}

// Reports whether the relay is accepting work. Connectors skip resend
// ticks while the relay is not running.
func (app *App) IsRunning() bool {
	return app.running.Load()
}

func (app *App) passwordFunc(prompt credential.PasswordFunc) credential.PasswordFunc {
	if prompt == nil || app.Config.Credentials.KeyPassword != "" {
		return nil
	}
	return prompt
}
