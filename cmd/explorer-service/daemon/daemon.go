// Package daemon provides the explorer web service daemon of the anomaly explorer.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ubuntu/anomaly-explorer/internal/common/cli"
	"github.com/ubuntu/anomaly-explorer/internal/common/config"
	"github.com/ubuntu/anomaly-explorer/internal/common/constants"
	"github.com/ubuntu/anomaly-explorer/internal/database"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/data"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/jobs"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/page"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects/schema"
	"github.com/ubuntu/anomaly-explorer/internal/webservice"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	daemon *webservice.Server

	ready chan struct{}
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool

	Daemon        webservice.StaticConfig
	DBconfig      database.Config
	Cache         cacheConfig
	TypesPath     string
	Timezone      string
	MigrationsDir string
}

// cacheConfig configures the Redis cache of explorer loads. No address disables the cache.
type cacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}

	a.cmd = &cobra.Command{
		Use:           constants.ExplorerServiceCmdName,
		Short:         "Anomaly explorer web service",
		Long:          "Anomaly explorer web service serves the saved objects API and the anomaly explorer views of the anomaly detection results stored in PostgreSQL.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.ExplorerServiceCmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}
			slog.Info("got app config", "config", a.config)

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cmd.SilenceUsage = true

			return a.run()
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	installMigrateCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	a.installVersion()

	return &a, nil
}

func installRootCmd(app *App) {
	cmd := app.cmd

	defaultConf := webservice.StaticConfig{
		ConfigPath: "",

		ReadTimeout:    5 * time.Second,
		WriteTimeout:   30 * time.Second,
		RequestTimeout: 20 * time.Second,
		MaxHeaderBytes: 1 << 13, // 8 KB
		MaxBodyBytes:   1 << 20, // 1 MB

		ListenPort:  5601,
		MetricsPort: 2112,
	}

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "enable JSON formatted logs")

	// Daemon flags
	cmd.Flags().StringVarP(&app.config.Daemon.ConfigPath, "daemon-config", "c", defaultConf.ConfigPath, "path to the configuration file")
	cmd.Flags().StringVar(&app.config.TypesPath, "types", "", "path to a YAML or TOML file of saved object type definitions")
	cmd.Flags().StringVar(&app.config.Timezone, "timezone", "UTC", "time zone used to resolve relative time ranges")

	cmd.Flags().DurationVar(&app.config.Daemon.ReadTimeout, "read-timeout", defaultConf.ReadTimeout, "read timeout for HTTP server")
	cmd.Flags().DurationVar(&app.config.Daemon.WriteTimeout, "write-timeout", defaultConf.WriteTimeout, "write timeout for HTTP server")
	cmd.Flags().DurationVar(&app.config.Daemon.RequestTimeout, "request-timeout", defaultConf.RequestTimeout, "request timeout for HTTP server")
	cmd.Flags().IntVar(&app.config.Daemon.MaxHeaderBytes, "max-header-bytes", defaultConf.MaxHeaderBytes, "maximum header bytes for HTTP server")
	cmd.Flags().IntVar(&app.config.Daemon.MaxBodyBytes, "max-body-bytes", defaultConf.MaxBodyBytes, "maximum request body bytes for HTTP server")

	cmd.Flags().StringVar(&app.config.Daemon.ListenHost, "listen-host", defaultConf.ListenHost, "host to listen on")
	cmd.Flags().IntVar(&app.config.Daemon.ListenPort, "listen-port", defaultConf.ListenPort, "port to listen on")

	cmd.Flags().StringVar(&app.config.Daemon.MetricsHost, "metrics-host", defaultConf.MetricsHost, "host for the metrics endpoint")
	cmd.Flags().IntVar(&app.config.Daemon.MetricsPort, "metrics-port", defaultConf.MetricsPort, "port for the metrics endpoint")

	// Cache flags
	cmd.Flags().StringVar(&app.config.Cache.Addr, "redis-addr", "", "address of the Redis server caching explorer data, disabled when empty")
	cmd.Flags().StringVar(&app.config.Cache.Password, "redis-password", "", "Redis password")
	cmd.Flags().IntVar(&app.config.Cache.DB, "redis-db", 0, "Redis database")
	cmd.Flags().DurationVar(&app.config.Cache.TTL, "cache-ttl", 5*time.Minute, "time to live of cached explorer data")

	addDBFlags(cmd, &app.config.DBconfig)

	err := cmd.MarkFlagFilename("daemon-config")
	if err != nil {
		// This should never happen.
		panic(fmt.Sprintf("failed to mark daemon-config flag as filename: %v", err))
	}

	err = cmd.MarkFlagFilename("types", "yaml", "yml", "toml")
	if err != nil {
		// This should never happen.
		panic(fmt.Sprintf("failed to mark types flag as filename: %v", err))
	}
}

func addDBFlags(cmd *cobra.Command, config *database.Config) {
	cmd.PersistentFlags().StringVar(&config.Host, "db-host", "", "database host")
	cmd.PersistentFlags().IntVarP(&config.Port, "db-port", "p", 5432, "database port")
	cmd.PersistentFlags().StringVarP(&config.User, "db-user", "u", "", "database user")
	cmd.PersistentFlags().StringVarP(&config.Password, "db-password", "P", "", "database password")
	cmd.PersistentFlags().StringVarP(&config.DBName, "db-name", "n", "", "database name")
	cmd.PersistentFlags().StringVarP(&config.SSLMode, "db-sslmode", "s", "", "database SSL mode")
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Hup prints all goroutine stack traces and return false to signal you shouldn't quit.
func (a App) Hup() (shouldQuit bool) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	fmt.Printf("%s", buf)
	return false
}

// Quit gracefully shuts down the daemon.
func (a *App) Quit() {
	a.WaitReady()
	if a.daemon != nil {
		a.daemon.Quit(false)
	}
}

// WaitReady waits for the daemon to be ready.
func (a *App) WaitReady() {
	<-a.ready
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}

// Addr returns the address the web service listens on, or an empty string before it listens.
func (a *App) Addr() string {
	if a.daemon == nil {
		return ""
	}
	return a.daemon.Addr()
}

func (a *App) run() (err error) {
	defer func() {
		select {
		case <-a.ready:
		default:
			close(a.ready)
		}
	}()

	a.config.Daemon.ConfigPath, err = filepath.Abs(a.config.Daemon.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for config file: %v", err)
	}
	dConf := a.config.Daemon
	cm := config.New(dConf.ConfigPath)

	loc, err := time.LoadLocation(a.config.Timezone)
	if err != nil {
		return fmt.Errorf("invalid time zone %q: %v", a.config.Timezone, err)
	}

	s := schema.Default()
	if a.config.TypesPath != "" {
		if s, err = schema.Load(a.config.TypesPath); err != nil {
			return err
		}
	}

	db, err := database.Connect(context.Background(), a.config.DBconfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close database", "err", err)
		}
	}()

	var loaderOpts []data.Options
	if c := a.config.Cache; c.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
		defer client.Close()
		loaderOpts = append(loaderOpts, data.WithRedis(client, c.TTL))
		slog.Info("Caching explorer data in Redis", "addr", c.Addr, "ttl", c.TTL)
	}

	repo := savedobjects.New(s, db)
	deps := webservice.Deps{
		Objects: repo,
		Explorer: page.Deps{
			Objects:  repo,
			Jobs:     jobs.New(repo, db),
			Loader:   data.New(db, loaderOpts...),
			Location: loc,
		},
	}

	a.daemon, err = webservice.New(context.Background(), cm, dConf, deps)
	if err != nil {
		return fmt.Errorf("failed to create server: %v", err)
	}
	close(a.ready)

	return a.daemon.Run()
}
