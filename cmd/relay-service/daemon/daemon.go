// Package daemon provides the relay service daemon for the image host.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/azcx/imagehost/internal/catalog"
	"github.com/azcx/imagehost/internal/cli"
	"github.com/azcx/imagehost/internal/constants"
	"github.com/azcx/imagehost/internal/fanout"
	"github.com/azcx/imagehost/internal/metrics"
	"github.com/azcx/imagehost/internal/params"
	"github.com/azcx/imagehost/internal/queue"
	"github.com/azcx/imagehost/internal/relay"
	"github.com/azcx/imagehost/internal/relayservice"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	daemon *relayservice.Service

	ready chan struct{}
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool

	MetricsConfig metrics.Config
	DBConfig      catalog.Config

	QueueURL    string
	TopicARN    string
	ParamPrefix string

	PollInterval time.Duration
	BatchSize    int32
	WaitSeconds  int32

	MigrationsDir string
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}

	a.cmd = &cobra.Command{
		Use:           constants.RelayServiceCmdName,
		Short:         "Image host relay service",
		Long: "Image host relay service drains upload notices from the notification queue " +
			"and publishes human-readable alerts to subscribers.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.RelayServiceCmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Update logging after loading config if necessary
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

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "enable JSON formatted logs")

	// Daemon flags
	cmd.Flags().StringVar(&app.config.QueueURL, "queue-url", "", "URL of the upload-notification queue")
	cmd.Flags().StringVar(&app.config.TopicARN, "topic-arn", "", "ARN of the upload-notification topic")
	cmd.Flags().StringVar(&app.config.ParamPrefix, "param-prefix", "", "SSM parameter store prefix to load settings from (overrides flags)")
	cmd.Flags().DurationVar(&app.config.PollInterval, "poll-interval", time.Minute, "interval between queue polls")
	cmd.Flags().Int32Var(&app.config.BatchSize, "batch-size", 10, "maximum number of messages per poll")
	cmd.Flags().Int32Var(&app.config.WaitSeconds, "wait-seconds", 5, "long-poll wait of each receive call, in seconds")

	// Metrics server flags
	cmd.Flags().DurationVar(&app.config.MetricsConfig.ReadTimeout, "read-timeout", 5*time.Second, "read timeout for the metrics HTTP server")
	cmd.Flags().DurationVar(&app.config.MetricsConfig.WriteTimeout, "write-timeout", 10*time.Second, "write timeout for the metrics HTTP server")
	cmd.Flags().StringVar(&app.config.MetricsConfig.Host, "metrics-host", "", "host for the metrics endpoint")
	cmd.Flags().IntVar(&app.config.MetricsConfig.Port, "metrics-port", 2113, "port for the metrics endpoint")

	addDBFlags(cmd, &app.config.DBConfig)
}

func addDBFlags(cmd *cobra.Command, config *catalog.Config) {
	cmd.Flags().StringVar(&config.Host, "db-host", "", "database host")
	cmd.Flags().IntVarP(&config.Port, "db-port", "p", 5432, "database port")
	cmd.Flags().StringVarP(&config.User, "db-user", "u", "", "database user")
	cmd.Flags().StringVarP(&config.Password, "db-password", "P", "", "database password")
	cmd.Flags().StringVarP(&config.DBName, "db-name", "n", "", "database name")
	cmd.Flags().StringVarP(&config.SSLMode, "db-sslmode", "s", "", "database SSL mode")
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

func (a *App) run() (err error) {
	ctx := context.Background()

	if a.config.ParamPrefix != "" {
		if err := a.applyStoreParams(ctx); err != nil {
			return err
		}
	}

	q, err := queue.New(ctx, a.config.QueueURL)
	if err != nil {
		return fmt.Errorf("failed to create queue client: %v", err)
	}
	broker, err := fanout.New(ctx, a.config.TopicARN)
	if err != nil {
		return fmt.Errorf("failed to create fanout client: %v", err)
	}

	registry := prometheus.NewRegistry()
	worker, err := relay.New(q, broker, registry,
		relay.WithInterval(a.config.PollInterval),
		relay.WithBatchSize(a.config.BatchSize),
		relay.WithWaitSeconds(a.config.WaitSeconds))
	if err != nil {
		return fmt.Errorf("failed to create relay worker: %v", err)
	}

	metricsServer := metrics.New(a.config.MetricsConfig, registry)

	a.daemon = relayservice.New(ctx, worker, metricsServer)
	close(a.ready)

	return a.daemon.Run()
}

// applyStoreParams overrides store settings with values from the parameter store.
func (a *App) applyStoreParams(ctx context.Context) error {
	store, err := params.New(ctx, a.config.ParamPrefix)
	if err != nil {
		return fmt.Errorf("failed to create parameter store client: %v", err)
	}

	slog.Info("Loading settings from parameter store", "prefix", a.config.ParamPrefix)
	if a.config.QueueURL, err = store.Get(ctx, params.QueueURL); err != nil {
		return err
	}
	if a.config.TopicARN, err = store.Get(ctx, params.TopicARN); err != nil {
		return err
	}
	if a.config.DBConfig.Host, err = store.Get(ctx, params.RDSEndpoint); err != nil {
		return err
	}
	if a.config.DBConfig.DBName, err = store.Get(ctx, params.RDSDatabase); err != nil {
		return err
	}
	if a.config.DBConfig.User, err = store.Get(ctx, params.RDSUsername); err != nil {
		return err
	}
	a.config.DBConfig.Password = store.GetOptional(ctx, params.RDSPassword)

	return nil
}
