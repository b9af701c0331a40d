// Package daemon provides the web service daemon for the image host.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/azcx/imagehost/internal/blob"
	"github.com/azcx/imagehost/internal/catalog"
	"github.com/azcx/imagehost/internal/cli"
	"github.com/azcx/imagehost/internal/config"
	"github.com/azcx/imagehost/internal/constants"
	"github.com/azcx/imagehost/internal/fanout"
	"github.com/azcx/imagehost/internal/params"
	"github.com/azcx/imagehost/internal/queue"
	"github.com/azcx/imagehost/internal/reconcile"
	"github.com/azcx/imagehost/internal/webservice"
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

	WebserviceConfig webservice.StaticConfig
	DBConfig         catalog.Config

	Bucket      string
	QueueURL    string
	TopicARN    string
	ParamPrefix string

	ConfigPath string
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}

	a.cmd = &cobra.Command{
		Use:           constants.WebServiceCmdName,
		Short:         "Image host web service",
		Long: "Image host web service serves image uploads and downloads, manages notification subscriptions, " +
			"and triggers consistency audits between the metadata catalog and the blob store.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.WebServiceCmdName, a.cmd, a.viper); err != nil {
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
	cmd.Flags().StringVarP(&app.config.ConfigPath, "daemon-config", "c", "", "path to the upload policy configuration file")
	cmd.Flags().StringVar(&app.config.WebserviceConfig.PublicBaseURL, "public-base-url", "http://localhost", "base URL used to build image download links")

	// Server flags
	cmd.Flags().DurationVar(&app.config.WebserviceConfig.ReadTimeout, "read-timeout", 5*time.Second, "read timeout for the HTTP server")
	cmd.Flags().DurationVar(&app.config.WebserviceConfig.WriteTimeout, "write-timeout", 30*time.Second, "write timeout for the HTTP server")
	cmd.Flags().DurationVar(&app.config.WebserviceConfig.RequestTimeout, "request-timeout", 25*time.Second, "request timeout for the HTTP server")
	cmd.Flags().IntVar(&app.config.WebserviceConfig.MaxHeaderBytes, "max-header-bytes", 1<<13, "maximum header bytes for the HTTP server")
	cmd.Flags().IntVar(&app.config.WebserviceConfig.MaxUploadBytes, "max-upload-bytes", 1<<25, "maximum upload size in bytes")
	cmd.Flags().StringVar(&app.config.WebserviceConfig.ListenHost, "listen-host", "", "host for the HTTP server to listen on")
	cmd.Flags().IntVar(&app.config.WebserviceConfig.ListenPort, "listen-port", 8080, "port for the HTTP server to listen on")

	// Store flags
	cmd.Flags().StringVar(&app.config.Bucket, "bucket", "", "name of the blob store bucket holding images")
	cmd.Flags().StringVar(&app.config.QueueURL, "queue-url", "", "URL of the upload-notification queue")
	cmd.Flags().StringVar(&app.config.TopicARN, "topic-arn", "", "ARN of the upload-notification topic")
	cmd.Flags().StringVar(&app.config.ParamPrefix, "param-prefix", "", "SSM parameter store prefix to load settings from (overrides flags)")

	addDBFlags(cmd, &app.config.DBConfig)

	if err := cmd.MarkFlagFilename("daemon-config"); err != nil {
		panic(fmt.Sprintf("failed to mark daemon-config flag as filename: %v", err))
	}
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

	a.config.ConfigPath, err = filepath.Abs(a.config.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for config file: %v", err)
	}

	if a.config.ParamPrefix != "" {
		if err := a.applyStoreParams(ctx); err != nil {
			return err
		}
	}

	cm := config.New(a.config.ConfigPath)
	db, err := catalog.New(ctx, a.config.DBConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}

	blobs, err := blob.New(ctx, a.config.Bucket)
	if err != nil {
		return fmt.Errorf("failed to create blob store client: %v", err)
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
	auditor, err := reconcile.New(db, blobs, registry)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation engine: %v", err)
	}

	a.config.WebserviceConfig.ConfigPath = a.config.ConfigPath
	a.daemon, err = webservice.New(ctx, cm, webservice.Stores{
		Catalog:  db,
		Blobs:    blobs,
		Notifier: q,
		Broker:   broker,
		Auditor:  auditor,
	}, registry, a.config.WebserviceConfig)
	if err != nil {
		return fmt.Errorf("failed to create web service: %v", err)
	}
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
	if a.config.Bucket, err = store.Get(ctx, params.BucketName); err != nil {
		return err
	}
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
