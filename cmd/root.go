// Package cmd defines and implements the CLI commands for the webspider
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webspider/internal/app"
	"github.com/JakeFAU/webspider/internal/config"
	"github.com/JakeFAU/webspider/internal/logging"
	"github.com/JakeFAU/webspider/internal/sitetree"
	"github.com/JakeFAU/webspider/internal/spider"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of the application the commands use. Tests inject a fake.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Controller() *spider.Controller
	Registrar() *sitetree.Registrar
	Handler() http.Handler
	WaitForScan(ctx context.Context, id int) (spider.Summary, error)
	Close(ctx context.Context) error
}

// newApp is the application factory. It is a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.NewApp(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "webspider",
		Short: "A concurrent web spider with an HTTP control API.",
		Long: `webspider discovers the URLs of a site by following links from pages
it has already seen. Scans run concurrently and can be started, paused,
resumed and stopped through the HTTP API or run one-shot from the CLI.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			appInstance, ok := cmd.Context().Value(appKey).(App)
			if !ok || appInstance == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			logger := appInstance.Logger()
			if err := appInstance.Close(ctx); err != nil {
				logger.Warn("close application failed", zap.Error(err))
			}
			_ = logger.Sync() //nolint:errcheck // best-effort flush
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
