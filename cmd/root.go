package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/runner"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Controller is the slice of the run controller the CLI drives.
type Controller interface {
	Start() (runner.Status, error)
	TogglePause() (runner.Status, error)
	Cancel(ctx context.Context) (runner.Status, error)
	Wait(ctx context.Context) (runner.Status, error)
}

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close(ctx context.Context) error
	GetLogger() *zap.Logger
	Run() Controller
	Serve(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(cfg config.Config) (App, error) {
	a, err := app.Build(cfg)
	if err != nil {
		return nil, err
	}
	return appAdapter{a}, nil
}

// appAdapter narrows *app.App to the App interface.
type appAdapter struct {
	*app.App
}

func (a appAdapter) Run() Controller {
	return a.Controller()
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog-crawler",
		Short: "Crawls a paginated catalog site into a CSV file and an image directory.",
		Long: `catalog-crawler walks the category, listing and detail pages of a catalog
site, normalizes each detail page into a record, and writes the records to a
timestamped CSV file next to a directory of cover images.`,
		SilenceUsage: true,

		// Load configuration and build the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// Shut services down once the subcommand returns.
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, ok := cmd.Context().Value(appKey).(App)
			if !ok || appInstance == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return appInstance.Close(ctx)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
