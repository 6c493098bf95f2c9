// Package cmd defines the docverify CLI: the API server plus one-shot
// acquisition, verification, batch and cache maintenance commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docverify/internal/cache"
	"github.com/JakeFAU/docverify/internal/config"
	"github.com/JakeFAU/docverify/internal/logging"
	"github.com/JakeFAU/docverify/internal/server"
	"github.com/JakeFAU/docverify/internal/verify"
)

// appKeyType is the key for storing the runtime in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is what commands use. *server.App satisfies it; tests inject fakes.
type App interface {
	Service() *verify.Service
	Cache() *cache.Cache
	Run(ctx context.Context) error
	Close(ctx context.Context)
}

// runtime is stored in the command context by the root pre-run hook.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	app    App
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (App, error) {
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "docverify",
		Short: "Acquire contract documents and check that their text is usable for verification.",
		Long: `docverify fetches the documents referenced by spreadsheet rows, caches them
under a byte budget, classifies why a fetch failed, and decides whether a
document's text layer is good enough to verify the row against.`,
		SilenceUsage: true,

		// Config, logger and application are built once for every subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			app, err := newApp(cmd.Context(), &cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			rt := &runtime{cfg: cfg, logger: logger, app: app}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, rt))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			rt, ok := cmd.Context().Value(appKey).(*runtime)
			if !ok || rt == nil {
				return
			}
			// serve closes the app itself during graceful shutdown.
			if cmd.Name() != "serve" {
				rt.app.Close(context.Background())
			}
			_ = rt.logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(
		newServeCmd(),
		newAcquireCmd(),
		newVerifyCmd(),
		newBatchCmd(),
		newCacheCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "docverify: %v\n", err)
		os.Exit(1)
	}
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(appKey).(*runtime)
	if !ok || rt == nil || rt.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}
