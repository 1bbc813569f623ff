package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/app"
	"github.com/GriffinCanCode/gadgetry/internal/fetch"
	"github.com/GriffinCanCode/gadgetry/internal/gadget"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/config"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/logging"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/server"
	"github.com/GriffinCanCode/gadgetry/internal/shared/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errCrashed makes render exit non-zero after printing the crash report
var errCrashed = errors.New("page crashed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errCrashed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	var dev bool

	root := &cobra.Command{
		Use:           "gadgetry",
		Short:         "Host renderJS gadget pages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML or TOML file overlaid on the environment")
	root.PersistentFlags().BoolVar(&dev, "dev", false, "development logging")

	load := func() (*config.Config, *logging.Logger, error) {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return nil, nil, err
		}
		if dev {
			cfg.Logging.Development = true
			cfg.Logging.Level = "debug"
		}
		logger, err := logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
			OutputPaths: []string{"stderr"},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create logger: %w", err)
		}
		return cfg, logger, nil
	}

	root.AddCommand(newServeCmd(load), newRenderCmd(load))
	return root
}

type loader func() (*config.Config, *logging.Logger, error)

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newServeCmd(load loader) *cobra.Command {
	var port, rootURL, gadgetDir string
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP hosting surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("root") {
				cfg.Dev.RootURL = rootURL
			}
			if flags.Changed("gadgets") {
				cfg.Dev.GadgetDir = gadgetDir
			}
			if flags.Changed("watch") {
				cfg.Dev.Watch = watch
			}
			return serve(cfg, logger)
		},
	}
	cmd.Flags().StringVar(&port, "port", "8000", "server port")
	cmd.Flags().StringVar(&rootURL, "root", "", "URL of the root page")
	cmd.Flags().StringVar(&gadgetDir, "gadgets", "", "directory served under /gadgets")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload the root page when gadget sources change")
	return cmd
}

func serve(cfg *config.Config, logger *logging.Logger) error {
	srv, err := server.NewServer(cfg, logger, monitoring.NewMetrics())
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Run() }()

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Shutting down gracefully", zap.String("signal", sig.String()))
	case runErr = <-errChan:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Close(ctx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	return runErr
}

func newRenderCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "render URL",
		Short: "Open a page and print its document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := utils.ValidateGadgetURL(args[0], "url"); err != nil {
				return err
			}
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			opts := gadget.Options{
				Runtime: cfg.Runtime,
				Fetcher: fetch.NewClient(cfg.Fetch, fetch.Options{UserAgent: cfg.Runtime.UserAgent}, logger),
				Logger:  logger,
			}
			embedder, err := gadget.NewEmbedder(cfg.Frames, opts)
			if err != nil {
				return err
			}
			opts.Embedder = embedder

			pages := app.NewManager(opts)
			defer pages.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx, cancel = context.WithTimeout(ctx, cfg.Runtime.ScriptTimeout+cfg.Fetch.Timeout)
			defer cancel()

			out, crashed, err := pages.Render(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			if crashed {
				return errCrashed
			}
			return nil
		},
	}
}
