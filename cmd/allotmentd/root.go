package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
	"github.com/JakeFAU/ipo-allotment-checker/internal/config"
	"github.com/JakeFAU/ipo-allotment-checker/internal/server"
)

type configKeyType struct{}

// App is the slice of the application the commands use. Tests replace newApp with a fake.
type App interface {
	Run(ctx context.Context) error
	Check(ctx context.Context, clientID string, req allotment.CheckRequest) (allotment.Response, error)
	Catalog() allotment.Catalog
	Close(ctx context.Context) error
}

type serverApp struct {
	*server.App
}

func (a serverApp) Check(ctx context.Context, clientID string, req allotment.CheckRequest) (allotment.Response, error) {
	return a.Service().Check(ctx, clientID, req)
}

var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}
	return serverApp{App: app}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "allotmentd",
		Short: "IPO allotment status checker",
		Long: `allotmentd checks IPO allotment status directly against registrar websites.
It serves the HTTP API and offers one-shot checks and registrar validation
from the command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Load config once; subcommands build the application they need.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKeyType{}, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (env ALLOTMENT_* overrides)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newRegistrarsCmd())
	return cmd
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKeyType{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// withApp builds the application, runs fn and closes it.
func withApp(ctx context.Context, fn func(App) error) (err error) {
	cfg, err := resolveConfig(ctx)
	if err != nil {
		return err
	}
	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = fmt.Errorf("close application: %w", cerr)
		}
	}()
	return fn(app)
}
