// Command libraryctl is the operator CLI for the community library: seed the
// catalog, check store integrity, mint tokens and reserve copy ids. It reads
// the same configuration as the server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/community-library/internal/config"
	"github.com/sakif/community-library/internal/mirror"
	"github.com/sakif/community-library/internal/repository"
	"github.com/sakif/community-library/internal/server"
	"github.com/sakif/community-library/internal/service"
)

// errViolations makes verify exit 1 without printing a second message.
var errViolations = errors.New("integrity violations found")

type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func main() {
	a := &app{}
	root := a.rootCmd()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errViolations) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "libraryctl",
		Short:         "Operate a community library store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.configPath != "" {
				if err := os.Setenv(config.ConfigPathEnvVar, a.configPath); err != nil {
					return err
				}
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config.yaml (overrides CONFIG_PATH)")

	root.AddCommand(a.seedCmd(), a.verifyCmd(), a.tokenCmd(), a.allocateCmd())
	return root
}

// openServices opens the configured store and loads the mirror. The caller
// closes the returned store.
func (a *app) openServices(ctx context.Context) (*service.Services, repository.Store, error) {
	store, err := server.OpenStore(ctx, a.cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	m := mirror.New(store, a.logger)
	if err := m.Refresh(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("loading store: %w", err)
	}
	svc := service.New(service.Backend{Store: store, Mirror: m, Logger: a.logger}, nil, nil)
	return svc, store, nil
}
