package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tsumugi/internal/api"
	"tsumugi/internal/catalog"
	"tsumugi/internal/logging"
	"tsumugi/internal/preflight"
	"tsumugi/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var skipChecks bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the enrichment API server",
		Long:  "Run the HTTP API on paths.api_bind until interrupted. Refuses to start when preflight checks fail unless --skip-checks is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			release, err := acquireInstanceLock(cfg)
			if err != nil {
				return err
			}
			defer release()

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := catalog.Open(cfg)
			if err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer store.Close()

			checks := preflight.RunAll(signalCtx, cfg)
			checks = append(checks, preflight.CheckDatabase(signalCtx, store))
			for _, check := range checks {
				if check.Passed {
					logger.Info("preflight check passed", logging.String("check", check.Name), logging.String("detail", check.Detail))
					continue
				}
				logger.Error("preflight check failed", logging.String("check", check.Name), logging.String("detail", check.Detail))
			}
			if !preflight.Passed(checks) && !skipChecks {
				return fmt.Errorf("preflight checks failed; fix the reported problems or rerun with --skip-checks")
			}

			svc, err := api.NewService(cfg, store, logger)
			if err != nil {
				return fmt.Errorf("build service: %w", err)
			}

			srv, err := server.New(cfg, svc, logger)
			if err != nil {
				return err
			}
			if err := srv.Start(signalCtx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving enrichment API on %s\n", srv.Addr())

			<-signalCtx.Done()
			srv.Stop()
			logger.Info("enrichment API shutting down")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Start even when preflight checks fail")
	return cmd
}
