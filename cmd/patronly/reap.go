// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/patronly/patronly/internal/auth"
	"github.com/patronly/patronly/internal/config"
)

// newReapCmd creates the one-shot expired session sweep.
func newReapCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete expired sessions once and exit",
		Long: `Delete every expired session from the configured session backend.
serve does this periodically; reap is for cron-style deployments.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runReap(cmd, cfg, deps)
		},
	}
}

func runReap(cmd *cobra.Command, cfg *config.Config, deps *Deps) error {
	deps = deps.withDefaults()
	logger := setupLogging(cmd, cfg)
	ctx := cmd.Context()

	var pool Pool
	if cfg.Session.Backend == config.BackendPostgres {
		var err error
		pool, err = openPool(ctx, cfg, deps, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	sessions, err := openSessionStore(ctx, cfg, pool, deps, logger)
	if err != nil {
		return err
	}
	defer sessions.close()

	reaper, err := auth.NewExpiryReaper(cfg.ReaperConfig(), sessions.repo,
		auth.WithReaperLogger(logger),
	)
	if err != nil {
		return err
	}

	deleted, err := reaper.RunOnce(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("Deleted %d expired sessions\n", deleted)
	return nil
}
