// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/patronly/patronly/internal/config"
)

const serviceName = "patronly"

// defaultConfigPaths are tried in order when --config is not given.
var defaultConfigPaths = []string{"patronly.yaml", "/etc/patronly/patronly.yaml"}

// NewRootCmd creates the root command for the patronly CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patronly",
		Short: "patronly - supporter site authentication server",
		Long: `patronly serves email/password signup and signin with
cookie-based sessions backed by PostgreSQL or Redis.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newReapCmd(deps))

	return cmd
}

// loadConfig resolves the config file and layers the environment and the
// command's flags over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	explicit, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
	}
	return config.Load(config.ResolvePath(explicit, defaultConfigPaths...), cmd.Flags())
}
