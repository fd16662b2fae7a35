package main

import (
	"github.com/spf13/cobra"
)

const serviceName = "authcore"

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authcore",
		Short: "Authentication service",
		Long: `authcore serves registration, login, password reset and Google sign-in
over HTTP, and carries the operator commands that go with it.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String(flagConfig, "", "config file path (YAML)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewHashPasswordCmd())
	cmd.AddCommand(NewCreateAdminCmd())

	return cmd
}
