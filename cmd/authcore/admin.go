package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/neaweb/authcore"
	"github.com/neaweb/authcore/internal/logging"
	"github.com/neaweb/authcore/password"
)

// NewHashPasswordCmd creates the hash-password subcommand.
func NewHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin",
		Long: `Read one line from stdin, check it against the password policy and print
its bcrypt digest at the configured cost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadCommandConfig(cmd)
			if err != nil {
				return err
			}

			plaintext, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}

			h, err := password.New(password.Config{
				Cost:      cfg.Password.Cost,
				MinLength: cfg.Password.MinLength,
			})
			if err != nil {
				return oops.Code("CONFIG_INVALID").Wrap(err)
			}
			if err := h.CheckPolicy(plaintext); err != nil {
				return err
			}
			digest, err := h.Hash(cmd.Context(), plaintext)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), digest)
			return err
		},
	}
}

const (
	flagAdminEmail = "email"
	flagAdminName  = "name"
)

// NewCreateAdminCmd creates the create-admin subcommand.
func NewCreateAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account",
		Long:  `Create a password account with role admin. The password is read from stdin.`,
		Args:  cobra.NoArgs,
		RunE:  runCreateAdmin,
	}

	defaults := defaultAppConfig()
	f := cmd.Flags()
	f.String(flagAdminEmail, "", "admin email address")
	f.String(flagAdminName, "Administrator", "admin display name")
	f.String(flagStore, defaults.Database.Driver, "credential store (postgres or memory)")
	f.String(flagDatabaseURL, "", "PostgreSQL connection string")
	_ = cmd.MarkFlagRequired(flagAdminEmail)

	return cmd
}

func runCreateAdmin(cmd *cobra.Command, _ []string) error {
	cfg, err := loadCommandConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	// No requests are served, so no limiter is needed.
	cfg.RateLimit.Enabled = false

	email, _ := cmd.Flags().GetString(flagAdminEmail)
	name, _ := cmd.Flags().GetString(flagAdminName)

	plaintext, err := readSecret(cmd.InOrStdin())
	if err != nil {
		return err
	}

	logger := logging.Setup(serviceName, version, cfg.Log.Format, "warn", cmd.ErrOrStderr())

	d, err := openDeps(cmd.Context(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer d.Close()

	engine, err := buildEngine(cfg, d, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close(cmd.Context()) }()

	view, err := engine.CreateAdmin(cmd.Context(), authcore.RegisterRequest{
		Name:     name,
		Email:    email,
		Password: plaintext,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", view.Email, view.ID)
	return err
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", oops.Wrap(err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", oops.Code("INPUT_INVALID").Errorf("password must be given on stdin")
	}
	return line, nil
}
