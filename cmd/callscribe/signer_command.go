package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"callscribe/internal/auth"
	"callscribe/internal/ledger"
	"callscribe/internal/logging"
	"callscribe/internal/proxy"
)

func newSignerCommand(ctx *commandContext) *cobra.Command {
	var (
		url  string
		name string
	)
	cmd := &cobra.Command{
		Use:   "signer",
		Short: "Run the privileged ledger signer and connect it to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateSigner(); err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			signer, err := ledger.NewRelaySigner(cfg)
			if err != nil {
				return err
			}

			if strings.TrimSpace(url) == "" {
				url = "ws://" + cfg.Daemon.APIBind + "/ws/privileged"
			}
			if strings.TrimSpace(name) == "" {
				name, _ = os.Hostname()
			}
			var token string
			if cfg.Daemon.APISecret != "" {
				token, err = auth.Issue(cfg.Daemon.APISecret, name, auth.RoleSigner, 0)
				if err != nil {
					return err
				}
			}

			responder, err := proxy.NewResponder(proxy.ResponderOptions{
				URL:    url,
				Token:  token,
				Name:   name,
				Signer: signer,
				Logger: logger,
			})
			if err != nil {
				return err
			}

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			fmt.Fprintf(cmd.OutOrStdout(), "Signer %q connecting to %s\n", name, url)
			return responder.Run(runCtx)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Daemon websocket endpoint (defaults to the configured api_bind)")
	cmd.Flags().StringVar(&name, "name", "", "Context name reported to the daemon (defaults to the hostname)")
	return cmd
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Daemon.APISecret == "" {
				return fmt.Errorf("daemon.api_secret is not set; the API accepts unauthenticated requests")
			}
			switch role {
			case auth.RoleClient, auth.RoleSigner:
			default:
				return fmt.Errorf("unknown role %q (want %s or %s)", role, auth.RoleClient, auth.RoleSigner)
			}
			token, err := auth.Issue(cfg.Daemon.APISecret, subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "Token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleClient, "Token role: client or signer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime; 0 never expires")
	return cmd
}
