package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatrelay/internal/app"
	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/config"
	applog "github.com/vovakirdan/chatrelay/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:           "chatrelay",
		Short:         "WebSocket chat relay",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLog := applog.New(overrides.LogLevel)

			cfg, path, err := config.Load(bootLog, configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(overrides)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := applog.New(cfg.LogLevel)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Str("ws_path", cfg.WSPath).Msg("starting chat relay")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&cfg, logger)
			if err != nil {
				return err
			}
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to config file (default ./chatrelay.yaml)")
	flags.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&overrides.WSPath, "ws-path", "", "WebSocket upgrade path")
	flags.DurationVar(&overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	flags.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	flags.IntVar(&overrides.RateLimitPerMinute, "rate-limit", 0, "inbound messages per minute per connection (0 = unlimited)")
	flags.StringVar(&overrides.JWTSecret, "jwt-secret", "", "HS256 secret for session tokens")
	flags.BoolVar(&overrides.JWTRequired, "jwt-required", false, "refuse connections without a valid token")
	flags.StringVar(&overrides.DatabasePath, "db", "", "SQLite database with the users table")

	cmd.AddCommand(newTokenCmd())
	return cmd
}

// newTokenCmd mints a session token, for local testing against a relay started with --jwt-secret.
func newTokenCmd() *cobra.Command {
	var (
		secret   string
		userID   string
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed session token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return fmt.Errorf("--secret is required")
			}
			token, err := auth.GenerateToken(&auth.JWTConfig{Secret: []byte(secret), TTL: ttl}, userID, username)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "HS256 secret")
	cmd.Flags().StringVar(&userID, "id", "", "user id claim")
	cmd.Flags().StringVar(&username, "username", "", "username claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

