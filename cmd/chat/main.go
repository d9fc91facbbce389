package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatrelay/internal/client"
	applog "github.com/vovakirdan/chatrelay/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr     string
		user     string
		token    string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:          "chat",
		Short:        "Terminal chat client for the relay",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := []client.Option{
				client.WithLogger(applog.NewWithWriter(logLevel, cmd.ErrOrStderr())),
				client.WithHandler(printer(cmd.OutOrStdout())),
			}
			if token != "" {
				opts = append(opts, client.WithToken(token))
			}
			return run(ctx, client.New(addr, user, opts...), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "ws://localhost:8080/api/socket", "relay WebSocket address")
	cmd.Flags().StringVarP(&user, "user", "u", "cli-user", "name shown on your messages")
	cmd.Flags().StringVar(&token, "token", "", "session token (sent as the token cookie)")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
	return cmd
}

// printer renders delivered messages with the local receive time.
func printer(out io.Writer) client.Handler {
	return func(e client.HistoryEntry) {
		fmt.Fprintf(out, "[%s] %s: %s\n", e.At.Format("15:04"), e.User, e.Text)
	}
}

func run(ctx context.Context, session *client.Session, in io.Reader, out io.Writer) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := session.Connect(dialCtx)
	cancel()
	if err != nil {
		return err
	}
	defer session.Disconnect()

	fmt.Fprintf(out, "Connected as %s. Type messages and press Enter to send. Ctrl+C to exit.\n", session.Identity())

	// The scanner may stay blocked in Read after ctx ends; a terminal read cannot be
	// interrupted, so the goroutine is left to process exit.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-session.Done():
			fmt.Fprintln(out, "connection closed by relay")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if !session.Connected() {
				fmt.Fprintf(out, "not connected, message not sent: %s\n", text)
				return nil
			}
			if err := session.Send(ctx, text); err != nil {
				if errors.Is(err, client.ErrNotConnected) {
					return nil
				}
				return err
			}
		}
	}
}
