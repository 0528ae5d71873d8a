package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/campuslink/chatsync/cmd"
	"github.com/campuslink/chatsync/internal/infrastructure/config"
	"github.com/campuslink/chatsync/internal/infrastructure/log"
	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Config(ctx, config.Load().LogLevel)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sig
		slog.DebugContext(ctx, "received signal, initiating shutdown")
		cancel()
	}()

	root := &cobra.Command{Use: "chatsync"}

	root.AddCommand(&cobra.Command{
		Use:   "server",
		Short: "Run the chat backend",
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.Server(ctx, c)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "client",
		Short: "Run the interactive terminal client",
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.Client(ctx, c)
		},
	})

	if err := root.ExecuteContext(ctx); err != nil {
		slog.ErrorContext(ctx, "error running command", "error", err)
		os.Exit(1)
	}
}
