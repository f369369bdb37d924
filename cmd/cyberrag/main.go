// Command cyberrag answers cybersecurity questions from a document collection.
package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	// Set up structured logging
	slog.SetDefault(newLogger(os.Stderr, os.Getenv("LOG_LEVEL")))

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cyberrag",
		Short: "Grounded cybersecurity question answering",
		Long: `cyberrag answers cybersecurity questions from an indexed document collection.
Questions are rewritten against the conversation, matched by vector search,
reranked with a cross-encoder and answered strictly from the retrieved passages.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newAskCmd())
	return root
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
	}))
}
