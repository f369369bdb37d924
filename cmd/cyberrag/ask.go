package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knoguchi/cyberrag/internal/app"
	"github.com/knoguchi/cyberrag/internal/config"
	"github.com/knoguchi/cyberrag/internal/memory"
	"github.com/knoguchi/cyberrag/internal/rag"
	"github.com/knoguchi/cyberrag/internal/service"
)

// answerer is what ask needs from the service.
type answerer interface {
	Query(ctx context.Context, req service.QueryRequest) (*service.QueryResponse, error)
}

func newAskCmd() *cobra.Command {
	var (
		historyFile string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer one question and print the cited sources",
		Long: `Runs the full pipeline once. Prior turns can be supplied as a JSON array of
{"role": "user"|"assistant", "content": "..."} objects with --history-file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := readHistory(historyFile)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			// Keep stdout for the answer.
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
			defer cancel()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer a.Close()

			question := strings.Join(args, " ")
			return runAsk(ctx, cmd.OutOrStdout(), a.Service, question, history, asJSON)
		},
	}
	cmd.Flags().StringVar(&historyFile, "history-file", "", "JSON file with prior conversation turns")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	return cmd
}

func runAsk(ctx context.Context, out io.Writer, svc answerer, question string, history []memory.Turn, asJSON bool) error {
	resp, err := svc.Query(ctx, service.QueryRequest{Query: question, History: history})
	if err != nil {
		var stageErr *rag.StageError
		if errors.As(err, &stageErr) {
			return fmt.Errorf("%s (stage %s): %w", stageErr.UserMessage(), stageErr.Stage, err)
		}
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if resp.RewrittenQuery != question {
		fmt.Fprintf(out, "Standalone question: %s\n\n", resp.RewrittenQuery)
	}
	fmt.Fprintln(out, resp.Answer)

	if len(resp.Sources) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Retrieved passages:")
		for i, s := range resp.Sources {
			label := s.SourceID
			if label == "" {
				label = "Unknown Source"
			}
			if s.Page != nil {
				label = fmt.Sprintf("%s, page %d", label, *s.Page)
			}
			fmt.Fprintf(out, "  [%d] %s (relevance %.3f)\n", i+1, label, s.Score)
		}
	}
	return nil
}

func readHistory(path string) ([]memory.Turn, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading history file: %w", err)
	}
	var turns []memory.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("parsing history file: %w", err)
	}
	return turns, nil
}
