package rag

import (
	"context"
	"log/slog"
	"strings"

	"github.com/knoguchi/cyberrag/internal/llm"
)

// Completer is an opaque text-completion service.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// LLMCompleter runs completions on an llm.LLM at temperature 0.
type LLMCompleter struct {
	client llm.LLM
	opts   llm.GenerateOptions
}

// NewLLMCompleter wraps client. maxTokens <= 0 leaves the provider default.
func NewLLMCompleter(client llm.LLM, maxTokens int) *LLMCompleter {
	return &LLMCompleter{
		client: client,
		opts:   llm.GenerateOptions{Temperature: 0, MaxTokens: maxTokens},
	}
}

// Complete sends prompt as a single user message.
func (c *LLMCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return c.client.Generate(ctx, prompt, c.opts)
}

// ModelName returns the model answering completions.
func (c *LLMCompleter) ModelName() string {
	return c.client.ModelName()
}

// Rewriter turns a conversational follow-up into a standalone question.
type Rewriter struct {
	completer Completer
	logger    *slog.Logger
}

// NewRewriter creates a Rewriter. A nil logger uses slog.Default().
func NewRewriter(completer Completer, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{completer: completer, logger: logger}
}

// Rewrite returns query unchanged when history is blank, without calling the
// model. Otherwise it makes exactly one completion call and returns the
// trimmed output. Errors from the model are returned as is.
func (r *Rewriter) Rewrite(ctx context.Context, query, history string) (string, error) {
	if strings.TrimSpace(history) == "" {
		return query, nil
	}

	out, err := r.completer.Complete(ctx, buildRewritePrompt(history, query))
	if err != nil {
		return "", err
	}

	rewritten := strings.TrimSpace(out)
	if rewritten == "" {
		r.logger.Warn("rewriter returned empty output, using original query")
		return query, nil
	}
	return rewritten, nil
}

var _ Completer = (*LLMCompleter)(nil)
