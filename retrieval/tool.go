package retrieval

import (
	"context"
	"fmt"
)

// Tool wraps an Engine as a langchaingo tools.Tool-compatible value (Name,
// Description, Call(ctx, input string) (string, error)), so a host agent loop can
// invoke memory search as an explicit tool call mid-conversation instead of only
// receiving passively injected context.
type Tool struct {
	engine    *Engine
	namespace string
	limit     int
}

// AsTool returns a Tool bound to namespace. limit <= 0 uses the engine's default
// auto-mode limit.
func (e *Engine) AsTool(namespace string, limit int) *Tool {
	return &Tool{engine: e, namespace: namespace, limit: limit}
}

// Name implements tools.Tool.
func (t *Tool) Name() string { return "search_memory" }

// Description implements tools.Tool.
func (t *Tool) Description() string {
	return "Searches this agent's persistent memory for prior facts, preferences, or " +
		"context relevant to a query string. Input is the search query."
}

// Call implements tools.Tool: it runs auto-mode retrieval and renders the results
// as the same bulleted block used for passive context injection, so the host
// model sees a consistent format whether context arrived via injection or an
// explicit tool call.
func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	items, err := t.engine.AutoContext(ctx, t.namespace, input, t.limit)
	if err != nil {
		return "", fmt.Errorf("retrieval: memory tool search: %w", err)
	}
	if len(items) == 0 {
		return "No relevant memories found.", nil
	}
	return PromptBlock(ModeAuto, items), nil
}
