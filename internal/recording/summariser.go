package recording

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrBloodrune/RealtimeSTT/pkg/provider/llm"
	"github.com/MrBloodrune/RealtimeSTT/pkg/types"
)

// summarisationPrompt is the system prompt sent to the LLM when summarising a
// recorded session.
const summarisationPrompt = `Summarise the following conversation between a user and their voice assistant.
Preserve: questions asked, answers given, tasks or reminders mentioned, and any decisions made.
Be concise; a few sentences is enough.`

// Summariser produces a concise summary of a recorded conversation.
type Summariser interface {
	// Summarise takes the conversation messages and returns a condensed
	// summary string.
	Summarise(ctx context.Context, messages []types.Message) (string, error)
}

// LLMSummariser uses an LLM provider to summarise conversations.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise formats the conversation into a single transcript message and
// asks the model for a summary at low temperature. Empty input returns an
// empty summary without calling the model.
func (s *LLMSummariser) Summarise(ctx context.Context, messages []types.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, m.Content)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages: []types.Message{
			{
				Role:    types.RoleUser,
				Content: sb.String(),
			},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}

	return resp.Content, nil
}
