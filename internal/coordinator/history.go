package coordinator

import (
	"sync"
	"time"

	"github.com/MrBloodrune/RealtimeSTT/pkg/types"
	"github.com/google/uuid"
)

// Turn is one user/assistant exchange. AssistantText stays empty until the
// generation for the turn completes.
type Turn struct {
	ID            string
	UserText      string
	AssistantText string
	CreatedAt     time.Time
	CompletedAt   time.Time
}

// History is the append-only conversation record for one session. Turns are
// appended when a user transcript is accepted and completed in chronological
// order as generations finish.
type History struct {
	mu    sync.Mutex
	turns []Turn

	now func() time.Time
}

// NewHistory creates an empty conversation history.
func NewHistory() *History {
	return &History{now: time.Now}
}

// Append records a new user turn and returns its id.
func (h *History) Append(userText string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.NewString()
	h.turns = append(h.turns, Turn{
		ID:        id,
		UserText:  userText,
		CreatedAt: h.now(),
	})
	return id
}

// Complete fills in the assistant text for the turn with the given id. If
// the turn was removed by [History.Clear] while its generation was in
// flight, a completed turn is appended instead so the exchange is not lost.
func (h *History) Complete(id, userText, assistantText string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.turns {
		if h.turns[i].ID == id {
			h.turns[i].AssistantText = assistantText
			h.turns[i].CompletedAt = h.now()
			return
		}
	}

	now := h.now()
	h.turns = append(h.turns, Turn{
		ID:            id,
		UserText:      userText,
		AssistantText: assistantText,
		CreatedAt:     now,
		CompletedAt:   now,
	})
}

// Window returns the last n turns flattened into messages for the generator.
// Turns whose generation has not completed contribute only their user
// message. The returned slice is a snapshot.
func (h *History) Window(n int) []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := 0
	if n > 0 && len(h.turns) > n {
		start = len(h.turns) - n
	}

	msgs := make([]types.Message, 0, 2*(len(h.turns)-start))
	for _, turn := range h.turns[start:] {
		msgs = append(msgs, types.Message{Role: types.RoleUser, Content: turn.UserText})
		if turn.AssistantText != "" {
			msgs = append(msgs, types.Message{Role: types.RoleAssistant, Content: turn.AssistantText})
		}
	}
	return msgs
}

// Turns returns a snapshot copy of all turns.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of recorded turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Clear removes all recorded turns.
func (h *History) Clear() {
	h.mu.Lock()
	h.turns = nil
	h.mu.Unlock()
}
