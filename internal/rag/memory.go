package rag

import (
	"context"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
)

// TokenCounter reports how many tokens text costs against the memory budget.
type TokenCounter func(text string) int

// ModelTokenCounter counts with the tokenizer of the named model.
func ModelTokenCounter(model string) TokenCounter {
	return func(text string) int { return llms.CountTokens(model, text) }
}

// Memory is a chat history that keeps its total size under a token budget.
// The oldest messages go first and the history never opens with an AI turn.
type Memory struct {
	mu      sync.Mutex
	history *memory.ChatMessageHistory
	limit   int
	count   TokenCounter
}

// NewMemory returns an empty memory. A limit of zero or less disables eviction.
func NewMemory(limit int, count TokenCounter) *Memory {
	if count == nil {
		count = ModelTokenCounter("")
	}
	return &Memory{
		history: memory.NewChatMessageHistory(),
		limit:   limit,
		count:   count,
	}
}

func (m *Memory) Messages(ctx context.Context) ([]llms.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Messages(ctx)
}

// AddTurn stores one user message and the reply to it, then evicts as needed.
func (m *Memory) AddTurn(ctx context.Context, user, ai string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.history.AddUserMessage(ctx, user); err != nil {
		return err
	}
	if err := m.history.AddAIMessage(ctx, ai); err != nil {
		return err
	}
	return m.trim(ctx)
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Clear(ctx)
}

// Tokens is the current size of the history.
func (m *Memory) Tokens(ctx context.Context) (int, error) {
	msgs, err := m.Messages(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, msg := range msgs {
		total += m.count(msg.GetContent())
	}
	return total, nil
}

func (m *Memory) trim(ctx context.Context) error {
	if m.limit <= 0 {
		return nil
	}
	msgs, err := m.history.Messages(ctx)
	if err != nil {
		return err
	}
	sizes := make([]int, len(msgs))
	total := 0
	for i, msg := range msgs {
		sizes[i] = m.count(msg.GetContent())
		total += sizes[i]
	}

	start := 0
	for start < len(msgs) && total > m.limit {
		total -= sizes[start]
		start++
	}
	for start < len(msgs) && msgs[start].GetType() == llms.ChatMessageTypeAI {
		start++
	}
	if start == 0 {
		return nil
	}
	return m.history.SetMessages(ctx, msgs[start:])
}
