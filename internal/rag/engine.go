// Package rag answers questions over the loaded index with a hosted LLM,
// keeping a bounded conversation history per engine.
package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"pawsistant/internal/llmservice"
	"pawsistant/internal/models"
)

const (
	DefaultTopK        = 10
	DefaultTokenLimit  = 1500
	DefaultTemperature = 0.2
)

var ErrEmptyMessage = errors.New("message is empty")

// Retriever returns the k chunks most similar to text.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]models.Match, error)
}

// Reply is one answer together with the pages it was grounded on.
type Reply struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Engine is one chat session. Turns on the same engine are serialised.
type Engine struct {
	mu             sync.Mutex
	retriever      Retriever
	model          llms.Model
	memory         *Memory
	systemPrompt   string
	topK           int
	temperature    float64
	allowedDomains []string
	closer         io.Closer
}

type Option func(*Engine)

func WithSystemPrompt(prompt string) Option { return func(e *Engine) { e.systemPrompt = prompt } }

func WithTopK(k int) Option { return func(e *Engine) { e.topK = k } }

func WithTemperature(t float64) Option { return func(e *Engine) { e.temperature = t } }

func WithMemory(m *Memory) Option { return func(e *Engine) { e.memory = m } }

func WithAllowedDomains(domains ...string) Option {
	return func(e *Engine) { e.allowedDomains = domains }
}

// WithCloser hands ownership of a resource, usually the index, to the engine.
func WithCloser(c io.Closer) Option { return func(e *Engine) { e.closer = c } }

func NewEngine(retriever Retriever, model llms.Model, opts ...Option) *Engine {
	e := &Engine{
		retriever:    retriever,
		model:        model,
		systemPrompt: models.DefaultSystemPrompt,
		topK:         DefaultTopK,
		temperature:  DefaultTemperature,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.memory == nil {
		e.memory = NewMemory(DefaultTokenLimit, nil)
	}
	return e
}

func (e *Engine) Greeting() string { return models.Greeting }

// Chat answers message using the retrieved context and the session history.
func (e *Engine) Chat(ctx context.Context, message string) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	matches, err := e.retriever.Query(ctx, message, e.topK)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to retrieve context: %w", err)
	}
	history, err := e.memory.Messages(ctx)
	if err != nil {
		return Reply{}, err
	}

	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, e.systemMessage(matches)))
	for _, msg := range history {
		messages = append(messages, llms.TextParts(msg.GetType(), msg.GetContent()))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, message))

	log.Debug().Int("context_chunks", len(matches)).Int("history", len(history)).Msg("Calling llm")
	answer, err := llmservice.GenerateContent(ctx, e.model, messages, llms.WithTemperature(e.temperature))
	if err != nil {
		return Reply{}, err
	}
	answer = SanitizeLinks(answer, e.allowedDomains)

	if err := e.memory.AddTurn(ctx, message, answer); err != nil {
		return Reply{}, err
	}
	return Reply{Answer: answer, Sources: sources(matches)}, nil
}

// Reset forgets the conversation so far.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.memory.Clear(ctx)
}

func (e *Engine) History(ctx context.Context) ([]llms.ChatMessage, error) {
	return e.memory.Messages(ctx)
}

// Memory exposes the session history so it can move to an engine on another model.
func (e *Engine) Memory() *Memory { return e.memory }

func (e *Engine) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

func (e *Engine) systemMessage(matches []models.Match) string {
	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = fmt.Sprintf("source: %s\n%s", m.Document.Source(), m.Document.Content)
	}
	return e.systemPrompt + fmt.Sprintf(models.ContextPromptTemplate, strings.Join(parts, models.ContextSeparator))
}

func sources(matches []models.Match) []string {
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		s := m.Document.Source()
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
