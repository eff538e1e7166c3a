package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-assist/internal/config"
)

// DefaultSystemPrompt frames the model as an interview coach.
const DefaultSystemPrompt = `You are an intelligent interview assistant. Your role is to help candidates answer interview questions effectively.

When given a question, provide:
1. A clear, concise answer that demonstrates competence
2. Relevant examples or experiences when appropriate
3. Professional tone suitable for an interview setting

Keep responses focused and interview-appropriate. Aim for answers that are 1-3 minutes when spoken aloud.`

// Request describes a language model prompt.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	TraceID     string
}

// Chunk represents streamed model output.
type Chunk struct {
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	TraceID          string
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

const questionPrefix = "Interview question:"

// QuestionRequest builds the prompt for an interview question from config.
func QuestionRequest(cfg config.LLMConfig, question string) Request {
	system := cfg.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	return Request{
		Prompt:      questionPrefix + " " + question,
		System:      system,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		TraceID:     uuid.NewString(),
	}
}

// New returns the generator selected by cfg.Mode.
func New(cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}

// Collect runs req to completion and returns the trimmed concatenated output.
func Collect(ctx context.Context, gen Generator, req Request) (string, error) {
	var b strings.Builder
	err := gen.Generate(ctx, req, func(c Chunk) error {
		b.WriteString(c.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
