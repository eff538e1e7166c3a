package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// execGenerator runs llm.command once per question. The command reads a JSON
// request on stdin and prints either {"answer": ...} or the answer as plain
// text.
type execGenerator struct {
	cmd []string
}

type execRequest struct {
	Question    string  `json:"question"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	TraceID     string  `json:"trace_id,omitempty"`
}

type execReply struct {
	Answer           string `json:"answer"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("llm command is empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	input, err := json.Marshal(execRequest{
		Question:    strings.TrimSpace(strings.TrimPrefix(req.Prompt, questionPrefix)),
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TraceID:     req.TraceID,
	})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("llm command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	reply := parseExecReply(output)
	if reply.Answer == "" {
		return errors.New("llm command produced no answer")
	}
	return consumer(Chunk{
		Content:          reply.Answer,
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
		TraceID:          req.TraceID,
	})
}

func parseExecReply(output []byte) execReply {
	trimmed := bytes.TrimSpace(output)
	var reply execReply
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &reply) == nil {
		reply.Answer = strings.TrimSpace(reply.Answer)
		return reply
	}
	return execReply{Answer: string(trimmed)}
}
