// Package llm adapts LLM vendors to the orchestrator.ResponseGenerator
// contract.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/duplexai/duplexcore/pkg/orchestrator"
)

// OpenAIGenerator adapts OpenAI's streaming chat completions endpoint to
// the token-channel ResponseGenerator contract (§4.7), grounded on the
// teacher's OpenAILLM request/auth shape but switched from one-shot
// Complete to Server-Sent-Events streaming, since the spec requires
// token-by-token delivery for barge-in to be meaningful.
type OpenAIGenerator struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIGenerator{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/chat/completions",
		model:  model,
		client: http.DefaultClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Start opens the SSE stream and forwards deltas on the returned channel.
// The channel is closed after a terminal token (Done or Err) has been sent,
// when ctx is cancelled, or when the stream ends without either.
func (g *OpenAIGenerator) Start(ctx context.Context, prompt string, context_ []string) (<-chan orchestrator.GeneratorToken, error) {
	messages := make([]chatMessage, 0, len(context_)+1)
	for _, c := range context_ {
		messages = append(messages, chatMessage{Role: "system", Content: c})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	payload := map[string]interface{}{
		"model":    g.model,
		"messages": messages,
		"stream":   true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, fmt.Errorf("openai llm error (status %d): %v", resp.StatusCode, errResp)
	}

	tokens := make(chan orchestrator.GeneratorToken)
	go streamOpenAIResponse(ctx, resp.Body, tokens)
	return tokens, nil
}

type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func streamOpenAIResponse(ctx context.Context, body io.ReadCloser, tokens chan<- orchestrator.GeneratorToken) {
	defer close(tokens)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var full strings.Builder
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			send(ctx, tokens, orchestrator.GeneratorToken{Done: true, FullText: full.String()})
			return
		}

		var chunk sseChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta != "" {
			full.WriteString(delta)
			if !send(ctx, tokens, orchestrator.GeneratorToken{Delta: delta}) {
				return
			}
		}
		if chunk.Choices[0].FinishReason != "" {
			send(ctx, tokens, orchestrator.GeneratorToken{Done: true, FullText: full.String()})
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		send(ctx, tokens, orchestrator.GeneratorToken{Err: fmt.Errorf("openai stream: %w", err)})
	}
}

// send delivers tok, returning false if ctx was cancelled first.
func send(ctx context.Context, tokens chan<- orchestrator.GeneratorToken, tok orchestrator.GeneratorToken) bool {
	select {
	case tokens <- tok:
		return true
	case <-ctx.Done():
		return false
	}
}
