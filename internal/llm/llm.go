// Package llm generates question pools through an OpenAI-compatible API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/paperseal/internal/model"
)

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// GenerateRequest describes the questions wanted for one scope.
type GenerateRequest struct {
	Paper      string
	Section    string
	Count      int
	Chapter    string
	Difficulty string
	Archetype  string
	Language   string
}

type generated struct {
	Questions []model.QuestionContent `json:"questions"`
}

// GenerateQuestions asks the model for req.Count questions. Questions
// without text are dropped, so fewer than requested may be returned.
func (c *Client) GenerateQuestions(ctx context.Context, req GenerateRequest) ([]model.QuestionContent, error) {
	if req.Count <= 0 {
		return nil, errors.New("question count must be positive")
	}
	prompt, err := buildGenerationPrompt(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Generate %d questions.", req.Count)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	questions, err := parseQuestions(raw, req)
	if err != nil {
		return nil, err
	}
	slog.Info("questions generated", "section", req.Section, "requested", req.Count, "received", len(questions))
	return questions, nil
}

func parseQuestions(raw string, req GenerateRequest) ([]model.QuestionContent, error) {
	var out generated
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	var questions []model.QuestionContent
	for _, q := range out.Questions {
		q.Text = strings.TrimSpace(q.Text)
		if q.Text == "" {
			continue
		}
		if q.Chapter == "" {
			q.Chapter = req.Chapter
		}
		if q.Difficulty == "" {
			q.Difficulty = req.Difficulty
		}
		if q.Archetype == "" {
			q.Archetype = req.Archetype
		}
		questions = append(questions, q)
		if len(questions) == req.Count {
			break
		}
	}
	return questions, nil
}

// Ping checks that the configured model is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("LLM ping: %w", err)
	}
	return nil
}
