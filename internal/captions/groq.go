package captions

import (
	"context"
	"fmt"

	"github.com/conneroisu/groq-go"
)

const DefaultGroqModel = "llama-3.1-8b-instant"

type GroqProvider struct {
	client *groq.Client
	model  groq.ChatModel
}

func NewGroqProvider(apiKey, model string) (*GroqProvider, error) {
	client, err := groq.NewClient(apiKey)
	if err != nil {
		return nil, fmt.Errorf("create groq client: %w", err)
	}
	if model == "" {
		model = DefaultGroqModel
	}
	return &GroqProvider{client: client, model: groq.ChatModel(model)}, nil
}

func (p *GroqProvider) Name() string { return "groq" }

func (p *GroqProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := p.client.ChatCompletion(ctx, groq.ChatCompletionRequest{
		Model: p.model,
		Messages: []groq.ChatCompletionMessage{
			{Role: groq.RoleSystem, Content: system},
			{Role: groq.RoleUser, Content: prompt},
		},
		ResponseFormat: &groq.ChatResponseFormat{
			Type: "json_object",
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty response")
	}
	return content, nil
}
