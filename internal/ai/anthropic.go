package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
)

const anthropicMaxTokens = 1024

// callAnthropic issues a single chat completion against the Anthropic
// API. System turns map to the dedicated system field; the rest become
// user/assistant message blocks.
func callAnthropic(ctx context.Context, provider Provider, messages []Message) (string, error) {
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(provider.APIKey)}
	if provider.Endpoint != "" {
		opts = append(opts, anthropicoption.WithBaseURL(provider.Endpoint))
	}
	client := anthropic.NewClient(opts...)

	var system []anthropic.TextBlockParam
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(provider.Model),
		MaxTokens: anthropicMaxTokens,
		System:    system,
		Messages:  turns,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic chat: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("anthropic chat: no text content in response")
	}
	return sb.String(), nil
}

// statusCode pulls an HTTP status out of either SDK's API error.
func statusCode(err error) (int, bool) {
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode, true
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode, true
	}
	return 0, false
}
