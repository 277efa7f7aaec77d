package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/ticketdesk/internal/models"
)

// Suggestion is a triage recommendation for a ticket. It is never persisted.
type Suggestion struct {
	Priority string `json:"priority"`
	Category string `json:"category"`
	Summary  string `json:"summary"`
}

var (
	priorities = []string{"low", "medium", "high", "urgent"}
	categories = []string{"tech", "billing", "general", "other"}
)

// Client wraps the Anthropic API for ticket triage.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildTriagePrompt constructs the system and user prompts for ticket triage.
func buildTriagePrompt(t *models.Ticket) (system string, user string) {
	system = `You triage customer support tickets. Given a ticket, return a JSON object with exactly three fields:

- "priority": one of "low", "medium", "high", "urgent"
- "category": one of "tech", "billing", "general", "other"
- "summary": one sentence describing what the customer needs

Rules:
- Outages, data loss and security problems are "urgent"
- Questions and feature requests are "low" unless the customer is blocked
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("From: ")
	sb.WriteString(t.Username)
	sb.WriteString("\n")
	if t.Priority != "" {
		sb.WriteString("Reported priority: ")
		sb.WriteString(t.Priority)
		sb.WriteString("\n")
	}
	if t.ImageURL != nil {
		sb.WriteString("Attached image: ")
		sb.WriteString(*t.ImageURL)
		sb.WriteString("\n")
	}
	sb.WriteString("\nMessage:\n")
	sb.WriteString(t.Message)
	user = sb.String()
	return
}

// stripFence removes a surrounding markdown code fence if present.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// parseSuggestion decodes the model's reply and clamps fields to the known sets.
func parseSuggestion(text string) (*Suggestion, error) {
	text = stripFence(text)

	var s Suggestion
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	s.Priority = oneOf(s.Priority, priorities, models.DefaultPriority)
	s.Category = oneOf(s.Category, categories, "other")
	s.Summary = strings.TrimSpace(s.Summary)
	return &s, nil
}

func oneOf(v string, allowed []string, fallback string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return fallback
}

// SuggestTriage asks the model for a priority, category and summary for a ticket.
func (c *Client) SuggestTriage(ctx context.Context, t *models.Ticket) (*Suggestion, error) {
	systemPrompt, userPrompt := buildTriagePrompt(t)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	return parseSuggestion(text)
}
