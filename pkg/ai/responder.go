package ai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"chatapi/pkg/domain"
)

// Fallback replies. Reply always returns one of these or real model output,
// so a user message is never left without an assistant turn.
const (
	DemoReply = "I am a demo AI assistant. To enable real AI responses, please configure a Gemini API key."

	QuotaReply = "⚠️ **API Quota Exceeded**\n\n" +
		"The free tier limit has been reached. Options:\n\n" +
		"1. Wait for the quota to reset\n" +
		"2. Create a new API key at [Google AI Studio](https://aistudio.google.com/apikey)\n" +
		"3. Enable billing for higher limits"

	ErrorReply = "I encountered an error processing your request. Please try again."
)

// Responder produces the next assistant message for a conversation. A nil
// client (no API key configured) yields the demo reply.
type Responder struct {
	client *GeminiClient
	model  string
}

// NewResponder wraps a GeminiClient with a fixed model.
func NewResponder(client *GeminiClient, model string) *Responder {
	return &Responder{client: client, model: model}
}

// Reply maps the history into Gemini turns and returns the next assistant
// message. It never returns an error: failures are absorbed into fallback
// replies.
func (r *Responder) Reply(ctx context.Context, history []domain.Message) string {
	if r == nil || r.client == nil {
		return DemoReply
	}
	turns := make([]Turn, 0, len(history))
	for _, msg := range history {
		role := "user"
		if msg.Role == domain.RoleAssistant {
			role = "model"
		}
		turns = append(turns, Turn{Role: role, Text: msg.Content})
	}
	text, err := r.client.GenerateChat(ctx, r.model, turns)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
				slog.Warn("gemini quota exceeded", "status", apiErr.StatusCode)
				return QuotaReply
			}
		}
		slog.Error("gemini generation failed", "err", err)
		return ErrorReply
	}
	return text
}
