package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

var errEmptyResponse = errors.New("model returned no text content")

// Gemini is a Generator backed by the Gemini API, bound to one model and one
// system instruction.
type Gemini struct {
	client      *genai.Client
	model       string
	instruction string
	timeout     time.Duration
}

// NewGeminiClient builds the shared API client. The key is validated lazily by
// the first request.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

// NewGeminiFactory returns a Factory producing Gemini generators that share
// one client but carry per-session system instructions.
func NewGeminiFactory(client *genai.Client, model string, timeout time.Duration) Factory {
	return func(systemInstruction string) Generator {
		return &Gemini{
			client:      client,
			model:       model,
			instruction: systemInstruction,
			timeout:     timeout,
		}
	}
}

// Generate requests one reply for the user utterance. Any transport, quota, or
// malformed-response failure comes back as an error; the caller decides how to
// surface it.
func (g *Gemini) Generate(ctx context.Context, userText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(userText),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(g.instruction, genai.RoleUser),
		})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}

var _ Generator = (*Gemini)(nil)
