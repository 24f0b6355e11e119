// Package gateway binds a conversation session to a language-model backend.
package gateway

import "context"

// Generator produces one model reply for one user utterance. Implementations
// carry their own model, credential, and system-instruction binding.
type Generator interface {
	Generate(ctx context.Context, userText string) (string, error)
}

// Factory creates a Generator bound to a system instruction. The session
// manager calls it on every setup so a subject switch rebinds the prompt.
type Factory func(systemInstruction string) Generator
