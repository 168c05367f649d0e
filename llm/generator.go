// Package llm is the boundary to the external text generator.
//
// The pipeline only ever sees a Generator. Guarded wraps any Generator with a
// per-call timeout, rate limiting, a circuit breaker and a response cache, and
// reports every failure as core.ErrGenerationFailure. Transcript replays
// canned responses so runs are reproducible without a model.
package llm

import (
	"context"
)

// Generator turns a prompt into free text
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Static returns a generator that always answers with text
func Static(text string) Generator {
	return GeneratorFunc(func(ctx context.Context, _ string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return text, nil
	})
}
