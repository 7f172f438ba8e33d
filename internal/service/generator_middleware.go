package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/webitel/im-support-bot/infra/resilience"
	"github.com/webitel/im-support-bot/internal/domain/model"
)

// ResilientGenerator bounds every generation call by a timeout and the generation breaker.
// Generation is never retried in the hot path.
type ResilientGenerator struct {
	next    Generator
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewResilientGenerator(next Generator, breakers *resilience.Breakers, timeout time.Duration) *ResilientGenerator {
	return &ResilientGenerator{
		next:    next,
		breaker: breakers.Get(resilience.DependencyGeneration),
		timeout: timeout,
	}
}

func (g *ResilientGenerator) Generate(ctx context.Context, prompt string, gctx model.GenerationContext) (string, error) {
	return resilience.Execute(g.breaker, func() (string, error) {
		return resilience.WithTimeout(ctx, g.timeout, func(ctx context.Context) (string, error) {
			return g.next.Generate(ctx, prompt, gctx)
		})
	})
}

// GeneratorMiddleware implements [DECORATOR_PATTERN] to add observability
// to generation calls without touching business logic.
type GeneratorMiddleware struct {
	Next   Generator
	Logger *slog.Logger
}

// Generate wraps the call with execution timing and outcome logging.
func (m *GeneratorMiddleware) Generate(ctx context.Context, prompt string, gctx model.GenerationContext) (string, error) {
	start := time.Now()

	answer, err := m.Next.Generate(ctx, prompt, gctx)

	// [OBSERVABILITY] Scoped logging for latency auditing
	duration := time.Since(start)
	if err != nil {
		m.Logger.Warn("GENERATION_FAILED",
			"conversation_id", gctx.ConversationID,
			"turn", gctx.TurnCount,
			"duration_ms", duration.Milliseconds(),
			"err", err,
		)
	} else {
		m.Logger.Debug("GENERATION_COMPLETED",
			"conversation_id", gctx.ConversationID,
			"answer_len", len(answer),
			"duration_ms", duration.Milliseconds(),
		)
	}

	return answer, err
}
