// Package embedding defines the external embedding-provider contract (§6)
// and an HTTP-backed implementation of it.
package embedding

import "context"

// Provider embeds text into a fixed-dimensional vector. Implementations are
// expected to be idempotent and may be rate-limited; expected latency is
// ≤ 500ms per the consumed contract.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
