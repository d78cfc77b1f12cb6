package rest

import (
	"context"

	"github.com/tripwire/frostwatch/internal/agent"
)

// Store lists findings. Both the local SQLite queue and the central
// PostgreSQL store satisfy it.
type Store interface {
	QueryFindings(ctx context.Context, q agent.FindingQuery) ([]agent.Finding, error)
}
