package stage

import (
	"context"

	"voicelog/internal/ledger"
)

// Handler is one pipeline stage. Run processes a single ingested recording
// and returns the path of the artifact it produced. Errors should carry a
// services marker; anything unmarked is recorded as an external tool failure.
type Handler interface {
	Name() string
	// Prerequisite names the stage that must have succeeded first, or "".
	Prerequisite() string
	Run(ctx context.Context, entry *ledger.Entry) (outputPath string, err error)
	HealthCheck(ctx context.Context) Health
}
