package driven

import (
	"context"

	"github.com/ericfisherdev/shipit/internal/domain/model"
)

// RunStore defines the driven port for the pipeline run journal.
type RunStore interface {
	Create(ctx context.Context, run model.Run) error
	// Update overwrites the mutable fields of a run (everything but ID,
	// PRNumber, Command and StartedAt).
	Update(ctx context.Context, run model.Run) error
	AddStage(ctx context.Context, stage model.StageResult) error
	// Get returns the run with its stages, or model.ErrNotFound.
	Get(ctx context.Context, id string) (*model.Run, error)
	// ListRecent returns runs newest first, without stages.
	ListRecent(ctx context.Context, limit int) ([]model.Run, error)
	ListByPR(ctx context.Context, prNumber int) ([]model.Run, error)
}
