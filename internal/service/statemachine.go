package service

import (
	"context"
	"fmt"

	"github.com/dom/ingest-pipeline/internal/apperr"
	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/dom/ingest-pipeline/internal/repository"
	"github.com/google/uuid"
)

// StatusMachine is how the ingest side advances Dataset.Status: Advance
// checks the static transition table in domain.Status before issuing the
// repository's compare-and-set. The Conversion Dispatcher and the
// reconcilers in package dispatch call the repository's
// CompareAndSetStatus directly and do not go through it.
type StatusMachine struct {
	datasets repository.DatasetRepository
}

func NewStatusMachine(datasets repository.DatasetRepository) *StatusMachine {
	return &StatusMachine{datasets: datasets}
}

// Advance moves a dataset from `from` to `to`, rejecting transitions the
// static table does not declare before ever touching storage, and
// surfacing apperr.ErrStaleState when the compare-and-set loses a race.
func (m *StatusMachine) Advance(ctx context.Context, id uuid.UUID, from, to domain.Status, mutate func(*domain.Dataset)) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s is not a declared transition", apperr.ErrValidation, from, to)
	}
	return m.datasets.CompareAndSetStatus(ctx, id, from, to, mutate)
}
