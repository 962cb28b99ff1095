package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/dom/ingest-pipeline/internal/apperr"
	"github.com/dom/ingest-pipeline/internal/repository"
)

// NumericIDMinter produces the short integer alternative identifier for a
// dataset. It draws on snowflake's distributed monotonic ID generator
// (grounded on ovaphlow-pitchfork's use of the same package for
// primary-key minting) rather than hand-rolling a counter, folding the
// 63-bit snowflake ID down into a 5-digit space and retrying on collision.
type NumericIDMinter struct {
	node     *snowflake.Node
	datasets repository.DatasetRepository
}

func NewNumericIDMinter(nodeID int64, datasets repository.DatasetRepository) (*NumericIDMinter, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node: %w", err)
	}
	return &NumericIDMinter{node: node, datasets: datasets}, nil
}

const numericIDSpace = 90000 // 5-digit ids, 10000..99999
const numericIDFloor = 10000

func (m *NumericIDMinter) Mint(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < 20; attempt++ {
		raw := m.node.Generate().Int64()
		if raw < 0 {
			raw = -raw
		}
		candidate := numericIDFloor + raw%numericIDSpace
		exists, err := m.datasets.NumericIDExists(ctx, candidate)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("%w: exhausted numeric id collision retries", apperr.ErrStorageUnavailable)
}
