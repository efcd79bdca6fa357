package visual

import (
	"iter"

	"github.com/mellow-sync/mellow/internal/database/types"
	"go.uber.org/zap"
)

// elements lazily yields the elements to execute. If statements are replaced
// by the items of their first matching block, chosen only when the stream
// reaches them so earlier elements can bind the variables they test.
func elements(definition []types.Element, vars *Variables, logger *zap.Logger) iter.Seq[types.Element] {
	return func(yield func(types.Element) bool) {
		walk(definition, vars, logger, yield)
	}
}

func walk(definition []types.Element, vars *Variables, logger *zap.Logger, yield func(types.Element) bool) bool {
	for _, element := range definition {
		if element.Kind != types.ElementIfStatement {
			if !yield(element) {
				return false
			}

			continue
		}

		block := chooseBlock(element.Blocks, vars, logger)
		if block == nil {
			continue
		}

		if !walk(block.Items, vars, logger, yield) {
			return false
		}
	}

	return true
}

// chooseBlock returns the first block whose conditions hold.
func chooseBlock(blocks []types.StatementBlock, vars *Variables, logger *zap.Logger) *types.StatementBlock {
	for i := range blocks {
		met, err := evaluateConditions(blocks[i].Conditions, vars)
		if err != nil {
			logger.Debug("Condition could not be evaluated", zap.Error(err), zap.Int("block", i))
		}

		if met {
			return &blocks[i]
		}
	}

	return nil
}
