package distill

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reasonbank/bank"
)

// Bridge connects a distiller to a bank: finished trajectories go in,
// persisted memory items come out.
type Bridge struct {
	distiller *Distiller
	bank      *bank.Bank
	logger    *zap.Logger
}

// NewBridge creates a bridge. Pass nil for logger to keep it quiet.
func NewBridge(d *Distiller, b *bank.Bank, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{distiller: d, bank: b, logger: logger}
}

// Ingest distills the trajectory and appends every extracted lesson to the
// bank. Distillation failures degrade to an empty batch, and a lesson that
// fails to persist is logged and skipped, so one bad record never discards
// the rest. It returns how many lessons were stored.
func (br *Bridge) Ingest(ctx context.Context, task, trajectory string, outcome bank.Outcome, domain string) int {
	lessons := br.distiller.Distill(ctx, task, domain, trajectory, outcome)

	stepContext := "Successful steps from task"
	if outcome == bank.OutcomeFailure {
		stepContext = "Failed steps from task"
	}

	stored := 0
	for _, lesson := range lessons {
		if _, err := br.bank.AddItem(ctx, task, lesson, outcome, domain, stepContext); err != nil {
			br.logger.Warn("storing distilled lesson failed",
				zap.String("title", lesson.Title),
				zap.Error(err))
			continue
		}
		stored++
	}

	br.logger.Info("trajectory ingested",
		zap.String("task", task),
		zap.String("outcome", string(outcome)),
		zap.Int("extracted", len(lessons)),
		zap.Int("stored", stored))
	return stored
}
