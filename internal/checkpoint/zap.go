package checkpoint

import (
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crs-draws-etl/internal/etl"
)

// Zap mirrors checkpoints into structured logs.
type Zap struct {
	logger *zap.Logger
}

// NewZap wires a zap logger to the journal interface.
func NewZap(logger *zap.Logger) *Zap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Zap{logger: logger}
}

// Checkpoint logs the message at info level.
func (z *Zap) Checkpoint(ts time.Time, message string) {
	z.logger.Info("checkpoint", zap.Time("ts", ts), zap.String("message", message))
}

// Multi forwards every checkpoint to each journal in order.
type Multi []etl.Journal

// Checkpoint implements etl.Journal.
func (m Multi) Checkpoint(ts time.Time, message string) {
	for _, j := range m {
		if j != nil {
			j.Checkpoint(ts, message)
		}
	}
}
