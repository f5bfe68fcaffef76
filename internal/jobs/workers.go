package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/eventboard/server/internal/metrics"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"
)

// Sweeper flags ledger rows whose embedded expiry has passed.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type TokenExpirySweepArgs struct{}

func (TokenExpirySweepArgs) Kind() string { return JobKindTokenExpirySweep }

// TokenExpirySweepWorker keeps the ledger's expired flag in step with token
// expiry so expired rows are visible without decoding tokens.
type TokenExpirySweepWorker struct {
	river.WorkerDefaults[TokenExpirySweepArgs]
	Sweeper Sweeper
	Logger  zerolog.Logger
}

func (TokenExpirySweepWorker) Kind() string { return JobKindTokenExpirySweep }

func (w TokenExpirySweepWorker) Work(ctx context.Context, job *river.Job[TokenExpirySweepArgs]) error {
	if w.Sweeper == nil {
		return fmt.Errorf("token expiry sweep: no sweeper configured")
	}
	start := time.Now()
	n, err := w.Sweeper.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("token expiry sweep: %w", err)
	}
	metrics.TokensExpired.Add(float64(n))
	w.Logger.Info().
		Int64("marked", n).
		Dur("duration", time.Since(start)).
		Msg("token expiry sweep complete")
	return nil
}

func NewWorkers(sweeper Sweeper, logger zerolog.Logger) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker(workers, TokenExpirySweepWorker{
		Sweeper: sweeper,
		Logger:  logger.With().Str("job", JobKindTokenExpirySweep).Logger(),
	})
	return workers
}
