package jobs

import (
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
)

const JobKindTokenExpirySweep = "token_expiry_sweep"

// DefaultSweepMaxAttempts applies when JOB_RETRY_SWEEP is unset.
const DefaultSweepMaxAttempts = 3

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicy implements river.ClientRetryPolicy with per-kind exponential backoff.
type RetryPolicy struct {
	Default RetryConfig
	ByKind  map[string]RetryConfig
}

// NewRetryPolicy returns the retry schedule. sweepAttempts bounds the expiry
// sweep; a sweep that keeps failing is picked up by the next tick anyway.
func NewRetryPolicy(sweepAttempts int) *RetryPolicy {
	if sweepAttempts <= 0 {
		sweepAttempts = DefaultSweepMaxAttempts
	}
	return &RetryPolicy{
		Default: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   30 * time.Second,
			MaxDelay:    30 * time.Minute,
		},
		ByKind: map[string]RetryConfig{
			JobKindTokenExpirySweep: {
				MaxAttempts: sweepAttempts,
				BaseDelay:   1 * time.Minute,
				MaxDelay:    10 * time.Minute,
			},
		},
	}
}

func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	config := p.configFor(job.Kind)
	if config.BaseDelay == 0 {
		return time.Now()
	}

	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if job.AttemptedAt != nil {
		return job.AttemptedAt.Add(delay)
	}
	return time.Now().Add(delay)
}

func (p *RetryPolicy) InsertOpts(kind string) *river.InsertOpts {
	return &river.InsertOpts{MaxAttempts: p.configFor(kind).MaxAttempts}
}

func (p *RetryPolicy) configFor(kind string) RetryConfig {
	if config, ok := p.ByKind[kind]; ok {
		return config
	}
	return p.Default
}

// ClientOptions carries what the River client needs beyond the pool.
type ClientOptions struct {
	Workers      *river.Workers
	Policy       *RetryPolicy
	PeriodicJobs []*river.PeriodicJob
	Hooks        []rivertype.Hook
	ErrorHandler river.ErrorHandler
	// Logger receives River's own logs; River only accepts slog.
	Logger *slog.Logger
}

func NewClientConfig(opts ClientOptions) *river.Config {
	policy := opts.Policy
	if policy == nil {
		policy = NewRetryPolicy(0)
	}
	return &river.Config{
		Workers:      opts.Workers,
		RetryPolicy:  policy,
		MaxAttempts:  policy.Default.MaxAttempts,
		PeriodicJobs: opts.PeriodicJobs,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Hooks:        opts.Hooks,
		ErrorHandler: opts.ErrorHandler,
		Logger:       opts.Logger,
	}
}

func NewClient(pool *pgxpool.Pool, opts ClientOptions) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), NewClientConfig(opts))
}

// NewPeriodicJobs schedules the ledger expiry sweep every interval.
func NewPeriodicJobs(interval time.Duration, policy *RetryPolicy) []*river.PeriodicJob {
	if interval <= 0 {
		return nil
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return TokenExpirySweepArgs{}, policy.InsertOpts(JobKindTokenExpirySweep)
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
