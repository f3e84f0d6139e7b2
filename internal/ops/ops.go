package ops

import (
	"context"
	"database/sql"
	"io"
	"log"
	"time"

	"github.com/hpungsan/protkit/internal/config"
	"github.com/hpungsan/protkit/internal/db"
	"github.com/hpungsan/protkit/internal/predict"
	"github.com/hpungsan/protkit/internal/rcsb"
	"github.com/hpungsan/protkit/internal/session"
)

// Runner bundles the collaborators of one interaction cycle.
type Runner struct {
	Remote   predict.Predictor
	Mock     *predict.Mock
	Resolver *rcsb.Resolver
	Cfg      *config.Config
	Logger   *log.Logger
	Locks    *Locker // nil uses the process-wide locker
}

// NewRunner builds a Runner from configuration. A nil logger discards output.
func NewRunner(cfg *config.Config, logger *log.Logger) *Runner {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Runner{
		Remote:   predict.NewClient(clientOptions(cfg, logger)),
		Mock:     predict.NewMock(cfg.MockDelay(), nil),
		Resolver: rcsb.NewResolver(cfg.AccessionURL, seconds(cfg.AccessionTimeoutSeconds)),
		Cfg:      cfg,
		Logger:   logger,
	}
}

// clientOptions maps configuration onto remote client options.
func clientOptions(cfg *config.Config, logger *log.Logger) predict.Options {
	opts := predict.DefaultOptions()
	opts.APIURL = cfg.APIURL
	opts.StatusURL = cfg.StatusURL
	opts.APIKey = cfg.APIKey
	opts.Logger = logger

	if cfg.RequestTimeoutSeconds > 0 {
		opts.RequestTimeout = seconds(cfg.RequestTimeoutSeconds)
	}
	if cfg.PollTimeoutSeconds > 0 {
		opts.PollTimeout = seconds(cfg.PollTimeoutSeconds)
	}
	if cfg.PollIntervalSeconds > 0 {
		opts.PollInterval = seconds(cfg.PollIntervalSeconds)
	}
	if cfg.MaxPolls > 0 {
		opts.MaxPolls = cfg.MaxPolls
	}
	if cfg.PollSecondsHint > 0 {
		opts.PollSecondsHint = cfg.PollSecondsHint
	}

	s := cfg.Sampling
	if s.RecyclingSteps > 0 {
		opts.Sampling.RecyclingSteps = s.RecyclingSteps
	}
	if s.SamplingSteps > 0 {
		opts.Sampling.SamplingSteps = s.SamplingSteps
	}
	if s.DiffusionSamples > 0 {
		opts.Sampling.DiffusionSamples = s.DiffusionSamples
	}
	if s.StepScale > 0 {
		opts.Sampling.StepScale = s.StepScale
	}
	if s.WithoutPotentials != nil {
		opts.Sampling.WithoutPotentials = *s.WithoutPotentials
	}
	return opts
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// UseRemote reports whether predictions go to the hosted service.
func (r *Runner) UseRemote() bool {
	return r.Remote != nil && r.Cfg != nil && r.Cfg.UseRemote()
}

// Predictor returns the predictor for this cycle.
func (r *Runner) Predictor() predict.Predictor {
	if r.UseRemote() {
		return r.Remote
	}
	return r.Mock
}

// Mode names the active predictor.
func (r *Runner) Mode() string {
	if r.UseRemote() {
		return "remote"
	}
	return "mock"
}

// Load returns the named session, creating it when missing.
func Load(ctx context.Context, database *sql.DB, name string) (*session.State, error) {
	return db.LoadSession(ctx, database, name)
}

// Save persists the session.
func Save(ctx context.Context, database *sql.DB, s *session.State) error {
	return db.SaveSession(ctx, database, s)
}
