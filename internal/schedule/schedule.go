package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"sprintreport/internal/app"
	"sprintreport/internal/config"
	"sprintreport/internal/domain"
)

// ReportRunner is the part of app.Runner the scheduler needs.
type ReportRunner interface {
	Run(ctx context.Context, search string, opts app.RunOptions) (domain.Report, error)
}

type Options struct {
	Export bool
	// Timeout bounds a single run; zero means no limit.
	Timeout time.Duration
	// Location is the zone schedules are read in; nil means local time.
	Location *time.Location
	// OnReport receives each generated report.
	OnReport func(domain.Report)
}

// Job is one scheduled search.
type Job struct {
	Search string    `json:"search"`
	Spec   string    `json:"spec"`
	Next   time.Time `json:"next,omitempty"`
}

// Scheduler runs saved searches on their weekly schedules. A search whose
// previous run is still going is skipped.
type Scheduler struct {
	c      *cron.Cron
	runner ReportRunner
	opts   Options
	log    zerolog.Logger
	jobs   map[cron.EntryID]Job
}

func New(runner ReportRunner, opts Options, log zerolog.Logger) *Scheduler {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	log = log.With().Str("component", "schedule").Logger()
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
		cron.WithLogger(cronLogger{log}),
	)
	return &Scheduler{c: c, runner: runner, opts: opts, log: log, jobs: map[cron.EntryID]Job{}}
}

// AddSearches registers every search that has a schedule and returns how many were added.
func (s *Scheduler) AddSearches(searches []config.Search) (int, error) {
	n := 0
	for _, search := range searches {
		if search.Schedule == nil {
			continue
		}
		if err := s.Add(search.Name, search.Schedule.CronSpec()); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Add schedules one search with a five-field cron spec.
func (s *Scheduler) Add(search, spec string) error {
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.log.With().Str("search", search).Logger()})).
		Then(cron.FuncJob(func() { s.run(search) }))
	id, err := s.c.AddJob(spec, job)
	if err != nil {
		return fmt.Errorf("schedule %s (%s): %w", search, spec, err)
	}
	s.jobs[id] = Job{Search: search, Spec: spec}
	s.log.Info().Str("search", search).Str("spec", spec).Msg("scheduled")
	return nil
}

func (s *Scheduler) run(search string) {
	ctx := context.Background()
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	log := s.log.With().Str("search", search).Logger()
	log.Info().Msg("scheduled run started")
	report, err := s.runner.Run(ctx, search, app.RunOptions{Export: s.opts.Export})
	if err != nil {
		log.Error().Err(err).Msg("scheduled run failed")
		return
	}
	log.Info().Str("report", report.ID).Int("issues", len(report.Records)).Msg("scheduled run finished")
	if s.opts.OnReport != nil {
		s.opts.OnReport(report)
	}
}

// Jobs lists scheduled searches with their next activation.
func (s *Scheduler) Jobs() []Job {
	entries := s.c.Entries()
	jobs := make([]Job, 0, len(entries))
	for _, e := range entries {
		j := s.jobs[e.ID]
		j.Next = e.Next
		jobs = append(jobs, j)
	}
	return jobs
}

func (s *Scheduler) Start() { s.c.Start() }

// Stop halts scheduling and waits for running jobs, or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
