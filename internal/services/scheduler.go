package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/irfndi/candlefeed-go/internal/config"
	"github.com/sirupsen/logrus"
)

// Job names the scheduler knows.
const (
	JobCurrentCandles    = "current_candles"
	JobHistoricalCandles = "historical_candles"
)

// ErrJobAlreadyRunning is returned when a trigger overlaps a running job.
var ErrJobAlreadyRunning = errors.New("job is already running")

// ErrUnknownJob is returned when a trigger names a job the scheduler
// does not manage.
var ErrUnknownJob = errors.New("unknown job")

// JobState is the lifecycle state of one scheduled job.
type JobState string

const (
	JobIdle    JobState = "idle"
	JobRunning JobState = "running"
)

// JobStatus is one job's externally visible state.
type JobStatus struct {
	Name         string     `json:"name"`
	State        JobState   `json:"state"`
	Runs         int64      `json:"runs"`
	LastStarted  *time.Time `json:"last_started,omitempty"`
	LastFinished *time.Time `json:"last_finished,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
}

// CollectionRunner is the orchestration surface the scheduler drives.
// *CollectorService implements it.
type CollectionRunner interface {
	RunCurrentCollection(ctx context.Context) (*RunResult, error)
	RunHistoricalCollection(ctx context.Context) (*RunResult, error)
}

type job struct {
	name         string
	run          func(ctx context.Context) (*RunResult, error)
	state        JobState
	runs         int64
	lastStarted  *time.Time
	lastFinished *time.Time
	lastError    string
	nextRun      *time.Time
	lastResult   *RunResult
}

// SchedulerService drives the two collection cadences: the current job on a
// short fixed interval and the historical job once a day at a fixed UTC
// time. A tick or manual trigger that lands while the same job is still
// running is rejected, never queued: each job has at most one run in flight.
type SchedulerService struct {
	cfg    config.CollectionConfig
	logger *logrus.Logger

	mu   sync.Mutex
	jobs map[string]*job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewSchedulerService creates a scheduler over the given runner.
func NewSchedulerService(runner CollectionRunner, cfg config.CollectionConfig, logger *logrus.Logger) *SchedulerService {
	ctx, cancel := context.WithCancel(context.Background())
	return &SchedulerService{
		cfg:    cfg,
		logger: logger,
		jobs: map[string]*job{
			JobCurrentCandles: {
				name:  JobCurrentCandles,
				run:   runner.RunCurrentCollection,
				state: JobIdle,
			},
			JobHistoricalCandles: {
				name:  JobHistoricalCandles,
				run:   runner.RunHistoricalCollection,
				state: JobIdle,
			},
		},
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Start launches both cadence loops.
func (s *SchedulerService) Start() {
	s.wg.Add(2)
	go s.runCurrentLoop()
	go s.runHistoricalLoop()

	s.logger.WithFields(logrus.Fields{
		"current_interval": s.cfg.CurrentIntervalDuration().String(),
		"historical_time":  s.cfg.HistoricalTime,
	}).Info("Scheduler started")
}

// Stop cancels both loops and waits for any in-flight run to return.
func (s *SchedulerService) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Trigger starts a job outside its schedule. It returns ErrJobAlreadyRunning
// when the job has a run in flight and ErrUnknownJob for names the scheduler
// does not manage. The run itself proceeds asynchronously.
func (s *SchedulerService) Trigger(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if j.state == JobRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobAlreadyRunning, name)
	}
	s.markStarted(j)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(j)
	}()
	return nil
}

// Statuses returns every job's current status, sorted by name.
func (s *SchedulerService) Statuses() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		statuses = append(statuses, JobStatus{
			Name:         j.name,
			State:        j.state,
			Runs:         j.runs,
			LastStarted:  j.lastStarted,
			LastFinished: j.lastFinished,
			LastError:    j.lastError,
			NextRun:      j.nextRun,
		})
	}
	sort.Slice(statuses, func(i, k int) bool { return statuses[i].Name < statuses[k].Name })
	return statuses
}

// LastResult returns the most recent run result for a job, or nil.
func (s *SchedulerService) LastResult(name string) *RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		return j.lastResult
	}
	return nil
}

func (s *SchedulerService) runCurrentLoop() {
	defer s.wg.Done()

	interval := s.cfg.CurrentIntervalDuration()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.setNextRun(JobCurrentCandles, s.now().Add(interval))

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.setNextRun(JobCurrentCandles, s.now().Add(interval))
			s.tick(JobCurrentCandles)
		}
	}
}

func (s *SchedulerService) runHistoricalLoop() {
	defer s.wg.Done()

	for {
		next := s.nextDailyRun(s.now())
		s.setNextRun(JobHistoricalCandles, next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(JobHistoricalCandles)
		}
	}
}

// tick runs a scheduled firing of a job, skipping it when the previous run
// is still in flight.
func (s *SchedulerService) tick(name string) {
	s.mu.Lock()
	j := s.jobs[name]
	if j.state == JobRunning {
		s.mu.Unlock()
		s.logger.WithField("job", name).Warn("Skipping scheduled run, previous run still in flight")
		return
	}
	s.markStarted(j)
	s.mu.Unlock()

	s.execute(j)
}

// markStarted transitions a job to running. Caller holds s.mu.
func (s *SchedulerService) markStarted(j *job) {
	started := s.now().UTC()
	j.state = JobRunning
	j.lastStarted = &started
	j.lastError = ""
}

func (s *SchedulerService) execute(j *job) {
	result, err := j.run(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	finished := s.now().UTC()
	j.state = JobIdle
	j.runs++
	j.lastFinished = &finished
	j.lastResult = result
	if err != nil {
		j.lastError = err.Error()
		s.logger.WithFields(logrus.Fields{
			"job":   j.name,
			"error": err.Error(),
		}).Error("Scheduled job failed")
	}
}

func (s *SchedulerService) setNextRun(name string, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next = next.UTC()
	s.jobs[name].nextRun = &next
}

// nextDailyRun computes the next occurrence of the configured HH:MM in UTC.
func (s *SchedulerService) nextDailyRun(now time.Time) time.Time {
	at, err := time.Parse("15:04", s.cfg.HistoricalTime)
	if err != nil {
		at, _ = time.Parse("15:04", "00:30")
	}

	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
