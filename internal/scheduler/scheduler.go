// Package scheduler implements C10: it runs the pattern miner, relationship
// suggester, and maintenance analyzer on a configurable cadence, immediately
// at startup and then every tick, guarding each principal's cycle against
// overlap with a three-state machine (idle, running, cooling_down).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"adaptivememory/internal/memory"
	"adaptivememory/internal/observability"
)

// State is one job's position in the non-overlap state machine.
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateCoolingDown State = "cooling_down"
)

// LoadProbe reports whether the system is currently under high enough load
// that pattern mining and maintenance should be skipped for a cycle,
// leaving ingest, search, and feedback unaffected. A nil probe means never.
type LoadProbe func() bool

type jobState struct {
	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// Scheduler drives C6, C9, and C8 per principal.
type Scheduler struct {
	miner       *memory.PatternMiner
	suggester   *memory.RelationshipSuggester
	maintenance *memory.MaintenanceAnalyzer
	store       memory.Store
	interval    time.Duration
	autoApply   bool
	probe       LoadProbe

	cronEngine *cron.Cron
	entryID    cron.EntryID

	mu     sync.Mutex
	jobs   map[string]*jobState
	stopCh chan struct{}
}

func New(store memory.Store, miner *memory.PatternMiner, suggester *memory.RelationshipSuggester, maintenance *memory.MaintenanceAnalyzer, interval time.Duration, autoApplyRelationships bool, probe LoadProbe) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		store:       store,
		miner:       miner,
		suggester:   suggester,
		maintenance: maintenance,
		interval:    interval,
		autoApply:   autoApplyRelationships,
		probe:       probe,
		cronEngine:  cron.New(),
		jobs:        make(map[string]*jobState),
		stopCh:      make(chan struct{}),
	}
}

// Start schedules a recurring tick at the configured interval and runs one
// cycle immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := "@every " + s.interval.String()
	id, err := s.cronEngine.AddFunc(spec, func() { s.tick(ctx) })
	if err != nil {
		return err
	}
	s.entryID = id
	s.cronEngine.Start()
	go s.tick(ctx)
	return nil
}

// Stop halts the cron engine; in-flight cycles run to completion (their
// current atomic write is allowed to finish), but no new ticks fire.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.cronEngine.Stop().Done()
}

// Cancel transitions a principal's running job back to idle promptly. The
// in-flight store write the job is in the middle of is allowed to complete;
// the job checks the cancellation only between components.
func (s *Scheduler) Cancel(principalID string) {
	s.mu.Lock()
	job, ok := s.jobs[principalID]
	s.mu.Unlock()
	if !ok {
		return
	}
	job.mu.Lock()
	if job.cancel != nil {
		job.cancel()
	}
	job.mu.Unlock()
}

func (s *Scheduler) tick(ctx context.Context) {
	log := observability.LoggerWithTrace(ctx)
	principals, err := s.store.ListPrincipals(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler_list_principals_failed")
		return
	}
	for _, p := range principals {
		s.runForPrincipal(ctx, p)
	}
}

func (s *Scheduler) runForPrincipal(ctx context.Context, principalID string) {
	s.mu.Lock()
	job, ok := s.jobs[principalID]
	if !ok {
		job = &jobState{state: StateIdle}
		s.jobs[principalID] = job
	}
	s.mu.Unlock()

	job.mu.Lock()
	if job.state != StateIdle {
		job.mu.Unlock()
		return
	}
	jobCtx, cancel := context.WithCancel(ctx)
	job.state = StateRunning
	job.cancel = cancel
	job.mu.Unlock()

	go s.runCycle(jobCtx, cancel, principalID, job)
}

func (s *Scheduler) runCycle(ctx context.Context, cancel context.CancelFunc, principalID string, job *jobState) {
	log := observability.LoggerWithTrace(ctx)
	defer cancel()

	skipMiningAndMaintenance := s.probe != nil && s.probe()

	err := s.runComponents(ctx, principalID, skipMiningAndMaintenance)
	canceled := err == context.Canceled

	job.mu.Lock()
	job.state = StateCoolingDown
	job.cancel = nil
	job.mu.Unlock()

	if err != nil {
		if canceled {
			log.Info().Str("principal_id", principalID).Msg("scheduler_cycle_canceled")
		} else {
			log.Error().Err(err).Str("principal_id", principalID).Msg("scheduler_cycle_failed")
		}
	}

	// A canceled cycle did no useful work to rate-limit against, so it
	// returns to idle immediately instead of waiting out the same cooldown
	// a completed cycle does.
	if !canceled {
		timer := time.NewTimer(s.interval)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.stopCh:
		}
	}

	job.mu.Lock()
	job.state = StateIdle
	job.mu.Unlock()
}

func (s *Scheduler) runComponents(ctx context.Context, principalID string, skipMiningAndMaintenance bool) error {
	if !skipMiningAndMaintenance {
		if _, err := s.miner.Mine(ctx, principalID, time.Time{}); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.suggester.Suggest(ctx, principalID, s.autoApply); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !skipMiningAndMaintenance {
		if _, err := s.maintenance.Analyze(ctx, principalID); err != nil {
			return err
		}
	}
	return nil
}
