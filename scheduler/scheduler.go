package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flipr_ingest/logging"
	"flipr_ingest/models"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const commandPollInterval = 2 * time.Second

// Crawler is the part of the crawl driver the scheduler drives.
type Crawler interface {
	Run(ctx context.Context) error
	RunPass(ctx context.Context) error
	SetPaused(paused bool)
	ResetCity(ctx context.Context, city string)
}

// CommandQueue is the pending command table.
type CommandQueue interface {
	GetPendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64) error
	ParseCommandParams(cmd *models.Command) (*models.CommandParams, error)
}

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

type Scheduler struct {
	cronSpec   string
	runOnStart bool
	crawler    Crawler
	commands   CommandQueue
	backfill   Triggerable
	cron       *cron.Cron
	passMu     sync.Mutex
	poll       time.Duration
	logger     logging.Logger
}

// New builds a scheduler. An empty cronSpec crawls continuously; commands may be nil.
func New(cronSpec string, crawler Crawler, commands CommandQueue, logger logging.Logger) *Scheduler {
	return &Scheduler{
		cronSpec: cronSpec,
		crawler:  crawler,
		commands: commands,
		cron:     cron.New(),
		poll:     commandPollInterval,
		logger:   logger,
	}
}

// SetRunOnStart makes cron mode run one pass immediately instead of waiting for the
// first tick.
func (s *Scheduler) SetRunOnStart(on bool) {
	s.runOnStart = on
}

// SetBackfill registers the walk score worker for the run_backfill command.
func (s *Scheduler) SetBackfill(w Triggerable) {
	s.backfill = w
}

// Run blocks until ctx is cancelled. With a cron expression each tick runs one
// pass over all cities; overlapping ticks are skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.commands != nil {
		go s.pollCommands(ctx)
	}

	if s.cronSpec == "" {
		s.logger.Info("No cron expression, crawling continuously")
		return s.crawler.Run(ctx)
	}

	s.logger.Info("Starting scheduler", zap.String("cron", s.cronSpec))
	if _, err := s.cron.AddFunc(s.cronSpec, func() { s.runPass(ctx) }); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	s.cron.Start()

	if s.runOnStart {
		go func() {
			if err := s.TriggerNow(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Startup pass failed", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	// wait out a startup pass still in flight
	s.passMu.Lock()
	s.passMu.Unlock()
	return nil
}

func (s *Scheduler) runPass(ctx context.Context) {
	if !s.passMu.TryLock() {
		s.logger.Warn("Previous crawl pass still running, skipping tick")
		return
	}
	defer s.passMu.Unlock()

	if err := s.crawler.RunPass(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("Scheduled pass failed", zap.Error(err))
	}
}

// TriggerNow runs one pass immediately, waiting for any pass already running.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	return s.crawler.RunPass(ctx)
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainCommands(ctx)
		}
	}
}

func (s *Scheduler) drainCommands(ctx context.Context) {
	cmds, err := s.commands.GetPendingCommands(ctx)
	if err != nil {
		s.logger.Error("Error getting commands", zap.Error(err))
		return
	}

	for i := range cmds {
		cmd := &cmds[i]
		s.logger.Info("Processing command", zap.String("command", string(cmd.Command)), zap.Int64("id", cmd.ID))
		if err := s.handleCommand(ctx, cmd); err != nil {
			s.logger.Error("Command error", zap.String("command", string(cmd.Command)), zap.Error(err))
		}
		if err := s.commands.MarkCommandProcessed(ctx, cmd.ID); err != nil {
			s.logger.Error("Error marking command processed", zap.Int64("id", cmd.ID), zap.Error(err))
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdPause:
		s.crawler.SetPaused(true)
	case models.CmdResume:
		s.crawler.SetPaused(false)
	case models.CmdResetCity:
		params, err := s.commands.ParseCommandParams(cmd)
		if err != nil {
			return fmt.Errorf("parse params: %w", err)
		}
		if params.City == "" {
			return fmt.Errorf("reset_city: missing city")
		}
		s.crawler.ResetCity(ctx, params.City)
	case models.CmdRunBackfill:
		if s.backfill == nil {
			return fmt.Errorf("run_backfill: no backfill worker configured")
		}
		s.backfill.Trigger()
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
	return nil
}
