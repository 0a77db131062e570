package bot

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// scheduler fires full index passes at the configured interval. Outside
// production it also kicks off one pass right after start so a fresh deploy
// indexes without waiting hours for the first tick.
type scheduler struct {
	bot  *Bot
	cron *cron.Cron
}

func newScheduler(b *Bot) *scheduler {
	return &scheduler{bot: b}
}

func (s *scheduler) start() error {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %dh", s.bot.Cfg.Indexing.IntervalHours)
	if _, err := s.cron.AddFunc(spec, s.runIndexPass); err != nil {
		return fmt.Errorf("error scheduling index pass: %w", err)
	}
	s.cron.Start()
	s.bot.Log.Info("index scheduler started", zap.String("spec", spec))

	if s.bot.Cfg.Bot.Environment != "production" {
		go s.runIndexPass()
	}
	return nil
}

func (s *scheduler) stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *scheduler) runIndexPass() {
	report := s.bot.Orchestrator.IndexServers(context.Background())
	if failed := report.ServersFailed(); failed > 0 {
		s.bot.Log.Warn("index pass finished with failures",
			zap.String("run_id", report.RunID),
			zap.Int("servers_failed", failed))
	}
}
