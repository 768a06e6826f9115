package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/snoutservices/relay/internal/config"
)

// WindowCloser closes assignment windows whose end time has passed.
type WindowCloser interface {
	CloseExpired(ctx context.Context, now time.Time) (int64, error)
}

// QuarantineLifter reactivates numbers whose quarantine cooldown elapsed.
type QuarantineLifter interface {
	LiftQuarantine(ctx context.Context, cooldown time.Duration) (int64, error)
}

// Sweeper runs periodic cleanup: expired windows are closed and quarantined
// numbers return to service after their cooldown.
type Sweeper struct {
	cron     *cron.Cron
	windows  WindowCloser
	numbers  QuarantineLifter
	cooldown time.Duration
	schedule string
	logger   *slog.Logger
}

func NewSweeper(log *slog.Logger, cfg config.MaintenanceConfig, windows WindowCloser, numbers QuarantineLifter) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	schedule := cfg.SweepSchedule
	if schedule == "" {
		schedule = config.DefaultSweepSchedule
	}
	return &Sweeper{
		cron:     cron.New(),
		windows:  windows,
		numbers:  numbers,
		cooldown: time.Duration(cfg.QuarantineCooldownMinutes) * time.Minute,
		schedule: schedule,
		logger:   log.With(slog.String("service", "maintenance")),
	}
}

func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("sweeper started", slog.String("schedule", s.schedule))
	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	closed, err := s.windows.CloseExpired(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("close expired windows failed", slog.Any("error", err))
	} else if closed > 0 {
		s.logger.Info("expired windows closed", slog.Int64("count", closed))
	}

	if s.cooldown > 0 {
		lifted, err := s.numbers.LiftQuarantine(ctx, s.cooldown)
		if err != nil {
			s.logger.Error("lift quarantine failed", slog.Any("error", err))
		} else if lifted > 0 {
			s.logger.Info("quarantined numbers reactivated", slog.Int64("count", lifted))
		}
	}
}
