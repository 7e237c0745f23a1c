package tasks

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"roomchat/internal/rooms"
)

type Reaper interface {
	Reap(cutoff time.Time) []rooms.Info
}

// RoomSweeper reclaims rooms that have been empty for longer than ttl.
type RoomSweeper struct {
	rooms  Reaper
	ttl    time.Duration
	cron   *cron.Cron
	now    func() time.Time
	logger *slog.Logger
}

func NewRoomSweeper(r Reaper, ttl time.Duration, logger *slog.Logger) *RoomSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomSweeper{
		rooms:  r,
		ttl:    ttl,
		cron:   cron.New(),
		now:    time.Now,
		logger: logger,
	}
}

// Start schedules Sweep with a cron expression such as "@every 1m".
func (s *RoomSweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep() }); err != nil {
		return fmt.Errorf("schedule room sweep %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("room sweeper started", slog.String("schedule", schedule), slog.Duration("ttl", s.ttl))
	return nil
}

// Stop waits for a running sweep to finish.
func (s *RoomSweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *RoomSweeper) Sweep() []rooms.Info {
	reaped := s.rooms.Reap(s.now().Add(-s.ttl))
	for _, r := range reaped {
		s.logger.Info("room reclaimed",
			slog.String("room", r.ID),
			slog.String("name", r.Name),
			slog.Int("messages", r.Messages),
			slog.Time("empty_since", r.EmptySince),
		)
	}
	return reaped
}
