package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"propwatch/scrape"
)

// Scheduler triggers pipeline runs on a cron expression. It is a thin
// shell around the orchestrator: when a run fires is decided here, what
// a run does is not.
type Scheduler struct {
	spec string
	orch *scrape.Orchestrator
	cron *cron.Cron
}

func New(spec string, orch *scrape.Orchestrator) *Scheduler {
	return &Scheduler{
		spec: spec,
		orch: orch,
		cron: cron.New(),
	}
}

// Start registers the cron entry and begins firing. Overlapping runs are
// allowed to the extent the cron library allows them; the store keeps
// them idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		result, err := s.orch.Run(ctx)
		if err != nil {
			log.Printf("[scheduler] scheduled run failed: %v", err)
			return
		}
		log.Printf("[scheduler] run %s finished: %s, %d matched", result.Run.ID, result.Run.Status, result.Run.Matched)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", s.spec, err)
	}
	s.cron.Start()
	log.Printf("[scheduler] cron %q armed", s.spec)
	return nil
}

// Stop halts the cron loop. A run already in flight finishes on its own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
