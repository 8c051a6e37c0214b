// Package jobs runs periodic maintenance work for the lottery service.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/logger"
	"github.com/robfig/cron/v3"
)

const auditTimeout = time.Minute

// Auditor recounts active lotteries. It is satisfied by
// *services.LotteryService.
type Auditor interface {
	AuditInventory(ctx context.Context) (checked int, drifted []string, err error)
}

// printfLogger routes cron's own messages through google/logger.
type printfLogger struct{}

func (printfLogger) Printf(format string, args ...interface{}) {
	logger.Infof("cron: "+format, args...)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	auditor  Auditor
	schedule string
}

// NewScheduler creates a scheduler that audits inventory on schedule. An
// empty schedule disables the audit.
func NewScheduler(auditor Auditor, schedule string) *Scheduler {
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(printfLogger{}))))
	return &Scheduler{
		cron:     c,
		auditor:  auditor,
		schedule: strings.TrimSpace(schedule),
	}
}

// Start registers the audit job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if s.schedule == "" {
		logger.Info("Inventory audit disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.RunAudit); err != nil {
		return fmt.Errorf("schedule inventory audit %q: %w", s.schedule, err)
	}
	logger.Infof("Scheduled inventory audit: %s", s.schedule)
	s.cron.Start()
	return nil
}

// RunAudit performs one inventory audit pass.
func (s *Scheduler) RunAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()

	checked, drifted, err := s.auditor.AuditInventory(ctx)
	if err != nil {
		logger.Errorf("Inventory audit failed: %v", err)
		return
	}
	if len(drifted) > 0 {
		logger.Warningf("Inventory audit: %d of %d active lotteries drifted: %s", len(drifted), checked, strings.Join(drifted, ", "))
		return
	}
	logger.Infof("Inventory audit: %d active lotteries consistent", checked)
}

// Stop stops the scheduler; the returned context is done once running jobs
// finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
