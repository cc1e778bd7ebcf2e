// Package scheduler runs the background cache jobs: watchlist warm-up and the
// release-day invalidation of report-sensitive categories.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/marketdata-hub/internal/calendar"
	"github.com/yourorg/marketdata-hub/internal/coordinator"
	"github.com/yourorg/marketdata-hub/internal/model"
)

// Resolver is the part of the coordinator the jobs drive.
type Resolver interface {
	ResolveBatch(ctx context.Context, reqs []coordinator.Request) []coordinator.Result
	InvalidateCategory(category model.Category) int
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	cron       *cron.Cron
	resolver   Resolver
	calendar   *calendar.Calendar
	watchlist  []string
	categories []model.Category
	ctx        context.Context
	now        func() time.Time
}

// New creates a Scheduler. Cron specs are parsed with a leading seconds field.
func New(ctx context.Context, r Resolver, cal *calendar.Calendar, watchlist []string, categories []model.Category) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds(), cron.WithLocation(cal.Location())),
		resolver:   r,
		calendar:   cal,
		watchlist:  watchlist,
		categories: categories,
		ctx:        ctx,
		now:        time.Now,
	}
}

// WithClock replaces the time source used by the release check.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// RegisterAll registers the warm-up and release jobs. An empty spec skips the job.
func (s *Scheduler) RegisterAll(warmupCron, releaseCron string) error {
	if warmupCron != "" {
		if _, err := s.cron.AddFunc(warmupCron, func() { s.Warmup() }); err != nil {
			return fmt.Errorf("register warmup task: %w", err)
		}
	}
	if releaseCron != "" {
		if _, err := s.cron.AddFunc(releaseCron, func() { s.ReleaseCheck() }); err != nil {
			return fmt.Errorf("register release task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	logrus.WithField("jobs", len(s.cron.Entries())).Info("Scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logrus.Info("Scheduler stopped")
}

// Warmup resolves every watchlist symbol in every configured category for
// today and returns how many resolutions came back usable.
func (s *Scheduler) Warmup() int {
	if len(s.watchlist) == 0 || len(s.categories) == 0 {
		return 0
	}
	today := s.now().In(s.calendar.Location())
	reqs := make([]coordinator.Request, 0, len(s.watchlist)*len(s.categories))
	for _, symbol := range s.watchlist {
		for _, c := range s.categories {
			reqs = append(reqs, coordinator.Request{Symbol: symbol, AsOf: today, Category: c})
		}
	}

	ok := 0
	for _, r := range s.resolver.ResolveBatch(s.ctx, reqs) {
		if !r.Unavailable {
			ok++
		}
	}
	logrus.WithFields(logrus.Fields{
		"requests": len(reqs),
		"resolved": ok,
	}).Info("Cache warm-up finished")
	return ok
}

// ReleaseCheck drops cached report-sensitive data once the release hour has
// passed on a report deadline. It returns the number of entries removed.
func (s *Scheduler) ReleaseCheck() int {
	now := s.now()
	if !s.calendar.IsReleaseDay(now, true) {
		return 0
	}
	removed := 0
	for _, c := range model.Categories() {
		if c.ReportSensitive() {
			removed += s.resolver.InvalidateCategory(c)
		}
	}
	deadline := s.calendar.NextDeadline(now.AddDate(0, 0, -1))
	logrus.WithFields(logrus.Fields{
		"quarter": deadline.Quarter,
		"removed": removed,
	}).Info("Report release day, invalidated report-sensitive data")
	return removed
}
