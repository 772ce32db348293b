package tasks

import (
	"log"

	"roomchat/internal/chat"

	"github.com/robfig/cron/v3"
)

const DefaultReportSchedule = "@every 1m"

type StatsSource interface {
	Stats() chat.Stats
}

// StatsReporter periodically logs live room and session counts.
type StatsReporter struct {
	source   StatsSource
	schedule string
	cron     *cron.Cron
	last     chat.Stats
}

func NewStatsReporter(source StatsSource, schedule string) *StatsReporter {
	if schedule == "" {
		schedule = DefaultReportSchedule
	}
	return &StatsReporter{
		source:   source,
		schedule: schedule,
		cron:     cron.New(),
	}
}

func (r *StatsReporter) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, func() { r.Report() }); err != nil {
		log.Printf("[WORKER] Error scheduling cron: %v", err)
		return err
	}
	r.cron.Start()
	log.Printf("[WORKER] Stats reporter scheduled (%s)", r.schedule)
	return nil
}

// Stop waits for a running report to finish.
func (r *StatsReporter) Stop() {
	<-r.cron.Stop().Done()
}

// Report logs one snapshot and returns it. New delivery failures since the
// previous report are logged as a warning.
func (r *StatsReporter) Report() chat.Stats {
	stats := r.source.Stats()
	log.Printf("[WORKER] Live rooms: %d, sessions: %d, failed deliveries: %d", stats.Rooms, stats.Sessions, stats.FailedDeliveries)

	if delta := stats.FailedDeliveries - r.last.FailedDeliveries; delta > 0 {
		log.Printf("[WORKER] WARNING: %d deliveries failed since last report", delta)
	}
	r.last = stats
	return stats
}
