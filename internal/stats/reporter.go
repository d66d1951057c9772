package stats

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/DragonSecurity/gwbridge/pkg/util"
	"github.com/DragonSecurity/gwbridge/pkg/util/xlog"
)

const DefaultInterval = time.Minute

// Reporter logs a snapshot on a fixed wall-clock interval.
type Reporter struct {
	rec      *Recorder
	log      *util.Logger
	interval time.Duration
}

func NewReporter(rec *Recorder, log *util.Logger, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{rec: rec, log: log, interval: interval}
}

// Run blocks until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	c := cron.New(cron.WithLogger(cron.PrintfLogger(log.New(xlog.NewDebugWriter(r.log), "cron: ", 0))))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", r.interval), r.Report); err != nil {
		return fmt.Errorf("schedule stats report: %w", err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (r *Reporter) Report() {
	r.log.Infof("stats: %s", r.rec.Snapshot())
}
