package schedulersvc

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/masomo-fees/core"
	"github.com/trezcool/masomo-fees/core/fee"
)

const sweepTimeout = 4 * time.Minute

// OverdueMarker is implemented by fee.Service.
type OverdueMarker interface {
	MarkOverdue(ctx context.Context, asOf time.Time) (fee.OverdueResult, error)
}

// Scheduler runs the periodic fee jobs.
type Scheduler struct {
	cron   *cron.Cron
	fees   OverdueMarker
	logger core.Logger
}

// New schedules the overdue sweep on conf.Fees.OverdueCron, e.g. "@daily" or "0 1 * * *".
// A sweep still running when the next one is due makes the latter skip.
func New(fees OverdueMarker, logger core.Logger, conf *core.Config) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		fees:   fees,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(conf.Fees.OverdueCron, s.sweep); err != nil {
		return nil, errors.Wrapf(err, "scheduling overdue sweep %q", conf.Fees.OverdueCron)
	}
	return s, nil
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.fees.MarkOverdue(ctx, time.Time{}); err != nil {
		s.logger.Error("overdue sweep failed", err)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for a running sweep, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
