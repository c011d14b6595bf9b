package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/atende-io/atende/internal/ticket"
)

// Refresher periodically rebuilds the knowledge index from the case
// directory's closed cases, catching anything the per-close hook missed.
type Refresher struct {
	cron   *cron.Cron
	index  *Index
	dir    *ticket.Directory
	logger *slog.Logger
}

// NewRefresher schedules a rebuild on the given cron expression
// (standard 5-field syntax or a predefined schedule like @every 1h).
func NewRefresher(index *Index, dir *ticket.Directory, schedule string, logger *slog.Logger) (*Refresher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Refresher{
		cron:   cron.New(),
		index:  index,
		dir:    dir,
		logger: logger,
	}
	if _, err := r.cron.AddFunc(schedule, r.refresh); err != nil {
		return nil, fmt.Errorf("knowledge refresher: invalid schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins the schedule. Blocks until the context is cancelled.
func (r *Refresher) Start(ctx context.Context) error {
	r.cron.Start()
	r.logger.Info("knowledge refresher started")

	<-ctx.Done()
	r.cron.Stop()
	r.logger.Info("knowledge refresher stopped")
	return ctx.Err()
}

func (r *Refresher) refresh() {
	if err := r.index.RebuildAll(r.dir.ClosedCases()); err != nil {
		r.logger.Error("knowledge rebuild failed", "error", err)
	}
}
