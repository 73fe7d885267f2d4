package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultSweepSchedule runs the sweeper every ten minutes.
const DefaultSweepSchedule = "*/10 * * * *"

// Sweeper periodically drops expired sessions on a cron schedule.
// Reads already ignore expired sessions; sweeping only bounds memory.
type Sweeper struct {
	store Store
	expr  string
	now   func() time.Time
}

func NewSweeper(s Store, expr string) (*Sweeper, error) {
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid sweep schedule %q", expr)
	}
	return &Sweeper{store: s, expr: expr, now: time.Now}, nil
}

// Next returns the first tick strictly after ref.
func (w *Sweeper) Next(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(w.expr, ref, false)
}

// Run sweeps on every tick until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	for {
		next, err := w.Next(w.now())
		if err != nil {
			return fmt.Errorf("next sweep tick: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if n := w.store.Sweep(ctx, w.now()); n > 0 {
			slog.Debug("sessions.swept", "removed", n)
		}
	}
}
