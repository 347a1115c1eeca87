package delivery

import (
	"context"
	"errors"

	"meetingalert/internal/engine"
	"meetingalert/internal/types"
)

// Fanout delivers to every sink in order. A failing sink does not stop the
// others; their errors are joined.
type Fanout []engine.Deliverer

var _ engine.Deliverer = Fanout(nil)

func (f Fanout) Deliver(ctx context.Context, alert types.ScheduledAlert) error {
	var errs []error
	for _, d := range f {
		if err := d.Deliver(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) DeliverDowngraded(ctx context.Context, alert types.ScheduledAlert, reason types.AlertDowngradeReason) error {
	var errs []error
	for _, d := range f {
		if err := d.DeliverDowngraded(ctx, alert, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
