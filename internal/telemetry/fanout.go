package telemetry

import (
	"context"
	"errors"

	"live-game-backend/internal/telemetry/domain"
)

type fanout struct {
	emitters []EventEmitter
}

// NewFanout returns an emitter that forwards each event to every non-nil
// emitter, joining any errors. With no emitters it is a no-op.
func NewFanout(emitters ...EventEmitter) EventEmitter {
	out := make([]EventEmitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return &fanout{emitters: out}
}

func (f *fanout) Emit(ctx context.Context, event *domain.LifecycleEvent) error {
	var errs []error
	for _, e := range f.emitters {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
