package realtime

import (
	"context"

	"post-mirror/domain/model"
	"post-mirror/domain/repository"
)

// Fanout forwards each signal to every listener in order.
type Fanout []repository.ISignaler

func (f Fanout) Signal(ctx context.Context, sig model.ChangeSignal) {
	for _, s := range f {
		if s != nil {
			s.Signal(ctx, sig)
		}
	}
}
