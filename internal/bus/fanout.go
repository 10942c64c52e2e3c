package bus

import (
	"context"
	"errors"

	"github.com/paincake00/dispatchcore/internal/entity"
)

// Publisher получатель событий шины.
type Publisher interface {
	Publish(ctx context.Context, env entity.Envelope, topics ...string) error
}

// Fanout передает событие всем получателям по порядку (локальный хаб, ретранслятор,
// очередь вебхуков). Ошибка одного получателя не мешает остальным.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, env entity.Envelope, topics ...string) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, env, topics...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
