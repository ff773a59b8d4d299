package noop

import (
	"context"

	registryevents "github.com/chirino/messaging-service/internal/registry/events"
)

func init() {
	registryevents.Register(registryevents.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (registryevents.Publisher, error) {
			return Publisher{}, nil
		},
	})
}

// Publisher discards every event.
type Publisher struct{}

func (Publisher) Publish(context.Context, registryevents.MessageEvent) error { return nil }
func (Publisher) Close() error                                               { return nil }

var _ registryevents.Publisher = Publisher{}
