// Package eventbus provides the publish/subscribe boundary between the
// engine and the notification/automation sink.
package eventbus

import (
	"context"

	"github.com/dukex/flowstate/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	GenerateID() string
	Publish(ctx context.Context, key string, event Event) error
	Subscribe(ctx context.Context) error
	Handle(eventType events.EventType, handler EventHandler) error
	Close() error
}
