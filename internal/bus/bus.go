// Package bus is the typed, synchronous message-passing layer of the
// settlement core. Commands are the only way to mutate an aggregate: the
// dispatcher maps each command type to exactly one handler. Aggregate
// mutations publish domain events; subscribers react by dispatching further
// commands, forming chains that terminate when no handler produces another
// command.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
)

// Bus routes commands to handlers and fans events out to subscribers. All
// delivery is synchronous within the calling goroutine, which keeps the
// causal chain (command -> mutation -> events -> follow-up commands)
// observable in tests and lets an event-handler error fail the triggering
// command.
type Bus struct {
	mu       sync.RWMutex
	commands map[reflect.Type]func(context.Context, any) error
	subs     map[reflect.Type][]func(context.Context, any) error
	logger   *slog.Logger
}

// New constructs an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		commands: make(map[reflect.Type]func(context.Context, any) error),
		subs:     make(map[reflect.Type][]func(context.Context, any) error),
		logger:   logger,
	}
}

// Handle registers the single handler for command type C. Registering a
// second handler for the same type panics; commands have exactly one owner.
func Handle[C any](b *Bus, fn func(context.Context, C) error) {
	t := reflect.TypeOf(*new(C))
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.commands[t]; dup {
		panic(fmt.Sprintf("bus: duplicate handler for %s", t))
	}
	b.commands[t] = func(ctx context.Context, msg any) error {
		return fn(ctx, msg.(C))
	}
}

// Subscribe registers an additional subscriber for event type E. Subscribers
// run in registration order.
func Subscribe[E any](b *Bus, fn func(context.Context, E) error) {
	t := reflect.TypeOf(*new(E))
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], func(ctx context.Context, msg any) error {
		return fn(ctx, msg.(E))
	})
}

// Dispatch routes cmd to its registered handler. An unregistered command
// type is an error: silently dropping a mutation is never acceptable.
func (b *Bus) Dispatch(ctx context.Context, cmd any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := reflect.TypeOf(cmd)
	b.mu.RLock()
	handler, ok := b.commands[t]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("bus: no handler registered for command %s", t)
	}
	b.logger.Debug("dispatch command", slog.String("type", t.String()))
	return handler(ctx, cmd)
}

// Publish delivers evt to every subscriber in order. The first subscriber
// error aborts delivery and propagates to the publisher, so a broken chain
// fails the command that started it. Events with no subscribers are valid;
// they simply terminate the chain.
func (b *Bus) Publish(ctx context.Context, evt any) error {
	t := reflect.TypeOf(evt)
	b.mu.RLock()
	subs := b.subs[t]
	b.mu.RUnlock()
	b.logger.Debug("publish event", slog.String("type", t.String()), slog.Int("subscribers", len(subs)))
	for _, sub := range subs {
		if err := sub(ctx, evt); err != nil {
			return fmt.Errorf("bus: subscriber for %s: %w", t, err)
		}
	}
	return nil
}

// PublishAll publishes events in order, stopping at the first error.
func (b *Bus) PublishAll(ctx context.Context, events []any) error {
	for _, evt := range events {
		if err := b.Publish(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}
