package module

import "sync"

// InterModuleEvent is the generic publish/subscribe mechanism modules use
// to notify each other (§4.5, §9). A value is constructed once per
// (source-module-type, argument-type) pair and shared by every instance of
// that source type; handlers are keyed by the identity of the publishing
// *S pointer, never by value, so two distinct module instances of the same
// type never cross-trigger each other's subscribers. The registry's own
// mutex serializes Register/Deregister/Invoke — deliberately not the
// module's own RecursiveLock, so a handler invoked during Invoke is free
// to enqueue work on its own module without risking the publisher's lock.
type InterModuleEvent[S any, Args any] struct {
	mu       sync.Mutex
	handlers map[*S][]*subscription[Args]
	nextID   uint64
}

type subscription[Args any] struct {
	id      uint64
	handler func(Args)
}

// NewInterModuleEvent constructs an empty event registry for source type S
// and argument type Args.
func NewInterModuleEvent[S any, Args any]() *InterModuleEvent[S, Args] {
	return &InterModuleEvent[S, Args]{handlers: make(map[*S][]*subscription[Args])}
}

// Register subscribes handler to events published by source, returning an
// unregister function. Subscribers should also pass unregister to
// Module.addSubscription (via RegisterOn) so OnDeregisterEvents can clean
// up automatically.
func (e *InterModuleEvent[S, Args]) Register(source *S, handler func(Args)) (unregister func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	sub := &subscription[Args]{id: id, handler: handler}
	e.handlers[source] = append(e.handlers[source], sub)
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		subs := e.handlers[source]
		for i, s := range subs {
			if s.id == id {
				e.handlers[source] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(e.handlers[source]) == 0 {
			delete(e.handlers, source)
		}
	}
}

// RegisterOn is Register plus automatic bookkeeping on subscriber so the
// framework's OnDeregisterEvents tears this subscription down even if the
// subscriber's own OnExit forgets to.
func (e *InterModuleEvent[S, Args]) RegisterOn(source *S, subscriber *Module, handler func(Args)) {
	unregister := e.Register(source, handler)
	subscriber.addSubscription(unregister)
}

// Invoke calls every handler currently registered against source, in
// registration order. Handlers run synchronously on the caller's
// goroutine; a handler that needs to touch its own module's state should
// use MakeAndEnqueueEvent rather than acting directly, to stay on that
// module's worker goroutine.
func (e *InterModuleEvent[S, Args]) Invoke(source *S, args Args) {
	e.mu.Lock()
	subs := make([]*subscription[Args], len(e.handlers[source]))
	copy(subs, e.handlers[source])
	e.mu.Unlock()

	for _, s := range subs {
		s.handler(args)
	}
}
