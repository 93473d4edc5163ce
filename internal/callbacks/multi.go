// Package callbacks holds the process-wide sinks that receive model events.
package callbacks

import (
	"context"
	"errors"
	"fmt"

	"llmgateway/internal/events"
)

type multi []events.CallbackHandler

// Multi fans every event out to handlers in order. A failing or panicking
// handler does not keep the others from seeing the event; the failures are
// joined into the returned error. Nil handlers are skipped.
func Multi(handlers ...events.CallbackHandler) events.CallbackHandler {
	m := make(multi, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			m = append(m, h)
		}
	}
	return m
}

func (m multi) OnEvent(ctx context.Context, ev events.ModelEventWithDetails) error {
	var errs []error
	for _, h := range m {
		if err := call(ctx, h, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func call(ctx context.Context, h events.CallbackHandler, ev events.ModelEventWithDetails) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback handler %T panicked: %v", h, r)
		}
	}()
	return h.OnEvent(ctx, ev)
}
